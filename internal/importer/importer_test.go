package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/testutil"
	"github.com/sloppy/hostlink/internal/testutil/dbtest"
)

const fixtureYAML = `
templates:
  - name: Linux by agent
    description: Basic OS checks
    entities:
      - {kind: item, name: CPU load}
      - {kind: trigger, name: Very high CPU load, depends_on: High CPU load}
      - {kind: trigger, name: High CPU load}
  - name: ICMP ping
    entities:
      - {kind: item, name: ICMP ping}
rules:
  - name: Agent discovery
    network_filter: 10.0.0.0/24
    prototypes:
      - name_pattern: "{#HOST}"
        groups: [Discovered hosts]
        templates: [ICMP ping]
        interface: {type: agent, ip: "{#IP}", port: "10050", useip: true}
hosts:
  - host: db-1
    name: Database
    groups: [Linux servers]
    interfaces:
      - {type: agent, ip: 192.168.1.20, port: "10050", useip: true, main: true}
    macros:
      - {macro: "{$PG_PORT}", value: "5432"}
    templates: [Linux by agent, ICMP ping]
`

func TestParseAndImport(t *testing.T) {
	fx, err := Parse(strings.NewReader(fixtureYAML))
	require.NoError(t, err)
	require.Len(t, fx.Templates, 2)
	require.Len(t, fx.Hosts, 1)
	assert.Equal(t, "db-1", fx.Hosts[0].TechnicalName)
	assert.Equal(t, []string{"Linux by agent", "ICMP ping"}, fx.Hosts[0].Templates)

	database := dbtest.OpenDB(t)
	engine := dbtest.NewEngine(t, database)
	ctx := context.Background()

	stats, err := Import(ctx, database, engine, fx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Templates)
	assert.Equal(t, 1, stats.Rules)
	assert.Equal(t, 1, stats.Prototypes)
	assert.Equal(t, 1, stats.Hosts)
	assert.Equal(t, 2, stats.LinkedTemplates)
	require.Len(t, stats.PrototypeIDs, 1)

	h, ok, err := database.GetHostByName(ctx, "db-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Database", h.VisibleName)
	assert.Equal(t, linkage.OriginManual, h.Origin)
	require.Len(t, h.Templates, 2)
	for _, l := range h.Templates {
		assert.Equal(t, linkage.LinkManual, l.Origin)
	}

	entities, err := database.ListEntities(ctx, h.ID)
	require.NoError(t, err)
	assert.Len(t, entities, 4)
	var dependent, target *linkage.Entity
	for i := range entities {
		switch entities[i].Name {
		case "Very high CPU load":
			dependent = &entities[i]
		case "High CPU load":
			target = &entities[i]
		}
	}
	require.NotNil(t, dependent)
	require.NotNil(t, target)
	require.NotNil(t, dependent.DependsOn)
	assert.Equal(t, target.ID, *dependent.DependsOn)

	p, ok, err := database.GetPrototype(ctx, stats.PrototypeIDs[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/24", p.NetworkFilter)
	require.NotNil(t, p.Interface)
	assert.Equal(t, "{#IP}", p.Interface.IP)
}

func TestImportIsIdempotent(t *testing.T) {
	fx, err := Parse(strings.NewReader(fixtureYAML))
	require.NoError(t, err)

	database := dbtest.OpenDB(t)
	engine := dbtest.NewEngine(t, database)
	ctx := context.Background()

	_, err = Import(ctx, database, engine, fx)
	require.NoError(t, err)

	fx.Rules = nil
	stats, err := Import(ctx, database, engine, fx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Templates)
	assert.Equal(t, 2, stats.TemplatesKept)
	assert.Equal(t, 0, stats.Hosts)
	assert.Equal(t, 1, stats.HostsSkipped)
}

func TestImportUnknownTemplate(t *testing.T) {
	database := dbtest.OpenDB(t)
	engine := dbtest.NewEngine(t, database)

	fx := Fixture{Hosts: []HostFixture{{
		HostSpec:  linkage.HostSpec{TechnicalName: "web-1", Groups: []string{"Web"}},
		Templates: []string{"Missing"},
	}}}
	_, err := Import(context.Background(), database, engine, fx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `template "Missing" not found`)
}

func TestImportUnknownEntityKind(t *testing.T) {
	database := dbtest.OpenDB(t)
	engine := dbtest.NewEngine(t, database)

	fx := Fixture{Templates: []linkage.Template{{
		Name:     "Broken",
		Entities: []linkage.EntityDefinition{{Kind: "dashboard", Name: "x"}},
	}}}
	_, err := Import(context.Background(), database, engine, fx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown entity kind "dashboard"`)
}

func TestImportInvalidHostIsRefused(t *testing.T) {
	database := dbtest.OpenDB(t)
	engine := dbtest.NewEngine(t, database)

	fx := Fixture{Hosts: []HostFixture{{HostSpec: linkage.HostSpec{TechnicalName: "no-groups"}}}}
	_, err := Import(context.Background(), database, engine, fx)
	require.ErrorIs(t, err, linkage.ErrInvalidState)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("templates:\n  - name: A\n    items: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items")
}

func TestParseEmpty(t *testing.T) {
	fx, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, fx.Templates)
	assert.Empty(t, fx.Hosts)
}

func TestParseFile(t *testing.T) {
	path := testutil.WriteFile(t, "fixture.yaml", fixtureYAML)
	fx, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, fx.Rules, 1)

	_, err = ParseFile(path + ".missing")
	require.Error(t, err)
}

func TestParseRows(t *testing.T) {
	rows, err := ParseRows(strings.NewReader(`
- {HOST: web-1, ip: 10.0.0.5}
- {"{#HOST}": web-2, "{#IP}": 10.0.0.6}
`))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "web-1", rows[0]["{#HOST}"])
	assert.Equal(t, "10.0.0.5", rows[0]["{#IP}"])
	assert.Equal(t, "web-2", rows[1]["{#HOST}"])

	path := testutil.WriteFile(t, "rows.yaml", "- {HOST: a}\n")
	rows, err = ParseRowsFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a", rows[0]["{#HOST}"])

	rows, err = ParseRows(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// Package dbtest opens migrated test databases and seeds the linked-host
// scenario shared by package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/testutil"
	"github.com/sloppy/hostlink/internal/validate"
)

// Names used by SeedScenario.
const (
	DiscoveredHostName = "Discovered host from prototype 1"
	ManualHostName     = "Manual host"
	TemplateUnlink     = "T1 for unlink"
	TemplateClear      = "T2 for clear"
	TemplateUntouched  = "T3 untouched"
)

// OpenDB opens a migrated database in a temp dir and closes it on cleanup.
func OpenDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(testutil.TempDir(t), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// NewEngine returns an engine over database with the real validator and a
// fixed clock.
func NewEngine(t *testing.T, database *db.DB, opts ...linkage.Option) *linkage.Engine {
	t.Helper()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]linkage.Option{linkage.WithClock(func() time.Time { return now })}, opts...)
	return linkage.NewEngine(database, validate.New(), zap.NewNop(), opts...)
}

// Scenario holds the IDs created by SeedScenario.
type Scenario struct {
	DiscoveredHostID int64
	ManualHostID     int64
	RuleID           int64
	PrototypeID      int64
	T1               int64
	T2               int64
	T3               int64
}

// SeedScenario creates three templates, a discovery rule with a prototype
// listing all three, one host discovered from it and one manual host linked
// to the third template.
func SeedScenario(t *testing.T, database *db.DB, engine *linkage.Engine) Scenario {
	t.Helper()
	ctx := context.Background()
	var s Scenario

	create := func(tmpl linkage.Template) int64 {
		t.Helper()
		created, err := database.CreateTemplate(ctx, tmpl)
		if err != nil {
			t.Fatalf("create template %q: %v", tmpl.Name, err)
		}
		return created.ID
	}
	s.T1 = create(linkage.Template{Name: TemplateUnlink, Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindItem, Name: "T1 item1"},
		{Kind: linkage.KindItem, Name: "T1 item2"},
	}})
	s.T2 = create(linkage.Template{Name: TemplateClear, Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindItem, Name: "T2 item1"},
		{Kind: linkage.KindTrigger, Name: "T2 trigger"},
	}})
	s.T3 = create(linkage.Template{Name: TemplateUntouched, Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindItem, Name: "T3 item1"},
	}})

	rule, err := database.CreateDiscoveryRule(ctx, "Discovery rule 1", "")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	s.RuleID = rule.ID
	proto, err := database.CreatePrototype(ctx, discovery.Prototype{
		RuleID:      rule.ID,
		NamePattern: "{#HOST}",
		Groups:      []string{"Discovered hosts"},
		TemplateIDs: []int64{s.T1, s.T2, s.T3},
		Interface:   &linkage.Interface{Type: "agent", IP: "{#IP}", Port: "10050", UseIP: true},
	})
	if err != nil {
		t.Fatalf("create prototype: %v", err)
	}
	s.PrototypeID = proto.ID

	discovered, err := engine.RegisterDiscoveredHost(ctx, linkage.HostSpec{
		TechnicalName: DiscoveredHostName,
		Groups:        []string{"Discovered hosts"},
		Interfaces:    []linkage.Interface{{Type: "agent", IP: "10.0.0.1", Port: "10050", UseIP: true, Main: true}},
	}, linkage.DiscoveryRef{PrototypeID: proto.ID, RuleID: rule.ID, RuleName: rule.Name}, proto.TemplateIDs)
	if err != nil {
		t.Fatalf("register discovered host: %v", err)
	}
	s.DiscoveredHostID = discovered.ID

	manual, err := engine.CreateHost(ctx, linkage.HostSpec{
		TechnicalName: ManualHostName,
		Groups:        []string{"Linux servers"},
		Interfaces:    []linkage.Interface{{Type: "agent", IP: "192.168.1.10", Port: "10050", UseIP: true, Main: true}},
		Templates:     []int64{s.T3},
	})
	if err != nil {
		t.Fatalf("create manual host: %v", err)
	}
	s.ManualHostID = manual.ID
	return s
}

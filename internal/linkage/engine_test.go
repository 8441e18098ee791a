package linkage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/linkage/linkagetest"
)

type fixture struct {
	store  *linkagetest.Store
	engine *linkage.Engine
	t1     int64
	t2     int64
	t3     int64
	host   *linkage.Host
}

func items(names ...string) []linkage.EntityDefinition {
	defs := make([]linkage.EntityDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, linkage.EntityDefinition{Kind: linkage.KindItem, Name: n})
	}
	return defs
}

func newFixture(t *testing.T, opts ...linkage.Option) *fixture {
	t.Helper()
	store := linkagetest.New()
	f := &fixture{store: store}
	f.t1 = store.AddTemplate(linkage.Template{Name: "T1 for unlink", Entities: items("T1 item1", "T1 item2")})
	f.t2 = store.AddTemplate(linkage.Template{Name: "T2 for clear", Entities: items("T2 item1", "T2 item2")})
	f.t3 = store.AddTemplate(linkage.Template{Name: "T3 untouched", Entities: items("T3 item1")})
	f.engine = linkage.NewEngine(store, nil, zap.NewNop(), opts...)

	h, err := f.engine.RegisterDiscoveredHost(context.Background(), linkage.HostSpec{
		TechnicalName: "Discovered host from prototype 1",
		Groups:        []string{"Discovered hosts"},
	}, linkage.DiscoveryRef{PrototypeID: 1, RuleID: 1, RuleName: "Discovery rule 1"}, []int64{f.t1, f.t2, f.t3})
	require.NoError(t, err)
	f.host = h
	return f
}

func (f *fixture) entityNames(t *testing.T) map[string]*int64 {
	t.Helper()
	out := make(map[string]*int64)
	for _, e := range f.store.Entities(f.host.ID) {
		out[e.Name] = e.SourceTemplateID
	}
	return out
}

func (f *fixture) committedHost(t *testing.T) *linkage.Host {
	t.Helper()
	h, ok := f.store.Host(f.host.ID)
	require.True(t, ok)
	return h
}

func TestRegisterDiscoveredHostInstantiatesTemplates(t *testing.T) {
	f := newFixture(t)

	h := f.committedHost(t)
	assert.Equal(t, linkage.OriginDiscovered, h.Origin)
	assert.Equal(t, []int64{f.t1, f.t2, f.t3}, h.TemplateIDs())
	for _, link := range h.Templates {
		assert.Equal(t, linkage.LinkDiscoveryInherited, link.Origin)
	}
	names := f.entityNames(t)
	require.Len(t, names, 5)
	require.NotNil(t, names["T2 item1"])
	assert.Equal(t, f.t2, *names["T2 item1"])
}

func TestUnlinkKeepsEntitiesUntagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Unlink(ctx, f.host.ID, f.t1, linkage.UnlinkKeep)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Detached)
	assert.Zero(t, res.Deleted)

	assert.False(t, f.committedHost(t).HasTemplate(f.t1))
	names := f.entityNames(t)
	require.Contains(t, names, "T1 item1")
	require.Contains(t, names, "T1 item2")
	assert.Nil(t, names["T1 item1"])
	assert.Nil(t, names["T1 item2"])
}

func TestUnlinkAndClearDeletesEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Unlink(ctx, f.host.ID, f.t2, linkage.UnlinkClear)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Zero(t, res.Detached)

	assert.False(t, f.committedHost(t).HasTemplate(f.t2))
	names := f.entityNames(t)
	assert.NotContains(t, names, "T2 item1")
	assert.NotContains(t, names, "T2 item2")
}

func TestUnlinkTwiceReturnsLinkNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Unlink(ctx, f.host.ID, f.t1, linkage.UnlinkKeep)
	require.NoError(t, err)
	before := f.store.Entities(f.host.ID)
	auditBefore := len(f.store.Audit())

	_, err = f.engine.Unlink(ctx, f.host.ID, f.t1, linkage.UnlinkKeep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, linkage.ErrLinkNotFound))
	assert.Equal(t, linkage.KindLinkNotFound, linkage.KindOf(err))

	assert.Equal(t, before, f.store.Entities(f.host.ID))
	assert.Len(t, f.store.Audit(), auditBefore)
	assert.Equal(t, []int64{f.t2, f.t3}, f.committedHost(t).TemplateIDs())
}

func TestAttachAlreadyLinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.store.Entities(f.host.ID)

	_, err := f.engine.AttachTemplate(ctx, f.host.ID, f.t1)
	require.Error(t, err)
	assert.ErrorIs(t, err, linkage.ErrAlreadyLinked)

	h := f.committedHost(t)
	assert.Len(t, h.Templates, 3)
	assert.Equal(t, before, f.store.Entities(f.host.ID))
}

func TestAttachUnknownTemplate(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.AttachTemplate(context.Background(), f.host.ID, 999)
	assert.ErrorIs(t, err, linkage.ErrTemplateNotFound)
}

func TestUnknownHost(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Unlink(context.Background(), 999, f.t1, linkage.UnlinkKeep)
	assert.ErrorIs(t, err, linkage.ErrHostNotFound)
	_, err = f.engine.GetHost(context.Background(), 999)
	assert.ErrorIs(t, err, linkage.ErrHostNotFound)
}

func TestDiscoveredHostScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Unlink(ctx, f.host.ID, f.t1, linkage.UnlinkKeep)
	require.NoError(t, err)
	_, err = f.engine.Unlink(ctx, f.host.ID, f.t2, linkage.UnlinkClear)
	require.NoError(t, err)

	names := f.entityNames(t)
	assert.Len(t, names, 3)
	assert.Contains(t, names, "T1 item1")
	assert.Contains(t, names, "T1 item2")
	assert.Nil(t, names["T1 item1"])
	assert.Nil(t, names["T1 item2"])
	assert.NotContains(t, names, "T2 item1")
	assert.NotContains(t, names, "T2 item2")
	require.NotNil(t, names["T3 item1"])
	assert.Equal(t, f.t3, *names["T3 item1"])
	assert.Equal(t, []int64{f.t3}, f.committedHost(t).TemplateIDs())
}

func TestUnlinkBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.store.Entities(f.host.ID)
	auditBefore := len(f.store.Audit())

	_, err := f.engine.UnlinkBatch(ctx, f.host.ID, []linkage.UnlinkRequest{
		{TemplateID: f.t1, Mode: linkage.UnlinkKeep},
		{TemplateID: 999, Mode: linkage.UnlinkKeep},
	})
	require.Error(t, err)
	var le *linkage.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, linkage.KindLinkNotFound, le.Kind)
	assert.Equal(t, int64(999), le.TemplateID)

	assert.True(t, f.committedHost(t).HasTemplate(f.t1))
	assert.Equal(t, before, f.store.Entities(f.host.ID))
	assert.Len(t, f.store.Audit(), auditBefore)
}

func TestUnlinkBatchRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.store.Entities(f.host.ID)

	f.store.FailOn = "DeleteEntity"
	_, err := f.engine.UnlinkBatch(ctx, f.host.ID, []linkage.UnlinkRequest{
		{TemplateID: f.t1, Mode: linkage.UnlinkKeep},
		{TemplateID: f.t2, Mode: linkage.UnlinkClear},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, linkagetest.ErrInjected)
	assert.Empty(t, linkage.KindOf(err))

	f.store.FailOn = ""
	assert.Equal(t, []int64{f.t1, f.t2, f.t3}, f.committedHost(t).TemplateIDs())
	assert.Equal(t, before, f.store.Entities(f.host.ID))
}

func TestUnlinkBatchKeepsCallerOrder(t *testing.T) {
	f := newFixture(t)

	results, err := f.engine.UnlinkBatch(context.Background(), f.host.ID, []linkage.UnlinkRequest{
		{TemplateID: f.t2, Mode: linkage.UnlinkClear},
		{TemplateID: f.t1, Mode: linkage.UnlinkKeep},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, f.t2, results[0].TemplateID)
	assert.Equal(t, "unlink_and_clear", results[0].Mode)
	assert.Equal(t, f.t1, results[1].TemplateID)
	assert.Equal(t, "unlink", results[1].Mode)

	audit := f.store.Audit()
	last := audit[len(audit)-2:]
	assert.Equal(t, linkage.ActionUnlinkClear, last[0].Action)
	assert.Equal(t, linkage.ActionUnlink, last[1].Action)
	assert.Equal(t, last[0].OperationID, last[1].OperationID)
}

func TestUnlinkBatchRejectsConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		reqs []linkage.UnlinkRequest
		want string
	}{
		{
			name: "both modes",
			reqs: []linkage.UnlinkRequest{{TemplateID: f.t1, Mode: linkage.UnlinkKeep}, {TemplateID: f.t1, Mode: linkage.UnlinkClear}},
			want: "cannot be specified for both unlink and unlink and clear",
		},
		{
			name: "duplicate",
			reqs: []linkage.UnlinkRequest{{TemplateID: f.t1, Mode: linkage.UnlinkKeep}, {TemplateID: f.t1, Mode: linkage.UnlinkKeep}},
			want: "specified more than once",
		},
		{
			name: "empty",
			reqs: nil,
			want: "no templates",
		},
		{
			name: "bad mode",
			reqs: []linkage.UnlinkRequest{{TemplateID: f.t1}},
			want: "invalid unlink mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.UnlinkBatch(ctx, f.host.ID, tt.reqs)
			require.Error(t, err)
			assert.ErrorIs(t, err, linkage.ErrInvalidState)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Len(t, f.committedHost(t).Templates, 3)
}

func TestUnlinkInheritedLinkCarriesNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Unlink(ctx, f.host.ID, f.t1, linkage.UnlinkKeep)
	require.NoError(t, err)
	assert.Equal(t, linkage.LinkDiscoveryInherited, res.Origin)
	assert.Contains(t, res.Note, "next discovery cycle")

	manual, err := f.engine.CreateHost(ctx, linkage.HostSpec{
		TechnicalName: "manual-1",
		Groups:        []string{"Linux servers"},
		Templates:     []int64{f.t1},
	})
	require.NoError(t, err)
	res, err = f.engine.Unlink(ctx, manual.ID, f.t1, linkage.UnlinkKeep)
	require.NoError(t, err)
	assert.Equal(t, linkage.LinkManual, res.Origin)
	assert.Empty(t, res.Note)
}

func TestUnlinkAndClearRefusedByTriggerDependency(t *testing.T) {
	store := linkagetest.New()
	base := store.AddTemplate(linkage.Template{Name: "Base", Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindTrigger, Name: "Agent unreachable"},
	}})
	app := store.AddTemplate(linkage.Template{Name: "App", Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindTrigger, Name: "App down", DependsOn: "Agent unreachable"},
	}})
	engine := linkage.NewEngine(store, nil, zap.NewNop())
	ctx := context.Background()

	h, err := engine.CreateHost(ctx, linkage.HostSpec{
		TechnicalName: "web-1",
		Groups:        []string{"Linux servers"},
		Templates:     []int64{base, app},
	})
	require.NoError(t, err)

	_, err = engine.Unlink(ctx, h.ID, base, linkage.UnlinkClear)
	require.Error(t, err)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)
	assert.Contains(t, err.Error(), `cannot unlink template "Base" from host "web-1" due to dependency of trigger "App down"`)

	_, err = engine.Unlink(ctx, h.ID, base, linkage.UnlinkKeep)
	require.NoError(t, err)

	h2, err := engine.CreateHost(ctx, linkage.HostSpec{
		TechnicalName: "web-2",
		Groups:        []string{"Linux servers"},
		Templates:     []int64{base, app},
	})
	require.NoError(t, err)
	results, err := engine.UnlinkBatch(ctx, h2.ID, []linkage.UnlinkRequest{
		{TemplateID: base, Mode: linkage.UnlinkClear},
		{TemplateID: app, Mode: linkage.UnlinkClear},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Empty(t, store.Entities(h2.ID))
}

func TestDiscoveredHostCannotBeDeletedDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.DeleteHost(ctx, f.host.ID)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)
	_, ok := f.store.Host(f.host.ID)
	assert.True(t, ok)

	require.NoError(t, f.engine.RemoveDiscoveredHost(ctx, f.host.ID))
	_, ok = f.store.Host(f.host.ID)
	assert.False(t, ok)
	assert.Empty(t, f.store.Entities(f.host.ID))
}

func TestDeleteManualHostCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.engine.CreateHost(ctx, linkage.HostSpec{
		TechnicalName: "db-1",
		Groups:        []string{"Databases"},
		Templates:     []int64{f.t1, f.t2},
	})
	require.NoError(t, err)
	require.Len(t, f.store.Entities(h.ID), 4)

	require.NoError(t, f.engine.DeleteHost(ctx, h.ID))
	_, ok := f.store.Host(h.ID)
	assert.False(t, ok)
	assert.Empty(t, f.store.Entities(h.ID))

	audit := f.store.Audit()
	last := audit[len(audit)-1]
	assert.Equal(t, linkage.ActionDeleteHost, last.Action)
	assert.Equal(t, 4, last.Deleted)

	assert.ErrorIs(t, f.engine.RemoveDiscoveredHost(ctx, f.host.ID+100), linkage.ErrHostNotFound)
}

func TestUpdateHostRespectsPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	name := "renamed"
	_, err := f.engine.UpdateHost(ctx, f.host.ID, linkage.HostUpdate{TechnicalName: &name})
	require.Error(t, err)
	var le *linkage.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, linkage.KindFieldNotEditable, le.Kind)
	assert.Equal(t, linkage.FieldTechnicalName, le.Field)
	assert.Equal(t, "Discovered host from prototype 1", f.committedHost(t).TechnicalName)

	disabled := linkage.StatusDisabled
	desc := "edited by operator"
	h, err := f.engine.UpdateHost(ctx, f.host.ID, linkage.HostUpdate{
		Status:      &disabled,
		Description: &desc,
		Tags:        []linkage.Tag{{Tag: "env", Value: "prod"}},
	})
	require.NoError(t, err)
	assert.Equal(t, linkage.StatusDisabled, h.Status)
	assert.Equal(t, desc, f.committedHost(t).Description)
	assert.Len(t, f.committedHost(t).Templates, 3)

	agent := linkage.Interface{Type: "agent", IP: "10.0.0.7", Port: "10050", UseIP: true, Main: true}
	d1, err := f.engine.RegisterDiscoveredHost(ctx, linkage.HostSpec{
		TechnicalName: "d1",
		VisibleName:   "Database one",
		Groups:        []string{"Discovered hosts"},
		Interfaces:    []linkage.Interface{agent},
	}, linkage.DiscoveryRef{PrototypeID: 1, RuleID: 1}, nil)
	require.NoError(t, err)

	snmp := agent
	snmp.Type = "snmp"
	_, err = f.engine.UpdateHost(ctx, d1.ID, linkage.HostUpdate{Interfaces: []linkage.Interface{snmp}})
	require.True(t, errors.As(err, &le))
	assert.Equal(t, linkage.FieldInterfaceType, le.Field)
	assert.Equal(t, `cannot update "interface_type" for a discovered host "d1"`, err.Error())

	_, err = f.engine.UpdateHost(ctx, d1.ID, linkage.HostUpdate{IPMI: &linkage.IPMI{Username: "admin"}})
	require.True(t, errors.As(err, &le))
	assert.Equal(t, linkage.FieldIPMI, le.Field)

	stored, ok := f.store.Host(d1.ID)
	require.True(t, ok)
	assert.Equal(t, "agent", stored.Interfaces[0].Type)
	assert.Equal(t, "user", stored.IPMI.Privilege)
	assert.Empty(t, stored.IPMI.Username)
}

func TestSyncDiscoveredHostRelinksAfterUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Unlink(ctx, f.host.ID, f.t1, linkage.UnlinkKeep)
	require.NoError(t, err)

	res, err := f.engine.SyncDiscoveredHost(ctx, f.host.ID, f.host.Spec(), []int64{f.t1, f.t2, f.t3})
	require.NoError(t, err)
	assert.Equal(t, []int64{f.t1}, res.Relinked)
	assert.Empty(t, res.Removed)

	h := f.committedHost(t)
	assert.ElementsMatch(t, []int64{f.t1, f.t2, f.t3}, h.TemplateIDs())
	names := f.entityNames(t)
	assert.Len(t, names, 5)
	require.NotNil(t, names["T1 item1"])
	assert.Equal(t, f.t1, *names["T1 item1"])
}

func TestSyncDiscoveredHostFollowsPrototype(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	extra := f.store.AddTemplate(linkage.Template{Name: "Extra", Entities: items("Extra item")})

	_, err := f.engine.AttachTemplate(ctx, f.host.ID, extra)
	require.NoError(t, err)
	link, ok := f.committedHost(t).Link(extra)
	require.True(t, ok)
	assert.Equal(t, linkage.LinkManual, link.Origin)

	res, err := f.engine.SyncDiscoveredHost(ctx, f.host.ID, f.host.Spec(), []int64{f.t1, extra})
	require.NoError(t, err)
	assert.Equal(t, []int64{extra}, res.Converted)
	require.Len(t, res.Removed, 2)
	assert.Equal(t, f.t2, res.Removed[0].TemplateID)
	assert.Equal(t, f.t3, res.Removed[1].TemplateID)

	h := f.committedHost(t)
	assert.Equal(t, []int64{f.t1, extra}, h.TemplateIDs())
	link, _ = h.Link(extra)
	assert.Equal(t, linkage.LinkDiscoveryInherited, link.Origin)
	names := f.entityNames(t)
	assert.NotContains(t, names, "T2 item1")
	assert.NotContains(t, names, "T3 item1")
}

func TestManualLinksSurviveSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	extra := f.store.AddTemplate(linkage.Template{Name: "Extra", Entities: items("Extra item")})

	_, err := f.engine.AttachTemplate(ctx, f.host.ID, extra)
	require.NoError(t, err)

	res, err := f.engine.SyncDiscoveredHost(ctx, f.host.ID, f.host.Spec(), []int64{f.t1, f.t2, f.t3})
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
	link, ok := f.committedHost(t).Link(extra)
	require.True(t, ok)
	assert.Equal(t, linkage.LinkManual, link.Origin)
}

func TestSyncRejectsManualHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.engine.CreateHost(ctx, linkage.HostSpec{TechnicalName: "manual", Groups: []string{"g"}})
	require.NoError(t, err)
	_, err = f.engine.SyncDiscoveredHost(ctx, h.ID, h.Spec(), []int64{f.t1})
	assert.ErrorIs(t, err, linkage.ErrInvalidState)
}

func TestAttachRetagsHostOwnedEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.engine.CreateHost(ctx, linkage.HostSpec{
		TechnicalName: "app-1",
		Groups:        []string{"Apps"},
		Templates:     []int64{f.t1},
	})
	require.NoError(t, err)
	_, err = f.engine.Unlink(ctx, h.ID, f.t1, linkage.UnlinkKeep)
	require.NoError(t, err)

	res, err := f.engine.AttachTemplate(ctx, h.ID, f.t1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retagged)
	assert.Zero(t, res.Created)
	assert.Equal(t, linkage.LinkManual, res.Link.Origin)
	assert.Len(t, f.store.Entities(h.ID), 2)
}

func TestAttachConflictingEntity(t *testing.T) {
	f := newFixture(t)
	clash := f.store.AddTemplate(linkage.Template{Name: "Clash", Entities: items("T1 item1")})

	_, err := f.engine.AttachTemplate(context.Background(), f.host.ID, clash)
	require.Error(t, err)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)
	assert.False(t, f.committedHost(t).HasTemplate(clash))
}

func TestAttachResolvesForwardTriggerDependency(t *testing.T) {
	store := linkagetest.New()
	tmpl := store.AddTemplate(linkage.Template{Name: "T", Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindTrigger, Name: "high", DependsOn: "down"},
		{Kind: linkage.KindItem, Name: "load"},
		{Kind: linkage.KindTrigger, Name: "down"},
	}})
	engine := linkage.NewEngine(store, nil, zap.NewNop())
	ctx := context.Background()

	h, err := engine.CreateHost(ctx, linkage.HostSpec{TechnicalName: "web-1", Groups: []string{"Linux servers"}})
	require.NoError(t, err)
	res, err := engine.AttachTemplate(ctx, h.ID, tmpl)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)

	byName := make(map[string]linkage.Entity)
	for _, e := range store.Entities(h.ID) {
		byName[e.Name] = e
	}
	require.Len(t, byName, 3)
	require.NotNil(t, byName["high"].DependsOn)
	assert.Equal(t, byName["down"].ID, *byName["high"].DependsOn)
	assert.Nil(t, byName["down"].DependsOn)
}

func TestAttachRejectsBrokenTriggerDependencies(t *testing.T) {
	store := linkagetest.New()
	unknown := store.AddTemplate(linkage.Template{Name: "Unknown", Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindTrigger, Name: "high", DependsOn: "missing"},
	}})
	cycle := store.AddTemplate(linkage.Template{Name: "Cycle", Entities: []linkage.EntityDefinition{
		{Kind: linkage.KindTrigger, Name: "a", DependsOn: "b"},
		{Kind: linkage.KindTrigger, Name: "b", DependsOn: "a"},
	}})
	engine := linkage.NewEngine(store, nil, zap.NewNop())
	ctx := context.Background()

	h, err := engine.CreateHost(ctx, linkage.HostSpec{TechnicalName: "web-1", Groups: []string{"Linux servers"}})
	require.NoError(t, err)

	_, err = engine.AttachTemplate(ctx, h.ID, unknown)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)
	assert.Contains(t, err.Error(), `depends on unknown trigger "missing"`)

	_, err = engine.AttachTemplate(ctx, h.ID, cycle)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)
	assert.Contains(t, err.Error(), "dependency cycle")

	assert.Empty(t, store.Entities(h.ID))
	stored, ok := store.Host(h.ID)
	require.True(t, ok)
	assert.Empty(t, stored.Templates)
}

type rejectingValidator struct{ err error }

func (v rejectingValidator) ValidateHost(context.Context, linkage.HostLookup, *linkage.Host) error {
	return v.err
}

func TestValidatorErrorsAreInvalidState(t *testing.T) {
	store := linkagetest.New()
	cause := fmt.Errorf("host name %q is already in use", "dup")
	engine := linkage.NewEngine(store, rejectingValidator{err: cause}, zap.NewNop())

	_, err := engine.CreateHost(context.Background(), linkage.HostSpec{TechnicalName: "dup", Groups: []string{"g"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)
	assert.ErrorIs(t, err, cause)
	_, ok := store.Host(1)
	assert.False(t, ok)
}

type countingRecorder struct {
	ops      map[linkage.Action]int
	failed   int
	detached int
	deleted  int
}

func (r *countingRecorder) ObserveOperation(action linkage.Action, err error, _ time.Duration) {
	r.ops[action]++
	if err != nil {
		r.failed++
	}
}

func (r *countingRecorder) ObserveEntities(_ linkage.Action, detached, deleted int) {
	r.detached += detached
	r.deleted += deleted
}

func TestEngineOptions(t *testing.T) {
	rec := &countingRecorder{ops: make(map[linkage.Action]int)}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	f := newFixture(t,
		linkage.WithRecorder(rec),
		linkage.WithClock(func() time.Time { return fixed }),
		linkage.WithOperationIDs(func() string { n++; return fmt.Sprintf("op-%d", n) }),
	)
	ctx := context.Background()

	_, err := f.engine.UnlinkBatch(ctx, f.host.ID, []linkage.UnlinkRequest{
		{TemplateID: f.t1, Mode: linkage.UnlinkKeep},
		{TemplateID: f.t2, Mode: linkage.UnlinkClear},
	})
	require.NoError(t, err)
	_, err = f.engine.Unlink(ctx, f.host.ID, f.t1, linkage.UnlinkKeep)
	require.Error(t, err)

	assert.Equal(t, 1, rec.ops[linkage.ActionDiscoverHost])
	assert.Equal(t, 1, rec.ops[linkage.ActionUnlinkClear])
	assert.Equal(t, 1, rec.ops[linkage.ActionUnlink])
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, 2, rec.detached)
	assert.Equal(t, 2, rec.deleted)

	audit := f.store.Audit()
	last := audit[len(audit)-1]
	assert.Equal(t, "op-2", last.OperationID)
	assert.Equal(t, fixed, last.At)
	assert.Equal(t, fixed, f.committedHost(t).CreatedAt)
}

func TestParseUnlinkMode(t *testing.T) {
	for in, want := range map[string]linkage.UnlinkMode{
		"unlink":           linkage.UnlinkKeep,
		"keep":             linkage.UnlinkKeep,
		"unlink_and_clear": linkage.UnlinkClear,
		"unlink-and-clear": linkage.UnlinkClear,
		"clear":            linkage.UnlinkClear,
	} {
		got, err := linkage.ParseUnlinkMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := linkage.ParseUnlinkMode("purge")
	assert.Error(t, err)
	assert.Equal(t, "UnlinkMode(7)", linkage.UnlinkMode(7).String())
}

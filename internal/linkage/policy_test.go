package linkage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppy/hostlink/internal/linkage"
)

func discoveredHost() *linkage.Host {
	return &linkage.Host{
		ID:            7,
		TechnicalName: "Discovered host from prototype 1",
		Origin:        linkage.OriginDiscovered,
		Discovery:     &linkage.DiscoveryRef{PrototypeID: 1, RuleID: 1},
	}
}

func manualHost() *linkage.Host {
	return &linkage.Host{ID: 8, TechnicalName: "web-1", Origin: linkage.OriginManual}
}

func TestDiscoveredHostFieldPolicy(t *testing.T) {
	h := discoveredHost()

	assert.False(t, linkage.IsFieldEditable(h, linkage.FieldTechnicalName))
	assert.True(t, linkage.IsFieldEditable(h, linkage.FieldStatus))

	locked := []linkage.Field{
		linkage.FieldTechnicalName, linkage.FieldVisibleName, linkage.FieldGroups,
		linkage.FieldMonitoredBy, linkage.FieldProxy,
		linkage.FieldInterfaceType, linkage.FieldInterfaceIP, linkage.FieldInterfaceDNS, linkage.FieldInterfacePort,
		linkage.FieldInterfaceUseIP, linkage.FieldInterfaceMain,
		linkage.FieldInventoryMode, linkage.FieldIPMI, linkage.FieldEncryption,
	}
	for _, f := range locked {
		assert.False(t, linkage.IsFieldEditable(h, f), f)
	}
	editable := []linkage.Field{
		linkage.FieldStatus, linkage.FieldDescription, linkage.FieldTemplates,
		linkage.FieldTags, linkage.FieldMacros,
	}
	for _, f := range editable {
		assert.True(t, linkage.IsFieldEditable(h, f), f)
	}
	assert.Equal(t, locked, linkage.DefaultPolicy.LockedFields(h))
}

func TestManualHostFieldPolicy(t *testing.T) {
	h := manualHost()
	for _, r := range linkage.DefaultPolicy.Rules() {
		assert.True(t, linkage.IsFieldEditable(h, r.Field), r.Field)
	}
	assert.Empty(t, linkage.DefaultPolicy.LockedFields(h))
}

func TestUnknownFieldIsNotEditable(t *testing.T) {
	assert.False(t, linkage.IsFieldEditable(manualHost(), "colour"))
	assert.False(t, linkage.IsFieldEditable(discoveredHost(), "colour"))

	err := linkage.DefaultPolicy.CheckUpdate(manualHost(), "colour")
	require.Error(t, err)
	assert.ErrorIs(t, err, linkage.ErrFieldNotEditable)
	assert.Contains(t, err.Error(), "unknown host field")
}

func TestCheckUpdate(t *testing.T) {
	h := discoveredHost()

	require.NoError(t, linkage.DefaultPolicy.CheckUpdate(h, linkage.FieldStatus, linkage.FieldDescription))

	err := linkage.DefaultPolicy.CheckUpdate(h, linkage.FieldStatus, linkage.FieldGroups, linkage.FieldTechnicalName)
	require.Error(t, err)
	var le *linkage.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, linkage.FieldGroups, le.Field)
	assert.Equal(t, int64(7), le.HostID)
	assert.Equal(t, `cannot update "groups" for a discovered host "Discovered host from prototype 1"`, err.Error())

	require.NoError(t, linkage.DefaultPolicy.CheckUpdate(manualHost(), linkage.FieldTechnicalName, linkage.FieldGroups))
}

func TestCustomPolicy(t *testing.T) {
	p := linkage.NewPolicy([]linkage.FieldRule{
		{Field: linkage.FieldStatus, LockedWhenDiscovered: true},
		{Field: linkage.FieldDescription},
		{Field: linkage.FieldStatus},
	})

	assert.True(t, p.IsFieldEditable(discoveredHost(), linkage.FieldStatus))
	assert.False(t, p.IsFieldEditable(discoveredHost(), linkage.FieldTechnicalName))
	require.Len(t, p.Rules(), 2)
	assert.Equal(t, linkage.FieldStatus, p.Rules()[0].Field)

	r, ok := linkage.DefaultPolicy.Rule(linkage.FieldTechnicalName)
	require.True(t, ok)
	assert.Equal(t, 128, r.MaxLength)
	assert.Equal(t, linkage.GroupIdentity, r.Group)
}

func TestHostUpdateFields(t *testing.T) {
	h := discoveredHost()
	h.Interfaces = []linkage.Interface{{Type: "agent", IP: "10.0.0.1", Port: "10050", UseIP: true, Main: true}}

	same := linkage.HostUpdate{Interfaces: []linkage.Interface{{Type: "agent", IP: "10.0.0.1", Port: "10050", UseIP: true, Main: true}}}
	assert.Empty(t, same.Fields(h))

	moved := linkage.HostUpdate{Interfaces: []linkage.Interface{{Type: "agent", IP: "10.0.0.2", Port: "10051", UseIP: true, Main: true}}}
	assert.Equal(t, []linkage.Field{linkage.FieldInterfaceIP, linkage.FieldInterfacePort}, moved.Fields(h))

	retyped := linkage.HostUpdate{Interfaces: []linkage.Interface{{Type: "snmp", IP: "10.0.0.1", Port: "10050", UseIP: true, Main: true}}}
	assert.Equal(t, []linkage.Field{linkage.FieldInterfaceType}, retyped.Fields(h))
	require.ErrorIs(t, linkage.DefaultPolicy.CheckUpdate(h, retyped.Fields(h)...), linkage.ErrFieldNotEditable)

	status := linkage.StatusDisabled
	upd := linkage.HostUpdate{Status: &status, Macros: []linkage.Macro{{Macro: "{$A}", Value: "1"}}}
	assert.Equal(t, []linkage.Field{linkage.FieldStatus, linkage.FieldMacros}, upd.Fields(h))

	settings := linkage.HostUpdate{IPMI: &linkage.IPMI{Username: "admin"}, Encryption: &linkage.Encryption{Connect: "cert"}}
	assert.Equal(t, []linkage.Field{linkage.FieldIPMI, linkage.FieldEncryption}, settings.Fields(h))
}

func TestCheckUpdateNamesTechnicalName(t *testing.T) {
	h := discoveredHost()
	h.VisibleName = "Shown in lists"

	err := linkage.DefaultPolicy.CheckUpdate(h, linkage.FieldProxy)
	require.Error(t, err)
	assert.Equal(t, `cannot update "proxy" for a discovered host "Discovered host from prototype 1"`, err.Error())
}

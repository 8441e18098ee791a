package linkage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppy/hostlink/internal/linkage"
)

func TestHostAttachDetach(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h := manualHost()

	link, err := h.Attach(10, linkage.LinkManual, now)
	require.NoError(t, err)
	assert.Equal(t, linkage.LinkKey{HostID: 8, TemplateID: 10}, link.Key())
	assert.Equal(t, now, link.LinkedAt)

	_, err = h.Attach(10, linkage.LinkManual, now)
	assert.ErrorIs(t, err, linkage.ErrAlreadyLinked)
	assert.Len(t, h.Templates, 1)

	_, err = h.Attach(11, linkage.LinkDiscoveryInherited, now)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)

	_, err = h.Attach(12, "bogus", now)
	assert.ErrorIs(t, err, linkage.ErrInvalidState)

	removed, err := h.Detach(10)
	require.NoError(t, err)
	assert.True(t, removed.Equal(link))
	assert.False(t, h.HasTemplate(10))

	_, err = h.Detach(10)
	assert.ErrorIs(t, err, linkage.ErrLinkNotFound)
}

func TestHostReattachAfterDetach(t *testing.T) {
	h := discoveredHost()
	now := time.Now()

	_, err := h.Attach(3, linkage.LinkDiscoveryInherited, now)
	require.NoError(t, err)
	_, err = h.Detach(3)
	require.NoError(t, err)
	_, err = h.Attach(3, linkage.LinkDiscoveryInherited, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, h.TemplateIDs())
}

func TestLinkEqualityIgnoresOrigin(t *testing.T) {
	a := linkage.TemplateLink{HostID: 1, TemplateID: 2, Origin: linkage.LinkManual}
	b := linkage.TemplateLink{HostID: 1, TemplateID: 2, Origin: linkage.LinkDiscoveryInherited, LinkedAt: time.Now()}
	c := linkage.TemplateLink{HostID: 1, TemplateID: 3}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestHostCheckInvariants(t *testing.T) {
	tests := []struct {
		name string
		host linkage.Host
		ok   bool
	}{
		{name: "manual", host: linkage.Host{Origin: linkage.OriginManual}, ok: true},
		{name: "discovered", host: *discoveredHost(), ok: true},
		{name: "manual with prototype", host: linkage.Host{Origin: linkage.OriginManual, Discovery: &linkage.DiscoveryRef{PrototypeID: 1}}},
		{name: "discovered without prototype", host: linkage.Host{Origin: linkage.OriginDiscovered}},
		{name: "unknown origin", host: linkage.Host{Origin: "imported"}},
		{
			name: "inherited link on manual host",
			host: linkage.Host{Origin: linkage.OriginManual, Templates: []linkage.TemplateLink{{TemplateID: 1, Origin: linkage.LinkDiscoveryInherited}}},
		},
		{
			name: "duplicate link",
			host: linkage.Host{Origin: linkage.OriginManual, Templates: []linkage.TemplateLink{{TemplateID: 1, Origin: linkage.LinkManual}, {TemplateID: 1, Origin: linkage.LinkManual}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.host.CheckInvariants()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, linkage.ErrInvalidState)
		})
	}
}

func TestNewHostDefaults(t *testing.T) {
	h := linkage.NewHost(linkage.HostSpec{
		TechnicalName: "db-1",
		Groups:        []string{"Databases"},
		Interfaces: []linkage.Interface{
			{Type: "agent", DNS: "db-1.example.net", Port: "10050"},
			{Type: "snmp", IP: "10.0.0.5", Port: "161", UseIP: true},
		},
	}, linkage.OriginManual, nil, time.Now())

	assert.Equal(t, linkage.StatusEnabled, h.Status)
	assert.Equal(t, linkage.MonitoredByServer, h.MonitoredBy)
	assert.Equal(t, "disabled", h.InventoryMode)
	assert.Equal(t, "db-1", h.Name())
	main, ok := h.MainInterface()
	require.True(t, ok)
	assert.Equal(t, "db-1.example.net", main.Address())
	assert.Equal(t, "10.0.0.5", h.Interfaces[1].Address())

	h.VisibleName = "Primary DB"
	assert.Equal(t, "Primary DB", h.Name())
}

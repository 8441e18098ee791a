package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryFilterExclusionsOverrideIncludes(t *testing.T) {
	m, err := NewMatcher([]string{"10.20.0.0/24", "!10.20.0.50-10.20.0.60", "!10.20.0.5"})
	require.NoError(t, err)

	for ip, want := range map[string]bool{
		"10.20.0.1":   true,
		"10.20.0.49":  true,
		"10.20.0.5":   false,
		"10.20.0.55":  false,
		"10.20.1.200": false,
		"172.16.0.1":  false,
		"web-01":      false,
	} {
		assert.Equal(t, want, m.InScope(ip), "InScope(%s)", ip)
	}
}

func TestParseFilterForms(t *testing.T) {
	m, err := Parse("192.168.1.0/30, 192.168.2.5-7\n2001:db8::1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := len(m.Rules()); got != 3 {
		t.Fatalf("expected 3 rules, got %d", got)
	}

	cases := map[string]bool{
		"192.168.1.0": true,
		"192.168.1.3": true,
		"192.168.1.4": false,
		"192.168.2.4": false,
		"192.168.2.5": true,
		"192.168.2.7": true,
		"192.168.2.8": false,
		"2001:db8::1": true,
		"2001:db8::2": false,
	}
	for ip, want := range cases {
		if got := m.InScope(ip); got != want {
			t.Fatalf("InScope(%s)=%v want %v", ip, got, want)
		}
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	m, err := Parse("  ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !m.InScope("8.8.8.8") {
		t.Fatalf("empty filter should match everything")
	}
}

func TestExcludeOnlyFilter(t *testing.T) {
	m, err := Parse("!10.0.0.0/8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.InScope("10.1.2.3") {
		t.Fatalf("excluded address matched")
	}
	if !m.InScope("172.16.0.1") {
		t.Fatalf("address outside exclusion should match")
	}
}

func TestInvalidEntries(t *testing.T) {
	for _, filter := range []string{"10.0.0.300", "10.0.0.9-3", "10.0.0.1-10.0.0.0", "host.example"} {
		if _, err := Parse(filter); err == nil {
			t.Fatalf("expected error for %q", filter)
		}
	}
}

func TestMappedFilterEntriesMatchIPv4(t *testing.T) {
	m, err := NewMatcher([]string{"::ffff:10.0.0.1", "::ffff:192.168.0.0/120", "::ffff:172.16.0.10-20", "!::ffff:192.168.0.9"})
	require.NoError(t, err)

	for ip, want := range map[string]bool{
		"10.0.0.1":        true,
		"::ffff:10.0.0.1": true,
		"10.0.0.2":        false,
		"192.168.0.200":   true,
		"192.168.0.9":     false,
		"192.168.1.1":     false,
		"172.16.0.15":     true,
		"172.16.0.21":     false,
	} {
		assert.Equal(t, want, m.InScope(ip), "InScope(%s)", ip)
	}
}

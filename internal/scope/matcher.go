// Package scope matches addresses against discovery network filters.
package scope

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Rule is one entry of a network filter.
type Rule struct {
	Definition string
	Type       string // "ip", "cidr" or "range"
	Exclude    bool
	prefix     netip.Prefix
	addr       netip.Addr
	last       netip.Addr
}

func (r Rule) contains(addr netip.Addr) bool {
	switch r.Type {
	case "cidr":
		return r.prefix.Contains(addr)
	case "ip":
		return r.addr == addr
	case "range":
		return addr.BitLen() == r.addr.BitLen() && r.addr.Compare(addr) <= 0 && addr.Compare(r.last) <= 0
	}
	return false
}

type Matcher struct {
	rules []Rule
}

// Parse splits a filter such as "10.0.0.0/24, 192.168.1.1-20, !10.0.0.5" and
// builds a matcher from its entries.
func Parse(filter string) (*Matcher, error) {
	var defs []string
	for _, field := range strings.FieldsFunc(filter, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' ' || r == '\t'
	}) {
		defs = append(defs, field)
	}
	return NewMatcher(defs)
}

// NewMatcher parses definitions. Entries prefixed with "!" exclude addresses.
func NewMatcher(definitions []string) (*Matcher, error) {
	var rules []Rule
	for _, raw := range definitions {
		def := strings.TrimSpace(raw)
		if def == "" {
			continue
		}
		rule := Rule{Definition: def}
		if strings.HasPrefix(def, "!") {
			rule.Exclude = true
			def = strings.TrimSpace(def[1:])
		}

		// Try parsing as CIDR first
		if prefix, err := netip.ParsePrefix(def); err == nil {
			rule.Type = "cidr"
			rule.prefix = unmapPrefix(prefix).Masked()
			rules = append(rules, rule)
			continue
		}

		if addr, err := netip.ParseAddr(def); err == nil {
			rule.Type = "ip"
			rule.addr = addr.Unmap()
			rules = append(rules, rule)
			continue
		}

		if first, last, ok := parseRange(def); ok {
			rule.Type = "range"
			rule.addr = first
			rule.last = last
			rules = append(rules, rule)
			continue
		}

		return nil, fmt.Errorf("invalid network filter entry %q", raw)
	}

	return &Matcher{rules: rules}, nil
}

// parseRange accepts "a.b.c.d-e" and "a.b.c.d-w.x.y.z".
func parseRange(def string) (netip.Addr, netip.Addr, bool) {
	from, to, found := strings.Cut(def, "-")
	if !found {
		return netip.Addr{}, netip.Addr{}, false
	}
	first, err := netip.ParseAddr(from)
	first = first.Unmap()
	if err != nil || !first.Is4() {
		return netip.Addr{}, netip.Addr{}, false
	}
	if last, err := netip.ParseAddr(to); err == nil {
		last = last.Unmap()
		if !last.Is4() || last.Less(first) {
			return netip.Addr{}, netip.Addr{}, false
		}
		return first, last, true
	}
	end, err := strconv.Atoi(to)
	if err != nil || end < 0 || end > 255 {
		return netip.Addr{}, netip.Addr{}, false
	}
	octets := first.As4()
	if end < int(octets[3]) {
		return netip.Addr{}, netip.Addr{}, false
	}
	octets[3] = byte(end)
	return first, netip.AddrFrom4(octets), true
}

// unmapPrefix turns an IPv4-mapped IPv6 prefix into its IPv4 form so it
// matches the unmapped addresses InScope compares against.
func unmapPrefix(p netip.Prefix) netip.Prefix {
	if !p.Addr().Is4In6() || p.Bits() < 96 {
		return p
	}
	return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
}

// Rules returns the parsed entries.
func (m *Matcher) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// InScope reports whether ip passes the filter. An empty filter passes
// everything; exclusions win over inclusions.
func (m *Matcher) InScope(ip string) bool {
	if len(m.rules) == 0 {
		// No rules defined = everything in scope
		return true
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	included := false
	hasInclude := false
	for _, rule := range m.rules {
		if rule.Exclude {
			if rule.contains(addr) {
				return false
			}
			continue
		}
		hasInclude = true
		if rule.contains(addr) {
			included = true
		}
	}
	return included || !hasInclude
}

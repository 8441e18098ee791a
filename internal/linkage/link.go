package linkage

import "time"

// LinkOrigin records who created a template link.
type LinkOrigin string

const (
	LinkManual             LinkOrigin = "manual"
	LinkDiscoveryInherited LinkOrigin = "discovery"
)

// Valid reports whether o is a known origin.
func (o LinkOrigin) Valid() bool {
	return o == LinkManual || o == LinkDiscoveryInherited
}

// LinkKey identifies a link.
type LinkKey struct {
	HostID     int64
	TemplateID int64
}

// TemplateLink associates one template with one host.
type TemplateLink struct {
	HostID     int64      `json:"host_id"`
	TemplateID int64      `json:"template_id"`
	Origin     LinkOrigin `json:"origin"`
	LinkedAt   time.Time  `json:"linked_at"`
}

// Key returns the composite identity of the link.
func (l TemplateLink) Key() LinkKey {
	return LinkKey{HostID: l.HostID, TemplateID: l.TemplateID}
}

// Equal compares links by identity only.
func (l TemplateLink) Equal(other TemplateLink) bool {
	return l.Key() == other.Key()
}

package linkage

// EntityKind is the type of a dependent entity.
type EntityKind string

const (
	KindItem          EntityKind = "item"
	KindTrigger       EntityKind = "trigger"
	KindGraph         EntityKind = "graph"
	KindDiscoveryRule EntityKind = "discovery_rule"
	KindWebScenario   EntityKind = "web_scenario"
)

// EntityKinds lists every dependent kind affected by template removal.
var EntityKinds = []EntityKind{KindItem, KindTrigger, KindGraph, KindDiscoveryRule, KindWebScenario}

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	for _, known := range EntityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Entity is an item, trigger, graph, discovery rule or web scenario on a host.
type Entity struct {
	ID               int64      `json:"id"`
	HostID           int64      `json:"host_id"`
	Kind             EntityKind `json:"kind"`
	Name             string     `json:"name"`
	SourceTemplateID *int64     `json:"source_template_id"`
	DependsOn        *int64     `json:"depends_on,omitempty"`
}

// Templated reports whether the entity still belongs to a template.
func (e Entity) Templated() bool {
	return e.SourceTemplateID != nil
}

// FromTemplate reports whether the entity is tagged with templateID.
func (e Entity) FromTemplate(templateID int64) bool {
	return e.SourceTemplateID != nil && *e.SourceTemplateID == templateID
}

// EntityDefinition describes an entity a template creates on linked hosts.
// DependsOn names another trigger of the same template.
type EntityDefinition struct {
	Kind      EntityKind `json:"kind" yaml:"kind"`
	Name      string     `json:"name" yaml:"name"`
	DependsOn string     `json:"depends_on,omitempty" yaml:"depends_on"`
}

// Template is a reusable bundle of entity definitions.
type Template struct {
	ID          int64              `json:"id" yaml:"-"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	Entities    []EntityDefinition `json:"entities" yaml:"entities"`
}

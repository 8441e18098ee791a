package linkage

import "fmt"

// Field names a host attribute that the edit surface can change.
type Field string

const (
	FieldTechnicalName  Field = "technical_name"
	FieldVisibleName    Field = "visible_name"
	FieldGroups         Field = "groups"
	FieldStatus         Field = "status"
	FieldDescription    Field = "description"
	FieldMonitoredBy    Field = "monitored_by"
	FieldProxy          Field = "proxy"
	FieldInterfaceType  Field = "interface_type"
	FieldInterfaceIP    Field = "interface_ip"
	FieldInterfaceDNS   Field = "interface_dns"
	FieldInterfacePort  Field = "interface_port"
	FieldInterfaceUseIP Field = "interface_useip"
	FieldInterfaceMain  Field = "interface_main"
	FieldTemplates      Field = "templates"
	FieldTags           Field = "tags"
	FieldMacros         Field = "macros"
	FieldInventoryMode  Field = "inventory_mode"
	FieldIPMI           Field = "ipmi"
	FieldEncryption     Field = "encryption"
)

// FieldGroup clusters fields the way the host form lays them out.
type FieldGroup string

const (
	GroupIdentity   FieldGroup = "identity"
	GroupMonitoring FieldGroup = "monitoring"
	GroupInterfaces FieldGroup = "interfaces"
	GroupTemplates  FieldGroup = "templates"
	GroupTags       FieldGroup = "tags"
	GroupMacros     FieldGroup = "macros"
	GroupInventory  FieldGroup = "inventory"
	GroupIPMI       FieldGroup = "ipmi"
	GroupEncryption FieldGroup = "encryption"
)

// ValueKind is the type of value a field holds.
type ValueKind string

const (
	ValueString ValueKind = "string"
	ValueEnum   ValueKind = "enum"
	ValueBool   ValueKind = "bool"
	ValueList   ValueKind = "list"
	ValueObject ValueKind = "object"
)

// FieldRule describes one editable host field. Constraint is a validator tag
// applied to the field value by internal/validate.
type FieldRule struct {
	Field                Field
	Label                string
	Group                FieldGroup
	Kind                 ValueKind
	Optional             bool
	MaxLength            int
	Constraint           string
	LockedWhenDiscovered bool
}

// DefaultFieldRules is the host form field table.
var DefaultFieldRules = []FieldRule{
	{Field: FieldTechnicalName, Label: "Host name", Group: GroupIdentity, Kind: ValueString, MaxLength: 128, Constraint: "required,max=128,technicalname", LockedWhenDiscovered: true},
	{Field: FieldVisibleName, Label: "Visible name", Group: GroupIdentity, Kind: ValueString, Optional: true, MaxLength: 128, Constraint: "max=128", LockedWhenDiscovered: true},
	{Field: FieldGroups, Label: "Groups", Group: GroupIdentity, Kind: ValueList, Constraint: "required,min=1", LockedWhenDiscovered: true},
	{Field: FieldStatus, Label: "Enabled", Group: GroupMonitoring, Kind: ValueEnum, Constraint: "oneof=enabled disabled"},
	{Field: FieldDescription, Label: "Description", Group: GroupMonitoring, Kind: ValueString, Optional: true, MaxLength: 65535, Constraint: "max=65535"},
	{Field: FieldMonitoredBy, Label: "Monitored by", Group: GroupMonitoring, Kind: ValueEnum, Constraint: "oneof=server proxy", LockedWhenDiscovered: true},
	{Field: FieldProxy, Label: "Proxy", Group: GroupMonitoring, Kind: ValueString, Optional: true, MaxLength: 128, Constraint: "max=128", LockedWhenDiscovered: true},
	{Field: FieldInterfaceType, Label: "Interface type", Group: GroupInterfaces, Kind: ValueEnum, Constraint: "oneof=agent snmp ipmi jmx", LockedWhenDiscovered: true},
	{Field: FieldInterfaceIP, Label: "IP address", Group: GroupInterfaces, Kind: ValueString, Optional: true, MaxLength: 64, Constraint: "omitempty,ip,max=64", LockedWhenDiscovered: true},
	{Field: FieldInterfaceDNS, Label: "DNS name", Group: GroupInterfaces, Kind: ValueString, Optional: true, MaxLength: 255, Constraint: "max=255", LockedWhenDiscovered: true},
	{Field: FieldInterfacePort, Label: "Port", Group: GroupInterfaces, Kind: ValueString, MaxLength: 64, Constraint: "required,max=64", LockedWhenDiscovered: true},
	{Field: FieldInterfaceUseIP, Label: "Connect to", Group: GroupInterfaces, Kind: ValueBool, LockedWhenDiscovered: true},
	{Field: FieldInterfaceMain, Label: "Default", Group: GroupInterfaces, Kind: ValueBool, LockedWhenDiscovered: true},
	{Field: FieldTemplates, Label: "Templates", Group: GroupTemplates, Kind: ValueList, Optional: true},
	{Field: FieldTags, Label: "Tags", Group: GroupTags, Kind: ValueList, Optional: true},
	{Field: FieldMacros, Label: "Macros", Group: GroupMacros, Kind: ValueList, Optional: true},
	{Field: FieldInventoryMode, Label: "Inventory mode", Group: GroupInventory, Kind: ValueEnum, Constraint: "oneof=disabled manual automatic", LockedWhenDiscovered: true},
	{Field: FieldIPMI, Label: "IPMI", Group: GroupIPMI, Kind: ValueObject, Optional: true, LockedWhenDiscovered: true},
	{Field: FieldEncryption, Label: "Encryption", Group: GroupEncryption, Kind: ValueObject, Optional: true, LockedWhenDiscovered: true},
}

// Policy decides which host fields the edit surface may change.
type Policy struct {
	rules map[Field]FieldRule
	order []Field
}

// NewPolicy builds a policy from a field table. Later rules for the same field
// replace earlier ones.
func NewPolicy(rules []FieldRule) *Policy {
	p := &Policy{rules: make(map[Field]FieldRule, len(rules))}
	for _, r := range rules {
		if _, ok := p.rules[r.Field]; !ok {
			p.order = append(p.order, r.Field)
		}
		p.rules[r.Field] = r
	}
	return p
}

// DefaultPolicy is built from DefaultFieldRules.
var DefaultPolicy = NewPolicy(DefaultFieldRules)

// Rule returns the rule for f.
func (p *Policy) Rule(f Field) (FieldRule, bool) {
	r, ok := p.rules[f]
	return r, ok
}

// Rules returns every rule in table order.
func (p *Policy) Rules() []FieldRule {
	out := make([]FieldRule, 0, len(p.order))
	for _, f := range p.order {
		out = append(out, p.rules[f])
	}
	return out
}

// IsFieldEditable reports whether f may be changed on h. Unknown fields are
// never editable.
func (p *Policy) IsFieldEditable(h *Host, f Field) bool {
	r, ok := p.rules[f]
	if !ok {
		return false
	}
	if h.IsDiscovered() {
		return !r.LockedWhenDiscovered
	}
	return true
}

// LockedFields returns the fields that cannot be changed on h.
func (p *Policy) LockedFields(h *Host) []Field {
	var out []Field
	for _, f := range p.order {
		if !p.IsFieldEditable(h, f) {
			out = append(out, f)
		}
	}
	return out
}

// CheckUpdate returns a FieldNotEditable error for the first field in fields
// that h does not allow to change.
func (p *Policy) CheckUpdate(h *Host, fields ...Field) error {
	for _, f := range fields {
		if p.IsFieldEditable(h, f) {
			continue
		}
		msg := fmt.Sprintf("cannot update %q for a discovered host %q", f, h.TechnicalName)
		if _, known := p.rules[f]; !known {
			msg = fmt.Sprintf("unknown host field %q", f)
		}
		return &Error{
			Kind:    KindFieldNotEditable,
			HostID:  h.ID,
			Field:   f,
			Message: msg,
		}
	}
	return nil
}

// IsFieldEditable applies DefaultPolicy.
func IsFieldEditable(h *Host, f Field) bool {
	return DefaultPolicy.IsFieldEditable(h, f)
}

package linkage

import "time"

// Origin tells whether a host was created by an operator or by discovery.
type Origin string

const (
	OriginManual     Origin = "manual"
	OriginDiscovered Origin = "discovered"
)

// Status is the monitoring status of a host.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
)

// MonitoredBy names what polls the host.
type MonitoredBy string

const (
	MonitoredByServer MonitoredBy = "server"
	MonitoredByProxy  MonitoredBy = "proxy"
)

// DiscoveryRef points at the prototype and rule that created a discovered
// host. It is owned by the discovery subsystem.
type DiscoveryRef struct {
	PrototypeID int64  `json:"prototype_id"`
	RuleID      int64  `json:"rule_id"`
	RuleName    string `json:"rule_name,omitempty"`
}

// Interface is an agent/SNMP/IPMI/JMX endpoint of a host.
type Interface struct {
	ID    int64  `json:"id,omitempty"`
	Type  string `json:"type" yaml:"type" validate:"omitempty,oneof=agent snmp ipmi jmx"`
	IP    string `json:"ip" yaml:"ip" validate:"omitempty,ip,max=64"`
	DNS   string `json:"dns" yaml:"dns" validate:"max=255"`
	Port  string `json:"port" yaml:"port" validate:"required,max=64"`
	UseIP bool   `json:"useip" yaml:"useip"`
	Main  bool   `json:"main" yaml:"main"`
}

// Address returns the address the interface is polled on.
func (i Interface) Address() string {
	if i.UseIP {
		return i.IP
	}
	return i.DNS
}

// Tag is a free-form host tag.
type Tag struct {
	Tag   string `json:"tag" yaml:"tag" validate:"required,max=255"`
	Value string `json:"value" yaml:"value" validate:"max=255"`
}

// Macro is a host-level user macro.
type Macro struct {
	Macro       string `json:"macro" yaml:"macro" validate:"required,usermacro"`
	Value       string `json:"value" yaml:"value" validate:"max=2048"`
	Description string `json:"description,omitempty" yaml:"description" validate:"max=65535"`
}

// IPMI holds the BMC credentials used by IPMI checks.
type IPMI struct {
	AuthType  string `json:"authtype" yaml:"authtype" validate:"omitempty,oneof=default none md2 md5 straight oem rmcp+"`
	Privilege string `json:"privilege" yaml:"privilege" validate:"omitempty,oneof=callback user operator admin oem"`
	Username  string `json:"username" yaml:"username" validate:"max=16"`
	Password  string `json:"password,omitempty" yaml:"password" validate:"max=20"`
}

// Encryption holds the TLS settings for connections to and from the agent.
type Encryption struct {
	Connect     string `json:"connect" yaml:"connect" validate:"omitempty,oneof=none psk cert"`
	Accept      string `json:"accept" yaml:"accept" validate:"omitempty,oneof=none psk cert"`
	PSKIdentity string `json:"psk_identity,omitempty" yaml:"psk_identity" validate:"required_if=Connect psk,max=128"`
}

// Host is the aggregate root for template linkage.
type Host struct {
	ID            int64          `json:"id"`
	TechnicalName string         `json:"technical_name"`
	VisibleName   string         `json:"visible_name"`
	Origin        Origin         `json:"origin"`
	Discovery     *DiscoveryRef  `json:"discovery,omitempty"`
	Status        Status         `json:"status"`
	Description   string         `json:"description"`
	Groups        []string       `json:"groups"`
	MonitoredBy   MonitoredBy    `json:"monitored_by"`
	Proxy         string         `json:"proxy,omitempty"`
	Interfaces    []Interface    `json:"interfaces"`
	Tags          []Tag          `json:"tags"`
	Macros        []Macro        `json:"macros"`
	InventoryMode string         `json:"inventory_mode"`
	IPMI          IPMI           `json:"ipmi"`
	Encryption    Encryption     `json:"encryption"`
	Templates     []TemplateLink `json:"templates"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsDiscovered reports whether the host was created from a host prototype.
func (h *Host) IsDiscovered() bool {
	return h.Origin == OriginDiscovered
}

// Name returns the visible name, falling back to the technical name.
func (h *Host) Name() string {
	if h.VisibleName != "" {
		return h.VisibleName
	}
	return h.TechnicalName
}

// Link returns the link for templateID if present.
func (h *Host) Link(templateID int64) (TemplateLink, bool) {
	for _, link := range h.Templates {
		if link.TemplateID == templateID {
			return link, true
		}
	}
	return TemplateLink{}, false
}

// HasTemplate reports whether templateID is linked.
func (h *Host) HasTemplate(templateID int64) bool {
	_, ok := h.Link(templateID)
	return ok
}

// TemplateIDs returns linked template IDs in link order.
func (h *Host) TemplateIDs() []int64 {
	ids := make([]int64, 0, len(h.Templates))
	for _, link := range h.Templates {
		ids = append(ids, link.TemplateID)
	}
	return ids
}

// MainInterface returns the default interface, if any.
func (h *Host) MainInterface() (Interface, bool) {
	for _, iface := range h.Interfaces {
		if iface.Main {
			return iface, true
		}
	}
	if len(h.Interfaces) > 0 {
		return h.Interfaces[0], true
	}
	return Interface{}, false
}

// Attach adds a link to the aggregate. It does not persist anything.
func (h *Host) Attach(templateID int64, origin LinkOrigin, now time.Time) (TemplateLink, error) {
	if !origin.Valid() {
		return TemplateLink{}, invalidState(h.ID, "unknown link origin %q", origin)
	}
	if h.HasTemplate(templateID) {
		return TemplateLink{}, alreadyLinked(h, templateID)
	}
	if origin == LinkDiscoveryInherited && !h.IsDiscovered() {
		return TemplateLink{}, invalidState(h.ID,
			"template %d cannot be linked by discovery to host %q: host was not discovered", templateID, h.TechnicalName)
	}
	link := TemplateLink{HostID: h.ID, TemplateID: templateID, Origin: origin, LinkedAt: now}
	h.Templates = append(h.Templates, link)
	return link, nil
}

// Detach removes a link from the aggregate and returns it.
func (h *Host) Detach(templateID int64) (TemplateLink, error) {
	for i, link := range h.Templates {
		if link.TemplateID == templateID {
			h.Templates = append(h.Templates[:i:i], h.Templates[i+1:]...)
			return link, nil
		}
	}
	return TemplateLink{}, linkNotFound(h, templateID)
}

// CheckInvariants verifies provenance and link rules of the aggregate.
func (h *Host) CheckInvariants() error {
	switch h.Origin {
	case OriginManual:
		if h.Discovery != nil {
			return invalidState(h.ID, "manual host %q cannot reference a host prototype", h.TechnicalName)
		}
	case OriginDiscovered:
		if h.Discovery == nil {
			return invalidState(h.ID, "discovered host %q has no host prototype", h.TechnicalName)
		}
	default:
		return invalidState(h.ID, "host %q has unknown origin %q", h.TechnicalName, h.Origin)
	}

	seen := make(map[int64]struct{}, len(h.Templates))
	for _, link := range h.Templates {
		if _, dup := seen[link.TemplateID]; dup {
			return invalidState(h.ID, "template %d is linked twice to host %q", link.TemplateID, h.TechnicalName)
		}
		seen[link.TemplateID] = struct{}{}
		if link.Origin == LinkDiscoveryInherited && !h.IsDiscovered() {
			return invalidState(h.ID, "template %d has a discovery link on manual host %q", link.TemplateID, h.TechnicalName)
		}
	}
	return nil
}

// HostSpec is the input for creating a host.
type HostSpec struct {
	TechnicalName string      `json:"technical_name" yaml:"host" validate:"required,max=128,technicalname"`
	VisibleName   string      `json:"visible_name" yaml:"name" validate:"max=128"`
	Groups        []string    `json:"groups" yaml:"groups" validate:"required,min=1,dive,required,max=255"`
	Status        Status      `json:"status" yaml:"status" validate:"omitempty,oneof=enabled disabled"`
	Description   string      `json:"description" yaml:"description" validate:"max=65535"`
	MonitoredBy   MonitoredBy `json:"monitored_by" yaml:"monitored_by" validate:"omitempty,oneof=server proxy"`
	Proxy         string      `json:"proxy" yaml:"proxy" validate:"required_if=MonitoredBy proxy,max=128"`
	Interfaces    []Interface `json:"interfaces" yaml:"interfaces" validate:"dive"`
	Tags          []Tag       `json:"tags" yaml:"tags" validate:"dive"`
	Macros        []Macro     `json:"macros" yaml:"macros" validate:"dive"`
	InventoryMode string      `json:"inventory_mode" yaml:"inventory_mode" validate:"omitempty,oneof=disabled manual automatic"`
	IPMI          IPMI        `json:"ipmi" yaml:"ipmi"`
	Encryption    Encryption  `json:"encryption" yaml:"encryption"`
	Templates     []int64     `json:"templates" yaml:"-"`
}

// NewHost builds an unsaved host from a spec.
func NewHost(spec HostSpec, origin Origin, ref *DiscoveryRef, now time.Time) *Host {
	h := &Host{
		TechnicalName: spec.TechnicalName,
		VisibleName:   spec.VisibleName,
		Origin:        origin,
		Discovery:     ref,
		Status:        spec.Status,
		Description:   spec.Description,
		Groups:        append([]string(nil), spec.Groups...),
		MonitoredBy:   spec.MonitoredBy,
		Proxy:         spec.Proxy,
		Interfaces:    append([]Interface(nil), spec.Interfaces...),
		Tags:          append([]Tag(nil), spec.Tags...),
		Macros:        append([]Macro(nil), spec.Macros...),
		InventoryMode: spec.InventoryMode,
		IPMI:          spec.IPMI,
		Encryption:    spec.Encryption,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if h.Status == "" {
		h.Status = StatusEnabled
	}
	if h.MonitoredBy == "" {
		h.MonitoredBy = MonitoredByServer
	}
	if h.InventoryMode == "" {
		h.InventoryMode = "disabled"
	}
	h.IPMI.setDefaults()
	h.Encryption.setDefaults()
	if len(h.Interfaces) > 0 {
		hasMain := false
		for _, iface := range h.Interfaces {
			if iface.Main {
				hasMain = true
				break
			}
		}
		if !hasMain {
			h.Interfaces[0].Main = true
		}
	}
	return h
}

// Spec returns the creation spec matching the host's current values.
func (h *Host) Spec() HostSpec {
	return HostSpec{
		TechnicalName: h.TechnicalName,
		VisibleName:   h.VisibleName,
		Groups:        h.Groups,
		Status:        h.Status,
		Description:   h.Description,
		MonitoredBy:   h.MonitoredBy,
		Proxy:         h.Proxy,
		Interfaces:    h.Interfaces,
		Tags:          h.Tags,
		Macros:        h.Macros,
		InventoryMode: h.InventoryMode,
		IPMI:          h.IPMI,
		Encryption:    h.Encryption,
	}
}

func (i *IPMI) setDefaults() {
	if i.AuthType == "" {
		i.AuthType = "default"
	}
	if i.Privilege == "" {
		i.Privilege = "user"
	}
}

func (e *Encryption) setDefaults() {
	if e.Connect == "" {
		e.Connect = "none"
	}
	if e.Accept == "" {
		e.Accept = "none"
	}
}

// HostUpdate is a partial update; nil fields are left unchanged.
type HostUpdate struct {
	TechnicalName *string      `json:"technical_name,omitempty"`
	VisibleName   *string      `json:"visible_name,omitempty"`
	Groups        []string     `json:"groups,omitempty"`
	Status        *Status      `json:"status,omitempty"`
	Description   *string      `json:"description,omitempty"`
	MonitoredBy   *MonitoredBy `json:"monitored_by,omitempty"`
	Proxy         *string      `json:"proxy,omitempty"`
	Interfaces    []Interface  `json:"interfaces,omitempty"`
	Tags          []Tag        `json:"tags,omitempty"`
	Macros        []Macro      `json:"macros,omitempty"`
	InventoryMode *string      `json:"inventory_mode,omitempty"`
	IPMI          *IPMI        `json:"ipmi,omitempty"`
	Encryption    *Encryption  `json:"encryption,omitempty"`
}

// Fields lists the policy fields touched by the update, in table order.
func (u HostUpdate) Fields(current *Host) []Field {
	var fields []Field
	if u.TechnicalName != nil {
		fields = append(fields, FieldTechnicalName)
	}
	if u.VisibleName != nil {
		fields = append(fields, FieldVisibleName)
	}
	if u.Groups != nil {
		fields = append(fields, FieldGroups)
	}
	if u.Status != nil {
		fields = append(fields, FieldStatus)
	}
	if u.Description != nil {
		fields = append(fields, FieldDescription)
	}
	if u.MonitoredBy != nil {
		fields = append(fields, FieldMonitoredBy)
	}
	if u.Proxy != nil {
		fields = append(fields, FieldProxy)
	}
	if u.Interfaces != nil {
		fields = append(fields, interfaceFieldsChanged(current.Interfaces, u.Interfaces)...)
	}
	if u.Tags != nil {
		fields = append(fields, FieldTags)
	}
	if u.Macros != nil {
		fields = append(fields, FieldMacros)
	}
	if u.InventoryMode != nil {
		fields = append(fields, FieldInventoryMode)
	}
	if u.IPMI != nil {
		fields = append(fields, FieldIPMI)
	}
	if u.Encryption != nil {
		fields = append(fields, FieldEncryption)
	}
	return fields
}

// interfaceFieldsChanged reports which interface fields differ. Submitting the
// current interfaces unchanged touches nothing.
func interfaceFieldsChanged(current, next []Interface) []Field {
	if len(current) != len(next) {
		return []Field{FieldInterfaceIP}
	}
	var typ, ip, dns, port, useip, main bool
	for i := range current {
		typ = typ || current[i].Type != next[i].Type
		ip = ip || current[i].IP != next[i].IP
		dns = dns || current[i].DNS != next[i].DNS
		port = port || current[i].Port != next[i].Port
		useip = useip || current[i].UseIP != next[i].UseIP
		main = main || current[i].Main != next[i].Main
	}
	var fields []Field
	if typ {
		fields = append(fields, FieldInterfaceType)
	}
	if ip {
		fields = append(fields, FieldInterfaceIP)
	}
	if dns {
		fields = append(fields, FieldInterfaceDNS)
	}
	if port {
		fields = append(fields, FieldInterfacePort)
	}
	if useip {
		fields = append(fields, FieldInterfaceUseIP)
	}
	if main {
		fields = append(fields, FieldInterfaceMain)
	}
	return fields
}

// Apply copies the set fields of u onto h.
func (u HostUpdate) Apply(h *Host, now time.Time) {
	if u.TechnicalName != nil {
		h.TechnicalName = *u.TechnicalName
	}
	if u.VisibleName != nil {
		h.VisibleName = *u.VisibleName
	}
	if u.Groups != nil {
		h.Groups = append([]string(nil), u.Groups...)
	}
	if u.Status != nil {
		h.Status = *u.Status
	}
	if u.Description != nil {
		h.Description = *u.Description
	}
	if u.MonitoredBy != nil {
		h.MonitoredBy = *u.MonitoredBy
	}
	if u.Proxy != nil {
		h.Proxy = *u.Proxy
	}
	if u.Interfaces != nil {
		h.Interfaces = append([]Interface(nil), u.Interfaces...)
	}
	if u.Tags != nil {
		h.Tags = append([]Tag(nil), u.Tags...)
	}
	if u.Macros != nil {
		h.Macros = append([]Macro(nil), u.Macros...)
	}
	if u.InventoryMode != nil {
		h.InventoryMode = *u.InventoryMode
	}
	if u.IPMI != nil {
		h.IPMI = *u.IPMI
		h.IPMI.setDefaults()
	}
	if u.Encryption != nil {
		h.Encryption = *u.Encryption
		h.Encryption.setDefaults()
	}
	h.UpdatedAt = now
}

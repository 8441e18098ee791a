package linkage

import (
	"context"
	"time"
)

// Store opens transactions. WithinTx commits when fn returns nil and rolls
// back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// HostLookup finds hosts by name for uniqueness checks.
type HostLookup interface {
	FindHostByName(ctx context.Context, technicalName string) (*Host, bool, error)
	FindHostByVisibleName(ctx context.Context, visibleName string) (*Host, bool, error)
}

// Tx is the unit of work for one engine operation. GetHost returns the host
// with its template links in link order.
type Tx interface {
	HostLookup

	GetHost(ctx context.Context, hostID int64) (*Host, bool, error)
	InsertHost(ctx context.Context, h *Host) error
	UpdateHost(ctx context.Context, h *Host) error
	DeleteHost(ctx context.Context, hostID int64) error

	GetTemplate(ctx context.Context, templateID int64) (*Template, bool, error)

	InsertLink(ctx context.Context, link TemplateLink) error
	UpdateLinkOrigin(ctx context.Context, key LinkKey, origin LinkOrigin) error
	DeleteLink(ctx context.Context, key LinkKey) error

	ListEntities(ctx context.Context, hostID int64) ([]Entity, error)
	FindByHostAndTemplate(ctx context.Context, hostID, templateID int64) ([]Entity, error)
	InsertEntity(ctx context.Context, e *Entity) error
	TagEntity(ctx context.Context, entityID, templateID int64) error
	DetachTemplateTag(ctx context.Context, entityID int64) error
	DeleteEntity(ctx context.Context, entityID int64) error

	RecordAudit(ctx context.Context, rec AuditRecord) error
}

// Validator checks name uniqueness and field constraints of a host before it
// is written.
type Validator interface {
	ValidateHost(ctx context.Context, lookup HostLookup, h *Host) error
}

// Recorder receives operation metrics.
type Recorder interface {
	ObserveOperation(action Action, err error, elapsed time.Duration)
	ObserveEntities(action Action, detached, deleted int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(Action, error, time.Duration) {}
func (nopRecorder) ObserveEntities(Action, int, int)              {}

// Action names an audited operation.
type Action string

const (
	ActionCreateHost       Action = "create_host"
	ActionUpdateHost       Action = "update_host"
	ActionDeleteHost       Action = "delete_host"
	ActionAttach           Action = "attach"
	ActionUnlink           Action = "unlink"
	ActionUnlinkClear      Action = "unlink_clear"
	ActionDiscoverHost     Action = "discover_host"
	ActionRelink           Action = "relink"
	ActionConvertLink      Action = "convert_link"
	ActionRemoveDiscovered Action = "remove_discovered"
)

// AuditRecord is one row of the linkage audit log. Every row written by one
// engine call shares the OperationID.
type AuditRecord struct {
	OperationID string     `json:"operation_id"`
	Action      Action     `json:"action"`
	HostID      int64      `json:"host_id"`
	HostName    string     `json:"host_name"`
	TemplateID  int64      `json:"template_id,omitempty"`
	Origin      LinkOrigin `json:"origin,omitempty"`
	Detached    int        `json:"detached"`
	Deleted     int        `json:"deleted"`
	Note        string     `json:"note,omitempty"`
	At          time.Time  `json:"at"`
}

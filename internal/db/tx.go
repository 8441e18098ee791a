package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sloppy/hostlink/internal/linkage"
)

// Tx wraps sql.Tx and implements linkage.Tx.
type Tx struct {
	*sql.Tx
}

var _ linkage.Tx = (*Tx)(nil)

// Begin starts a transaction on the DB.
func (db *DB) Begin() (*Tx, error) {
	return db.BeginContext(context.Background())
}

// BeginContext starts a transaction bound to ctx.
func (db *DB) BeginContext(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Tx: tx}, nil
}

func (tx *Tx) GetHost(ctx context.Context, hostID int64) (*linkage.Host, bool, error) {
	return getHost(ctx, tx.Tx, "h.id = ?", hostID)
}

func (tx *Tx) FindHostByName(ctx context.Context, name string) (*linkage.Host, bool, error) {
	return getHost(ctx, tx.Tx, "h.technical_name = ?", name)
}

func (tx *Tx) FindHostByVisibleName(ctx context.Context, name string) (*linkage.Host, bool, error) {
	return getHost(ctx, tx.Tx, "COALESCE(NULLIF(h.visible_name, ''), h.technical_name) = ? ORDER BY h.id LIMIT 1", name)
}

func (tx *Tx) InsertHost(ctx context.Context, h *linkage.Host) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO host (technical_name, visible_name, origin, status, description, monitored_by, proxy, inventory_mode,
		                   ipmi_authtype, ipmi_privilege, ipmi_username, ipmi_password,
		                   tls_connect, tls_accept, tls_psk_identity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		h.TechnicalName, h.VisibleName, string(h.Origin), string(h.Status), h.Description,
		string(h.MonitoredBy), h.Proxy, h.InventoryMode,
		h.IPMI.AuthType, h.IPMI.Privilege, h.IPMI.Username, h.IPMI.Password,
		h.Encryption.Connect, h.Encryption.Accept, h.Encryption.PSKIdentity,
		h.CreatedAt, h.UpdatedAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("insert host: %w", err)
	}
	for i := range h.Templates {
		h.Templates[i].HostID = h.ID
	}
	if h.Discovery != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO host_discovery (host_id, prototype_id, rule_id, rule_name, last_seen) VALUES (?, ?, ?, ?, ?)`,
			h.ID, h.Discovery.PrototypeID, h.Discovery.RuleID, h.Discovery.RuleName, h.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert host discovery: %w", err)
		}
	}
	return writeHostDetails(ctx, tx.Tx, h)
}

func (tx *Tx) UpdateHost(ctx context.Context, h *linkage.Host) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE host SET technical_name = ?, visible_name = ?, status = ?, description = ?,
		        monitored_by = ?, proxy = ?, inventory_mode = ?,
		        ipmi_authtype = ?, ipmi_privilege = ?, ipmi_username = ?, ipmi_password = ?,
		        tls_connect = ?, tls_accept = ?, tls_psk_identity = ?, updated_at = ?
		  WHERE id = ?`,
		h.TechnicalName, h.VisibleName, string(h.Status), h.Description,
		string(h.MonitoredBy), h.Proxy, h.InventoryMode,
		h.IPMI.AuthType, h.IPMI.Privilege, h.IPMI.Username, h.IPMI.Password,
		h.Encryption.Connect, h.Encryption.Accept, h.Encryption.PSKIdentity,
		h.UpdatedAt, h.ID,
	)
	if err != nil {
		return fmt.Errorf("update host: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update host %d: %w", h.ID, ErrNotFound)
	}
	return writeHostDetails(ctx, tx.Tx, h)
}

func (tx *Tx) DeleteHost(ctx context.Context, hostID int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM host WHERE id = ?`, hostID)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete host %d: %w", hostID, ErrNotFound)
	}
	return nil
}

func (tx *Tx) GetTemplate(ctx context.Context, templateID int64) (*linkage.Template, bool, error) {
	return getTemplate(ctx, tx.Tx, "id = ?", templateID)
}

func (tx *Tx) InsertLink(ctx context.Context, link linkage.TemplateLink) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO host_template (host_id, template_id, origin, linked_at) VALUES (?, ?, ?, ?)`,
		link.HostID, link.TemplateID, string(link.Origin), link.LinkedAt,
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (tx *Tx) UpdateLinkOrigin(ctx context.Context, key linkage.LinkKey, origin linkage.LinkOrigin) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE host_template SET origin = ? WHERE host_id = ? AND template_id = ?`,
		string(origin), key.HostID, key.TemplateID,
	)
	if err != nil {
		return fmt.Errorf("update link origin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update link %d/%d: %w", key.HostID, key.TemplateID, ErrNotFound)
	}
	return nil
}

func (tx *Tx) DeleteLink(ctx context.Context, key linkage.LinkKey) error {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM host_template WHERE host_id = ? AND template_id = ?`,
		key.HostID, key.TemplateID,
	)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete link %d/%d: %w", key.HostID, key.TemplateID, ErrNotFound)
	}
	return nil
}

func (tx *Tx) ListEntities(ctx context.Context, hostID int64) ([]linkage.Entity, error) {
	return listEntities(ctx, tx.Tx, `WHERE host_id = ? ORDER BY id`, hostID)
}

func (tx *Tx) FindByHostAndTemplate(ctx context.Context, hostID, templateID int64) ([]linkage.Entity, error) {
	return listEntities(ctx, tx.Tx, `WHERE host_id = ? AND source_template_id = ? ORDER BY id`, hostID, templateID)
}

func (tx *Tx) InsertEntity(ctx context.Context, e *linkage.Entity) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO entity (host_id, kind, name, source_template_id, depends_on) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		e.HostID, string(e.Kind), e.Name, nullableID(e.SourceTemplateID), nullableID(e.DependsOn),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

func (tx *Tx) TagEntity(ctx context.Context, entityID, templateID int64) error {
	return tx.execOne(ctx, "tag entity", `UPDATE entity SET source_template_id = ? WHERE id = ?`, templateID, entityID)
}

func (tx *Tx) DetachTemplateTag(ctx context.Context, entityID int64) error {
	return tx.execOne(ctx, "detach entity", `UPDATE entity SET source_template_id = NULL WHERE id = ?`, entityID)
}

func (tx *Tx) DeleteEntity(ctx context.Context, entityID int64) error {
	return tx.execOne(ctx, "delete entity", `DELETE FROM entity WHERE id = ?`, entityID)
}

func (tx *Tx) RecordAudit(ctx context.Context, rec linkage.AuditRecord) error {
	var templateID any
	if rec.TemplateID != 0 {
		templateID = rec.TemplateID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO linkage_audit (operation_id, action, host_id, host_name, template_id, origin, detached, deleted, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OperationID, string(rec.Action), rec.HostID, rec.HostName, templateID, string(rec.Origin),
		rec.Detached, rec.Deleted, rec.Note, rec.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (tx *Tx) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// IsNotFound reports whether err wraps ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

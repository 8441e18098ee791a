package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sloppy/hostlink/internal/linkage"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const hostSelect = `SELECT h.id, h.technical_name, h.visible_name, h.origin, h.status, h.description,
        h.monitored_by, h.proxy, h.inventory_mode,
        h.ipmi_authtype, h.ipmi_privilege, h.ipmi_username, h.ipmi_password,
        h.tls_connect, h.tls_accept, h.tls_psk_identity, h.created_at, h.updated_at,
        d.prototype_id, d.rule_id, d.rule_name
   FROM host h
   LEFT JOIN host_discovery d ON d.host_id = h.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*linkage.Host, error) {
	var h linkage.Host
	var origin, status, monitoredBy string
	var prototypeID, ruleID sql.NullInt64
	var ruleName sql.NullString
	if err := row.Scan(
		&h.ID, &h.TechnicalName, &h.VisibleName, &origin, &status, &h.Description,
		&monitoredBy, &h.Proxy, &h.InventoryMode,
		&h.IPMI.AuthType, &h.IPMI.Privilege, &h.IPMI.Username, &h.IPMI.Password,
		&h.Encryption.Connect, &h.Encryption.Accept, &h.Encryption.PSKIdentity,
		&h.CreatedAt, &h.UpdatedAt,
		&prototypeID, &ruleID, &ruleName,
	); err != nil {
		return nil, err
	}
	h.Origin = linkage.Origin(origin)
	h.Status = linkage.Status(status)
	h.MonitoredBy = linkage.MonitoredBy(monitoredBy)
	if prototypeID.Valid {
		h.Discovery = &linkage.DiscoveryRef{
			PrototypeID: prototypeID.Int64,
			RuleID:      ruleID.Int64,
			RuleName:    ruleName.String,
		}
	}
	return &h, nil
}

func getHost(ctx context.Context, q querier, where string, args ...any) (*linkage.Host, bool, error) {
	h, err := scanHost(q.QueryRowContext(ctx, hostSelect+" WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get host: %w", err)
	}
	if err := loadHostDetails(ctx, q, h); err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func loadHostDetails(ctx context.Context, q querier, h *linkage.Host) error {
	groups, err := queryStrings(ctx, q, `SELECT name FROM host_group WHERE host_id = ? ORDER BY position, name`, h.ID)
	if err != nil {
		return fmt.Errorf("list host groups: %w", err)
	}
	h.Groups = groups

	if h.Interfaces, err = listInterfaces(ctx, q, h.ID); err != nil {
		return err
	}
	if h.Tags, err = listTags(ctx, q, h.ID); err != nil {
		return err
	}
	if h.Macros, err = listMacros(ctx, q, h.ID); err != nil {
		return err
	}
	if h.Templates, err = listLinks(ctx, q, h.ID); err != nil {
		return err
	}
	return nil
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func listInterfaces(ctx context.Context, q querier, hostID int64) ([]linkage.Interface, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, type, ip, dns, port, useip, main FROM host_interface WHERE host_id = ? ORDER BY id`,
		hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	defer rows.Close()

	var out []linkage.Interface
	for rows.Next() {
		var iface linkage.Interface
		if err := rows.Scan(&iface.ID, &iface.Type, &iface.IP, &iface.DNS, &iface.Port, &iface.UseIP, &iface.Main); err != nil {
			return nil, fmt.Errorf("scan interface: %w", err)
		}
		out = append(out, iface)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list interfaces rows: %w", err)
	}
	return out, nil
}

func listTags(ctx context.Context, q querier, hostID int64) ([]linkage.Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag, value FROM host_tag WHERE host_id = ? ORDER BY position`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []linkage.Tag
	for rows.Next() {
		var tag linkage.Tag
		if err := rows.Scan(&tag.Tag, &tag.Value); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tags rows: %w", err)
	}
	return out, nil
}

func listMacros(ctx context.Context, q querier, hostID int64) ([]linkage.Macro, error) {
	rows, err := q.QueryContext(ctx, `SELECT macro, value, description FROM host_macro WHERE host_id = ? ORDER BY macro`, hostID)
	if err != nil {
		return nil, fmt.Errorf("list macros: %w", err)
	}
	defer rows.Close()

	var out []linkage.Macro
	for rows.Next() {
		var m linkage.Macro
		if err := rows.Scan(&m.Macro, &m.Value, &m.Description); err != nil {
			return nil, fmt.Errorf("scan macro: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list macros rows: %w", err)
	}
	return out, nil
}

func listLinks(ctx context.Context, q querier, hostID int64) ([]linkage.TemplateLink, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT host_id, template_id, origin, linked_at FROM host_template WHERE host_id = ? ORDER BY rowid`,
		hostID,
	)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []linkage.TemplateLink
	for rows.Next() {
		var link linkage.TemplateLink
		var origin string
		if err := rows.Scan(&link.HostID, &link.TemplateID, &origin, &link.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		link.Origin = linkage.LinkOrigin(origin)
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list links rows: %w", err)
	}
	return out, nil
}

// writeHostDetails replaces the child rows of a host.
func writeHostDetails(ctx context.Context, q querier, h *linkage.Host) error {
	for _, table := range []string{"host_group", "host_interface", "host_tag", "host_macro"} {
		if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE host_id = ?`, table), h.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i, name := range h.Groups {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO host_group (host_id, name, position) VALUES (?, ?, ?)`,
			h.ID, name, i,
		); err != nil {
			return fmt.Errorf("insert host group: %w", err)
		}
	}
	for i := range h.Interfaces {
		iface := &h.Interfaces[i]
		var ipInt any
		if value, ok := ipKey(iface.IP); ok {
			ipInt = value
		}
		err := q.QueryRowContext(ctx,
			`INSERT INTO host_interface (host_id, type, ip, ip_int, dns, port, useip, main)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 RETURNING id`,
			h.ID, iface.Type, iface.IP, ipInt, iface.DNS, iface.Port, iface.UseIP, iface.Main,
		).Scan(&iface.ID)
		if err != nil {
			return fmt.Errorf("insert interface: %w", err)
		}
	}
	for i, tag := range h.Tags {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO host_tag (host_id, tag, value, position) VALUES (?, ?, ?, ?)`,
			h.ID, tag.Tag, tag.Value, i,
		); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	for _, m := range h.Macros {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO host_macro (host_id, macro, value, description) VALUES (?, ?, ?, ?)`,
			h.ID, m.Macro, m.Value, m.Description,
		); err != nil {
			return fmt.Errorf("insert macro: %w", err)
		}
	}
	return nil
}

// GetHost fetches a host with its groups, interfaces, tags, macros and links.
func (db *DB) GetHost(ctx context.Context, id int64) (*linkage.Host, bool, error) {
	return getHost(ctx, db.DB, "h.id = ?", id)
}

// GetHostByName fetches a host by technical name.
func (db *DB) GetHostByName(ctx context.Context, name string) (*linkage.Host, bool, error) {
	return getHost(ctx, db.DB, "h.technical_name = ?", name)
}

// ListEntities returns the entities of a host ordered by kind and name.
func (db *DB) ListEntities(ctx context.Context, hostID int64) ([]linkage.Entity, error) {
	return listEntities(ctx, db.DB, `WHERE host_id = ? ORDER BY kind, name`, hostID)
}

func listEntities(ctx context.Context, q querier, where string, args ...any) ([]linkage.Entity, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, host_id, kind, name, source_template_id, depends_on FROM entity `+where,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []linkage.Entity
	for rows.Next() {
		var e linkage.Entity
		var kind string
		var source, dependsOn sql.NullInt64
		if err := rows.Scan(&e.ID, &e.HostID, &kind, &e.Name, &source, &dependsOn); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Kind = linkage.EntityKind(kind)
		if source.Valid {
			v := source.Int64
			e.SourceTemplateID = &v
		}
		if dependsOn.Valid {
			v := dependsOn.Int64
			e.DependsOn = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entities rows: %w", err)
	}
	return out, nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sloppy/hostlink/internal/linkage"
)

// ListAudit returns audit rows for a host, newest first. hostID 0 lists all.
func (db *DB) ListAudit(ctx context.Context, hostID int64, limit int) ([]linkage.AuditRecord, error) {
	query := `SELECT operation_id, action, host_id, host_name, template_id, origin, detached, deleted, note, created_at
	            FROM linkage_audit`
	var args []any
	if hostID != 0 {
		query += ` WHERE host_id = ?`
		args = append(args, hostID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []linkage.AuditRecord
	for rows.Next() {
		var rec linkage.AuditRecord
		var action, origin string
		var templateID sql.NullInt64
		if err := rows.Scan(&rec.OperationID, &action, &rec.HostID, &rec.HostName, &templateID, &origin,
			&rec.Detached, &rec.Deleted, &rec.Note, &rec.At); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.Action = linkage.Action(action)
		rec.Origin = linkage.LinkOrigin(origin)
		rec.TemplateID = templateID.Int64
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit rows: %w", err)
	}
	return out, nil
}

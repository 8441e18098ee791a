package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sloppy/hostlink/internal/linkage"
)

// TemplateSummary is a template row with usage counts for list views.
type TemplateSummary struct {
	ID          int64
	Name        string
	Description string
	Entities    int
	Hosts       int
}

// CreateTemplate inserts a template with its entity definitions.
func (db *DB) CreateTemplate(ctx context.Context, t linkage.Template) (linkage.Template, error) {
	tx, err := db.BeginContext(ctx)
	if err != nil {
		return linkage.Template{}, err
	}
	defer tx.Rollback()

	out := t
	err = tx.QueryRowContext(ctx,
		`INSERT INTO template (name, description) VALUES (?, ?) RETURNING id`,
		t.Name, t.Description,
	).Scan(&out.ID)
	if err != nil {
		return linkage.Template{}, fmt.Errorf("insert template: %w", err)
	}
	for _, def := range t.Entities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO template_entity (template_id, kind, name, depends_on) VALUES (?, ?, ?, ?)`,
			out.ID, string(def.Kind), def.Name, def.DependsOn,
		); err != nil {
			return linkage.Template{}, fmt.Errorf("insert template entity: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return linkage.Template{}, fmt.Errorf("commit template: %w", err)
	}
	return out, nil
}

// GetTemplate fetches a template by ID.
func (db *DB) GetTemplate(ctx context.Context, id int64) (*linkage.Template, bool, error) {
	return getTemplate(ctx, db.DB, "id = ?", id)
}

// GetTemplateByName fetches a template by exact name.
func (db *DB) GetTemplateByName(ctx context.Context, name string) (*linkage.Template, bool, error) {
	return getTemplate(ctx, db.DB, "name = ?", name)
}

func getTemplate(ctx context.Context, q querier, where string, args ...any) (*linkage.Template, bool, error) {
	var t linkage.Template
	err := q.QueryRowContext(ctx, `SELECT id, name, description FROM template WHERE `+where, args...).
		Scan(&t.ID, &t.Name, &t.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get template: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT kind, name, depends_on FROM template_entity WHERE template_id = ? ORDER BY id`,
		t.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("list template entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var def linkage.EntityDefinition
		var kind string
		if err := rows.Scan(&kind, &def.Name, &def.DependsOn); err != nil {
			return nil, false, fmt.Errorf("scan template entity: %w", err)
		}
		def.Kind = linkage.EntityKind(kind)
		t.Entities = append(t.Entities, def)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list template entities rows: %w", err)
	}
	return &t, true, nil
}

// ListTemplates returns templates ordered by name with entity and host counts.
func (db *DB) ListTemplates(ctx context.Context) ([]TemplateSummary, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT t.id, t.name, t.description,
		        (SELECT COUNT(*) FROM template_entity te WHERE te.template_id = t.id),
		        (SELECT COUNT(*) FROM host_template ht WHERE ht.template_id = t.id)
		   FROM template t
		  ORDER BY t.name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []TemplateSummary
	for rows.Next() {
		var s TemplateSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Entities, &s.Hosts); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TemplateNames maps template IDs to names.
func (db *DB) TemplateNames(ctx context.Context) (map[int64]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM template`)
	if err != nil {
		return nil, fmt.Errorf("list template names: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan template name: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

// DeleteTemplate removes a template that is no longer linked anywhere.
func (db *DB) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM template WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete template %d: %w", id, ErrNotFound)
	}
	return nil
}

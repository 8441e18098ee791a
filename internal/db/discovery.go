package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/linkage"
)

var _ discovery.Store = (*DB)(nil)

// CreateDiscoveryRule inserts a discovery rule.
func (db *DB) CreateDiscoveryRule(ctx context.Context, name, networkFilter string) (discovery.Rule, error) {
	r := discovery.Rule{Name: name, NetworkFilter: networkFilter}
	err := db.QueryRowContext(ctx,
		`INSERT INTO discovery_rule (name, network_filter) VALUES (?, ?) RETURNING id`,
		name, networkFilter,
	).Scan(&r.ID)
	if err != nil {
		return discovery.Rule{}, fmt.Errorf("insert discovery rule: %w", err)
	}
	return r, nil
}

// GetDiscoveryRuleByName fetches a rule by exact name.
func (db *DB) GetDiscoveryRuleByName(ctx context.Context, name string) (discovery.Rule, bool, error) {
	var r discovery.Rule
	err := db.QueryRowContext(ctx, `SELECT id, name, network_filter FROM discovery_rule WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &r.NetworkFilter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return discovery.Rule{}, false, nil
		}
		return discovery.Rule{}, false, fmt.Errorf("get discovery rule: %w", err)
	}
	return r, true, nil
}

// CreatePrototype inserts a host prototype with its groups and templates.
func (db *DB) CreatePrototype(ctx context.Context, p discovery.Prototype) (discovery.Prototype, error) {
	tx, err := db.BeginContext(ctx)
	if err != nil {
		return discovery.Prototype{}, err
	}
	defer tx.Rollback()

	status := p.Status
	if status == "" {
		status = linkage.StatusEnabled
	}
	var iface linkage.Interface
	iface.UseIP = true
	if p.Interface != nil {
		iface = *p.Interface
	}
	out := p
	out.Status = status
	err = tx.QueryRowContext(ctx,
		`INSERT INTO host_prototype (rule_id, name_pattern, visible_name_pattern, status,
		        interface_type, interface_ip, interface_dns, interface_port, interface_useip)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		p.RuleID, p.NamePattern, p.VisibleNamePattern, string(status),
		iface.Type, iface.IP, iface.DNS, iface.Port, iface.UseIP,
	).Scan(&out.ID)
	if err != nil {
		return discovery.Prototype{}, fmt.Errorf("insert host prototype: %w", err)
	}
	if err := writePrototypeLinks(ctx, tx.Tx, out.ID, p.Groups, p.TemplateIDs); err != nil {
		return discovery.Prototype{}, err
	}
	if err := tx.Commit(); err != nil {
		return discovery.Prototype{}, fmt.Errorf("commit host prototype: %w", err)
	}
	return out, nil
}

// SetPrototypeTemplates replaces the template set of a prototype. Hosts pick
// the change up on the next discovery cycle.
func (db *DB) SetPrototypeTemplates(ctx context.Context, prototypeID int64, templateIDs []int64) error {
	tx, err := db.BeginContext(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM prototype_template WHERE prototype_id = ?`, prototypeID); err != nil {
		return fmt.Errorf("clear prototype templates: %w", err)
	}
	if err := writePrototypeLinks(ctx, tx.Tx, prototypeID, nil, templateIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prototype templates: %w", err)
	}
	return nil
}

func writePrototypeLinks(ctx context.Context, q querier, prototypeID int64, groups []string, templateIDs []int64) error {
	for i, name := range groups {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO prototype_group (prototype_id, name, position) VALUES (?, ?, ?)`,
			prototypeID, name, i,
		); err != nil {
			return fmt.Errorf("insert prototype group: %w", err)
		}
	}
	for i, id := range templateIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO prototype_template (prototype_id, template_id, position) VALUES (?, ?, ?)`,
			prototypeID, id, i,
		); err != nil {
			return fmt.Errorf("insert prototype template: %w", err)
		}
	}
	return nil
}

// GetPrototype fetches a prototype with its rule, groups and templates.
func (db *DB) GetPrototype(ctx context.Context, id int64) (*discovery.Prototype, bool, error) {
	var p discovery.Prototype
	var status string
	var iface linkage.Interface
	err := db.QueryRowContext(ctx,
		`SELECT p.id, p.rule_id, r.name, r.network_filter, p.name_pattern, p.visible_name_pattern, p.status,
		        p.interface_type, p.interface_ip, p.interface_dns, p.interface_port, p.interface_useip
		   FROM host_prototype p
		   JOIN discovery_rule r ON r.id = p.rule_id
		  WHERE p.id = ?`,
		id,
	).Scan(&p.ID, &p.RuleID, &p.RuleName, &p.NetworkFilter, &p.NamePattern, &p.VisibleNamePattern, &status,
		&iface.Type, &iface.IP, &iface.DNS, &iface.Port, &iface.UseIP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get host prototype: %w", err)
	}
	p.Status = linkage.Status(status)
	if iface.Type != "" {
		p.Interface = &iface
	}

	if p.Groups, err = queryStrings(ctx, db.DB,
		`SELECT name FROM prototype_group WHERE prototype_id = ? ORDER BY position, name`, id); err != nil {
		return nil, false, fmt.Errorf("list prototype groups: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT template_id FROM prototype_template WHERE prototype_id = ? ORDER BY position, template_id`, id)
	if err != nil {
		return nil, false, fmt.Errorf("list prototype templates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tid int64
		if err := rows.Scan(&tid); err != nil {
			return nil, false, fmt.Errorf("scan prototype template: %w", err)
		}
		p.TemplateIDs = append(p.TemplateIDs, tid)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list prototype templates rows: %w", err)
	}
	return &p, true, nil
}

// ListPrototypes returns every prototype ordered by rule and pattern.
func (db *DB) ListPrototypes(ctx context.Context) ([]discovery.Prototype, error) {
	ids, err := queryInt64s(ctx, db.DB, `SELECT p.id FROM host_prototype p JOIN discovery_rule r ON r.id = p.rule_id ORDER BY r.name, p.name_pattern`)
	if err != nil {
		return nil, fmt.Errorf("list host prototypes: %w", err)
	}
	out := make([]discovery.Prototype, 0, len(ids))
	for _, id := range ids {
		p, ok, err := db.GetPrototype(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func queryInt64s(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListTracked returns hosts created from a prototype.
func (db *DB) ListTracked(ctx context.Context, prototypeID int64) ([]discovery.Tracked, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT d.host_id, h.technical_name, d.last_seen, d.lost_since
		   FROM host_discovery d
		   JOIN host h ON h.id = d.host_id
		  WHERE d.prototype_id = ?
		  ORDER BY d.host_id`,
		prototypeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list discovered hosts: %w", err)
	}
	defer rows.Close()

	var out []discovery.Tracked
	for rows.Next() {
		var t discovery.Tracked
		var lost sql.NullTime
		if err := rows.Scan(&t.HostID, &t.TechnicalName, &t.LastSeen, &lost); err != nil {
			return nil, fmt.Errorf("scan discovered host: %w", err)
		}
		if lost.Valid {
			v := lost.Time
			t.LostSince = &v
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list discovered hosts rows: %w", err)
	}
	return out, nil
}

// MarkSeen records that a discovered host was found again.
func (db *DB) MarkSeen(ctx context.Context, hostID int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE host_discovery SET last_seen = ?, lost_since = NULL WHERE host_id = ?`, at, hostID)
	if err != nil {
		return fmt.Errorf("mark host seen: %w", err)
	}
	return nil
}

// MarkLost records the first cycle that missed a discovered host.
func (db *DB) MarkLost(ctx context.Context, hostID int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE host_discovery SET lost_since = COALESCE(lost_since, ?) WHERE host_id = ?`, at, hostID)
	if err != nil {
		return fmt.Errorf("mark host lost: %w", err)
	}
	return nil
}

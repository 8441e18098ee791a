package db

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// HostListItem represents aggregated host list data.
type HostListItem struct {
	ID            int64
	TechnicalName string
	VisibleName   string
	Origin        string
	Status        string
	MainAddress   string
	RuleName      string
	Templates     int
	Entities      int
}

// Name returns the visible name, falling back to the technical name.
func (h HostListItem) Name() string {
	if h.VisibleName != "" {
		return h.VisibleName
	}
	return h.TechnicalName
}

// HostFilter narrows the host list.
type HostFilter struct {
	Name    string
	Origin  string
	Group   string
	Subnet  string
	SortBy  string
	SortDir string
	Limit   int
	Offset  int
}

type hostListQuery struct {
	where   string
	args    []any
	orderBy string
}

// ListHosts returns hosts with link and entity counts.
func (db *DB) ListHosts(ctx context.Context, f HostFilter) ([]HostListItem, error) {
	query, err := buildHostListQuery(f)
	if err != nil {
		return nil, err
	}
	return db.queryHostSummary(ctx, query, f.Limit, f.Offset)
}

// ListHostsPaged returns one page of hosts and the total count.
func (db *DB) ListHostsPaged(ctx context.Context, f HostFilter) ([]HostListItem, int, error) {
	query, err := buildHostListQuery(f)
	if err != nil {
		return nil, 0, err
	}
	items, err := db.queryHostSummary(ctx, query, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := db.countHostSummary(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func buildHostListQuery(f HostFilter) (hostListQuery, error) {
	where := []string{"1 = 1"}
	var args []any

	if name := strings.TrimSpace(f.Name); name != "" {
		where = append(where, "(h.technical_name LIKE ? OR h.visible_name LIKE ?)")
		pattern := "%" + name + "%"
		args = append(args, pattern, pattern)
	}

	switch f.Origin {
	case "":
	case "manual", "discovered":
		where = append(where, "h.origin = ?")
		args = append(args, f.Origin)
	default:
		return hostListQuery{}, fmt.Errorf("invalid origin filter %q", f.Origin)
	}

	if f.Group != "" {
		where = append(where, "EXISTS (SELECT 1 FROM host_group g WHERE g.host_id = h.id AND g.name = ?)")
		args = append(args, f.Group)
	}

	if f.Subnet != "" {
		lo, hi, err := subnetRange(f.Subnet)
		if err != nil {
			return hostListQuery{}, err
		}
		where = append(where, "EXISTS (SELECT 1 FROM host_interface i WHERE i.host_id = h.id AND i.ip_int BETWEEN ? AND ?)")
		args = append(args, lo, hi)
	}

	orderBy := "h.technical_name"
	switch f.SortBy {
	case "name", "":
		orderBy = "h.technical_name"
	case "ip":
		orderBy = "main_ip_int"
	case "templates":
		orderBy = "template_count"
	case "origin":
		orderBy = "h.origin"
	default:
		return hostListQuery{}, fmt.Errorf("invalid sort column")
	}

	direction := "ASC"
	if strings.EqualFold(f.SortDir, "desc") {
		direction = "DESC"
	}

	return hostListQuery{
		where:   strings.Join(where, " AND "),
		args:    args,
		orderBy: fmt.Sprintf("%s %s, h.id", orderBy, direction),
	}, nil
}

// subnetRange converts an IPv4 prefix or address to an inclusive ip_int range.
func subnetRange(subnet string) (int64, int64, error) {
	subnet = strings.TrimSpace(subnet)
	if !strings.Contains(subnet, "/") {
		subnet += "/32"
	}
	prefix, err := netip.ParsePrefix(subnet)
	if err != nil || !prefix.Addr().Is4() {
		return 0, 0, fmt.Errorf("invalid subnet %q", subnet)
	}
	prefix = prefix.Masked()
	lo := addrKey(prefix.Addr())
	size := int64(1) << (32 - prefix.Bits())
	return lo, lo + size - 1, nil
}

// ipKey returns the numeric form of an IPv4 address, used for range filters.
func ipKey(ip string) (int64, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !addr.Is4() {
		return 0, false
	}
	return addrKey(addr), true
}

func addrKey(addr netip.Addr) int64 {
	b := addr.As4()
	return int64(binary.BigEndian.Uint32(b[:]))
}

func (db *DB) queryHostSummary(ctx context.Context, query hostListQuery, limit, offset int) ([]HostListItem, error) {
	sqlQuery := fmt.Sprintf(
		`SELECT h.id,
		        h.technical_name,
		        h.visible_name,
		        h.origin,
		        h.status,
		        COALESCE((SELECT CASE WHEN i.useip = 1 THEN i.ip ELSE i.dns END
		                    FROM host_interface i WHERE i.host_id = h.id
		                   ORDER BY i.main DESC, i.id LIMIT 1), '') AS main_address,
		        (SELECT i.ip_int FROM host_interface i WHERE i.host_id = h.id
		          ORDER BY i.main DESC, i.id LIMIT 1) AS main_ip_int,
		        COALESCE(d.rule_name, '') AS rule_name,
		        (SELECT COUNT(*) FROM host_template ht WHERE ht.host_id = h.id) AS template_count,
		        (SELECT COUNT(*) FROM entity e WHERE e.host_id = h.id) AS entity_count
		   FROM host h
		   LEFT JOIN host_discovery d ON d.host_id = h.id
		  WHERE %s
		  ORDER BY %s`,
		query.where,
		query.orderBy,
	)

	if limit > 0 {
		sqlQuery = fmt.Sprintf("%s LIMIT %d OFFSET %d", sqlQuery, limit, offset)
	}

	rows, err := db.QueryContext(ctx, sqlQuery, query.args...)
	if err != nil {
		return nil, fmt.Errorf("list hosts with summary: %w", err)
	}
	defer rows.Close()

	var items []HostListItem
	for rows.Next() {
		var item HostListItem
		var mainIPInt any
		if err := rows.Scan(
			&item.ID,
			&item.TechnicalName,
			&item.VisibleName,
			&item.Origin,
			&item.Status,
			&item.MainAddress,
			&mainIPInt,
			&item.RuleName,
			&item.Templates,
			&item.Entities,
		); err != nil {
			return nil, fmt.Errorf("scan host summary: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list host summary rows: %w", err)
	}
	return items, nil
}

func (db *DB) countHostSummary(ctx context.Context, query hostListQuery) (int, error) {
	sqlQuery := fmt.Sprintf(
		`SELECT COUNT(*) FROM host h WHERE %s`,
		query.where,
	)
	var total int
	if err := db.QueryRowContext(ctx, sqlQuery, query.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count host summary: %w", err)
	}
	return total, nil
}

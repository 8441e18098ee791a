package db

import (
	"context"
	"fmt"
)

// LinkCounts holds counts of host-template links by origin.
type LinkCounts struct {
	Manual    int
	Inherited int
}

// DashboardStats summarizes hosts, links and entities for the console.
type DashboardStats struct {
	TotalHosts        int
	ManualHosts       int
	DiscoveredHosts   int
	LostHosts         int
	Templates         int
	Links             LinkCounts
	TemplatedEntities int
	HostOwnedEntities int
}

// GetDashboardStats returns host, link and entity counts.
func (db *DB) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN origin = 'discovered' THEN 1 ELSE 0 END), 0)
		   FROM host`,
	).Scan(&stats.TotalHosts, &stats.DiscoveredHosts); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard host counts: %w", err)
	}
	stats.ManualHosts = stats.TotalHosts - stats.DiscoveredHosts

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM host_discovery WHERE lost_since IS NOT NULL`,
	).Scan(&stats.LostHosts); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard lost hosts: %w", err)
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM template`).Scan(&stats.Templates); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard templates: %w", err)
	}

	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN source_template_id IS NOT NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN source_template_id IS NULL THEN 1 ELSE 0 END), 0)
		   FROM entity`,
	).Scan(&stats.TemplatedEntities, &stats.HostOwnedEntities); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard entity counts: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT origin, COUNT(*) FROM host_template GROUP BY origin`)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard link counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var origin string
		var count int
		if err := rows.Scan(&origin, &count); err != nil {
			return DashboardStats{}, fmt.Errorf("scan dashboard link counts: %w", err)
		}
		switch origin {
		case "manual":
			stats.Links.Manual = count
		case "discovery":
			stats.Links.Inherited = count
		}
	}
	if err := rows.Err(); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard link counts: %w", err)
	}

	return stats, nil
}

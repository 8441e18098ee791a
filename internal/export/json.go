// Package export writes host configuration, template links and entities as
// JSON, CSV or text.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/linkage"
)

// HostExport captures a host with its links and entities for export.
type HostExport struct {
	Host      HostInfo     `json:"host"`
	Templates []LinkInfo   `json:"templates"`
	Entities  []EntityInfo `json:"entities"`
}

// InventoryExport captures every host.
type InventoryExport struct {
	ExportedAt time.Time    `json:"exported_at"`
	Hosts      []HostExport `json:"hosts"`
}

type HostInfo struct {
	ID            int64               `json:"id"`
	TechnicalName string              `json:"technical_name"`
	VisibleName   string              `json:"visible_name"`
	Origin        string              `json:"origin"`
	DiscoveredBy  string              `json:"discovered_by,omitempty"`
	PrototypeID   int64               `json:"prototype_id,omitempty"`
	Status        string              `json:"status"`
	Description   string              `json:"description"`
	Groups        []string            `json:"groups"`
	MonitoredBy   string              `json:"monitored_by"`
	Proxy         string              `json:"proxy,omitempty"`
	Interfaces    []linkage.Interface `json:"interfaces"`
	Tags          []linkage.Tag       `json:"tags"`
	Macros        []linkage.Macro     `json:"macros"`
	InventoryMode string              `json:"inventory_mode"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type LinkInfo struct {
	TemplateID int64     `json:"template_id"`
	Name       string    `json:"name"`
	Origin     string    `json:"origin"`
	LinkedAt   time.Time `json:"linked_at"`
}

type EntityInfo struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Template string `json:"template,omitempty"`
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// ExportHostJSON writes one host as JSON to the writer.
func ExportHostJSON(ctx context.Context, database *db.DB, hostID int64, w io.Writer) error {
	names, err := database.TemplateNames(ctx)
	if err != nil {
		return fmt.Errorf("list template names: %w", err)
	}
	payload, err := loadHost(ctx, database, hostID, names)
	if err != nil {
		return err
	}
	return writeJSON(w, payload)
}

// ExportInventoryJSON writes every host as JSON to the writer.
func ExportInventoryJSON(ctx context.Context, database *db.DB, w io.Writer) error {
	hosts, err := loadAll(ctx, database)
	if err != nil {
		return err
	}
	if hosts == nil {
		hosts = []HostExport{}
	}
	return writeJSON(w, InventoryExport{ExportedAt: now(), Hosts: hosts})
}

func writeJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func loadAll(ctx context.Context, database *db.DB) ([]HostExport, error) {
	items, err := database.ListHosts(ctx, db.HostFilter{})
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	names, err := database.TemplateNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list template names: %w", err)
	}
	out := make([]HostExport, 0, len(items))
	for _, item := range items {
		h, err := loadHost(ctx, database, item.ID, names)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func loadHost(ctx context.Context, database *db.DB, hostID int64, names map[int64]string) (HostExport, error) {
	host, found, err := database.GetHost(ctx, hostID)
	if err != nil {
		return HostExport{}, fmt.Errorf("get host: %w", err)
	}
	if !found {
		return HostExport{}, fmt.Errorf("host %d: %w", hostID, db.ErrNotFound)
	}
	entities, err := database.ListEntities(ctx, hostID)
	if err != nil {
		return HostExport{}, fmt.Errorf("list entities: %w", err)
	}

	out := HostExport{
		Host:      toHostInfo(host),
		Templates: make([]LinkInfo, 0, len(host.Templates)),
		Entities:  make([]EntityInfo, 0, len(entities)),
	}
	for _, link := range host.Templates {
		out.Templates = append(out.Templates, LinkInfo{
			TemplateID: link.TemplateID,
			Name:       names[link.TemplateID],
			Origin:     string(link.Origin),
			LinkedAt:   link.LinkedAt,
		})
	}
	for _, e := range entities {
		info := EntityInfo{ID: e.ID, Kind: string(e.Kind), Name: e.Name}
		if e.SourceTemplateID != nil {
			info.Template = names[*e.SourceTemplateID]
		}
		out.Entities = append(out.Entities, info)
	}
	return out, nil
}

func toHostInfo(host *linkage.Host) HostInfo {
	info := HostInfo{
		ID:            host.ID,
		TechnicalName: host.TechnicalName,
		VisibleName:   host.VisibleName,
		Origin:        string(host.Origin),
		Status:        string(host.Status),
		Description:   host.Description,
		Groups:        host.Groups,
		MonitoredBy:   string(host.MonitoredBy),
		Proxy:         host.Proxy,
		Interfaces:    host.Interfaces,
		Tags:          host.Tags,
		Macros:        host.Macros,
		InventoryMode: host.InventoryMode,
		CreatedAt:     host.CreatedAt,
		UpdatedAt:     host.UpdatedAt,
	}
	if host.Discovery != nil {
		info.DiscoveredBy = host.Discovery.RuleName
		info.PrototypeID = host.Discovery.PrototypeID
	}
	return info
}

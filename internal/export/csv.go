package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sloppy/hostlink/internal/db"
)

// ExportInventoryCSV writes a flattened entity list with host info.
func ExportInventoryCSV(ctx context.Context, database *db.DB, w io.Writer) error {
	hosts, err := loadAll(ctx, database)
	if err != nil {
		return err
	}
	return writeCSV(w, hosts)
}

// ExportHostCSV writes a flattened entity list for a single host.
func ExportHostCSV(ctx context.Context, database *db.DB, hostID int64, w io.Writer) error {
	names, err := database.TemplateNames(ctx)
	if err != nil {
		return fmt.Errorf("list template names: %w", err)
	}
	host, err := loadHost(ctx, database, hostID, names)
	if err != nil {
		return err
	}
	return writeCSV(w, []HostExport{host})
}

func writeCSV(w io.Writer, hosts []HostExport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, h := range hosts {
		origins := make(map[string]string, len(h.Templates))
		for _, l := range h.Templates {
			origins[l.Name] = l.Origin
		}
		if len(h.Entities) == 0 {
			if err := writer.Write(csvRow(h.Host, EntityInfo{}, "")); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
			continue
		}
		for _, e := range h.Entities {
			if err := writer.Write(csvRow(h.Host, e, origins[e.Template])); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func csvHeader() []string {
	return []string{
		"host_id",
		"technical_name",
		"visible_name",
		"origin",
		"discovered_by",
		"status",
		"groups",
		"main_address",
		"entity_id",
		"entity_kind",
		"entity_name",
		"template",
		"link_origin",
		"updated_at",
	}
}

func csvRow(host HostInfo, e EntityInfo, linkOrigin string) []string {
	entityID := ""
	if e.ID != 0 {
		entityID = strconv.FormatInt(e.ID, 10)
	}
	return []string{
		strconv.FormatInt(host.ID, 10),
		host.TechnicalName,
		host.VisibleName,
		host.Origin,
		host.DiscoveredBy,
		host.Status,
		strings.Join(host.Groups, ";"),
		mainAddress(host),
		entityID,
		e.Kind,
		e.Name,
		e.Template,
		linkOrigin,
		formatTime(host.UpdatedAt),
	}
}

func mainAddress(host HostInfo) string {
	for _, iface := range host.Interfaces {
		if iface.Main {
			return iface.Address()
		}
	}
	return ""
}

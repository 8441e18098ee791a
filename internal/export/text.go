package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/sloppy/hostlink/internal/db"
)

// ExportInventoryText writes a readable text summary of every host.
func ExportInventoryText(ctx context.Context, database *db.DB, w io.Writer) error {
	hosts, err := loadAll(ctx, database)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Hosts: %s\n", humanize.Comma(int64(len(hosts))))
	fmt.Fprintf(w, "Exported: %s\n\n", now().Format("2006-01-02 15:04:05"))
	for _, h := range hosts {
		writeHostText(w, h)
		fmt.Fprintln(w, "")
	}
	return nil
}

// ExportHostText writes a readable text summary of a single host.
func ExportHostText(ctx context.Context, database *db.DB, hostID int64, w io.Writer) error {
	names, err := database.TemplateNames(ctx)
	if err != nil {
		return fmt.Errorf("list template names: %w", err)
	}
	h, err := loadHost(ctx, database, hostID, names)
	if err != nil {
		return err
	}
	writeHostText(w, h)
	return nil
}

func writeHostText(w io.Writer, h HostExport) {
	origin := "MANUAL"
	if h.Host.Origin == "discovered" {
		origin = "DISCOVERED"
	}
	fmt.Fprintf(w, "Host: %s", h.Host.TechnicalName)
	if h.Host.VisibleName != "" && h.Host.VisibleName != h.Host.TechnicalName {
		fmt.Fprintf(w, " (%s)", h.Host.VisibleName)
	}
	fmt.Fprintf(w, " [%s]\n", origin)
	if h.Host.DiscoveredBy != "" {
		fmt.Fprintf(w, "Discovered by: %s\n", h.Host.DiscoveredBy)
	}
	if addr := mainAddress(h.Host); addr != "" {
		fmt.Fprintf(w, "Address: %s\n", addr)
	}
	fmt.Fprintf(w, "Groups: %s\n", strings.Join(h.Host.Groups, ", "))

	if len(h.Templates) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  Template\tOrigin\tLinked")
		for _, l := range h.Templates {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", l.Name, l.Origin, humanize.RelTime(l.LinkedAt, now(), "ago", "from now"))
		}
		tw.Flush()
	} else {
		fmt.Fprintln(w, "  No templates linked.")
	}

	owned := 0
	for _, e := range h.Entities {
		if e.Template == "" {
			owned++
		}
	}
	fmt.Fprintf(w, "Entities: %d (%d from templates, %d host-owned)\n", len(h.Entities), len(h.Entities)-owned, owned)
}

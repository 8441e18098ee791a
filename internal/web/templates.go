package web

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/linkage"
)

const discoveryHint = "Templates linked by host discovery cannot be unlinked permanently. The next discovery cycle links them again unless the host prototype drops them."

func render(w http.ResponseWriter, r *http.Request, status int, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := component.Render(r.Context(), w); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!doctype html><html lang=\"en\"><head>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<meta charset=\"utf-8\">"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<title>%s</title>", html.EscapeString(title)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, layoutStyles); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</head><body>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<main class=\"shell\">"); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</main></body></html>"); err != nil {
			return err
		}
		return nil
	})
}

type option struct {
	Value string
	Label string
}

func writeSelect(w io.Writer, label, name, current string, opts []option) error {
	if _, err := fmt.Fprintf(w, "<label>%s<select name=\"%s\">", html.EscapeString(label), name); err != nil {
		return err
	}
	for _, opt := range opts {
		selected := ""
		if current == opt.Value {
			selected = " selected"
		}
		if _, err := fmt.Fprintf(w, "<option value=\"%s\"%s>%s</option>", html.EscapeString(opt.Value), selected, html.EscapeString(opt.Label)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</select></label>")
	return err
}

func originBadge(origin string) string {
	if origin == string(linkage.OriginDiscovered) || origin == string(linkage.LinkDiscoveryInherited) {
		return "<span class=\"badge discovery\">" + html.EscapeString(origin) + "</span>"
	}
	return "<span class=\"badge\">" + html.EscapeString(origin) + "</span>"
}

func hostListPage(stats db.DashboardStats, filters hostListFilters, items []db.HostListItem, pager hostPager) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<header class=\"page-header\"><p class=\"eyebrow\">Hostlink</p><h1>Hosts</h1><p class=\"subhead\">Hosts with their linked templates and discovery origin.</p></header>"); err != nil {
			return err
		}

		if _, err := io.WriteString(w, "<section class=\"card\"><div class=\"stats-grid\">"); err != nil {
			return err
		}
		for _, stat := range []struct {
			Label string
			Value int
		}{
			{"Hosts", stats.TotalHosts},
			{"Discovered", stats.DiscoveredHosts},
			{"Lost", stats.LostHosts},
			{"Templates", stats.Templates},
			{"Manual links", stats.Links.Manual},
			{"Inherited links", stats.Links.Inherited},
			{"Host-owned entities", stats.HostOwnedEntities},
		} {
			if _, err := fmt.Fprintf(w, "<div><p class=\"stat-label\">%s</p><p class=\"stat-value\">%s</p></div>", stat.Label, humanize.Comma(int64(stat.Value))); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</div></section>"); err != nil {
			return err
		}

		if _, err := io.WriteString(w, "<section class=\"card\"><div class=\"filters-wrap\"><form method=\"get\" class=\"filters\">"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<label>Name<input name=\"name\" placeholder=\"web-1\" value=\"%s\"></label>", html.EscapeString(filters.Name)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<label>Group<input name=\"group\" placeholder=\"Linux servers\" value=\"%s\"></label>", html.EscapeString(filters.Group)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<label>Subnet/CIDR<input name=\"subnet\" placeholder=\"10.0.0.0/24\" value=\"%s\"></label>", html.EscapeString(filters.Subnet)); err != nil {
			return err
		}
		if err := writeSelect(w, "Origin", "origin", filters.Origin, []option{
			{"", "Any"},
			{"manual", "Manual"},
			{"discovered", "Discovered"},
		}); err != nil {
			return err
		}
		if err := writeSelect(w, "Sort", "sort", filters.Sort, []option{
			{"name", "Name"},
			{"ip", "IP address"},
			{"templates", "Template count"},
			{"origin", "Origin"},
		}); err != nil {
			return err
		}
		if err := writeSelect(w, "Direction", "dir", filters.Dir, []option{
			{"asc", "Ascending"},
			{"desc", "Descending"},
		}); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<input type=\"hidden\" name=\"page\" value=\"1\"><div class=\"filter-actions\"><button type=\"submit\">Apply filters</button></div></form></div></section>"); err != nil {
			return err
		}

		if _, err := io.WriteString(w, "<section class=\"card\"><div class=\"table-wrap\"><table class=\"host-table\"><thead><tr><th>Name</th><th>Address</th><th>Origin</th><th>Status</th><th>Templates</th><th>Entities</th></tr></thead><tbody>"); err != nil {
			return err
		}
		if len(items) == 0 {
			if _, err := io.WriteString(w, "<tr><td colspan=\"6\" class=\"empty\">No hosts match the current filters.</td></tr>"); err != nil {
				return err
			}
		}
		for _, item := range items {
			origin := originBadge(item.Origin)
			if item.RuleName != "" {
				origin += " <span class=\"muted\">" + html.EscapeString(item.RuleName) + "</span>"
			}
			if _, err := fmt.Fprintf(w,
				"<tr><td><a href=\"/hosts/%d\">%s</a></td><td class=\"mono\">%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td></tr>",
				item.ID,
				html.EscapeString(item.Name()),
				html.EscapeString(item.MainAddress),
				origin,
				html.EscapeString(item.Status),
				item.Templates,
				item.Entities,
			); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</tbody></table></div></section>"); err != nil {
			return err
		}

		if pager.Show {
			if _, err := io.WriteString(w, "<div class=\"pager\">"); err != nil {
				return err
			}
			if pager.HasPrev {
				if _, err := fmt.Fprintf(w, "<a class=\"pager-link\" href=\"%s\">Previous</a>", html.EscapeString(pager.PrevURL)); err != nil {
					return err
				}
			} else if _, err := io.WriteString(w, "<span class=\"pager-link disabled\">Previous</span>"); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "<span class=\"pager-status\">Page %d of %d</span>", pager.Page, pager.LastPage); err != nil {
				return err
			}
			if pager.HasNext {
				if _, err := fmt.Fprintf(w, "<a class=\"pager-link\" href=\"%s\">Next</a>", html.EscapeString(pager.NextURL)); err != nil {
					return err
				}
			} else if _, err := io.WriteString(w, "<span class=\"pager-link disabled\">Next</span>"); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "</div>"); err != nil {
				return err
			}
		}

		if _, err := io.WriteString(w, "<div class=\"page-actions\"><a class=\"back-link\" href=\"/templates\">Templates</a><a class=\"back-link\" href=\"/export?format=json\">Export JSON</a><a class=\"back-link\" href=\"/export?format=csv\">Export CSV</a><a class=\"back-link\" href=\"/export?format=text\">Export text</a></div>"); err != nil {
			return err
		}
		return nil
	})
	return layout("Hostlink - Hosts", body)
}

func hostFormPage(view hostFormView) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		host := view.Host
		if _, err := fmt.Fprintf(w, "<header class=\"page-header\"><p class=\"eyebrow\">Host %s</p><h1>%s</h1><p class=\"subhead mono\">%s</p></header>", originBadge(string(host.Origin)), html.EscapeString(host.Name()), html.EscapeString(host.TechnicalName)); err != nil {
			return err
		}
		if view.Notice != "" {
			if _, err := fmt.Fprintf(w, "<p class=\"notice\">%s</p>", html.EscapeString(view.Notice)); err != nil {
				return err
			}
		}
		if view.Error != "" {
			if _, err := fmt.Fprintf(w, "<p class=\"error-banner\" role=\"alert\">%s</p>", html.EscapeString(view.Error)); err != nil {
				return err
			}
		}

		if host.Discovery != nil {
			if _, err := fmt.Fprintf(w, "<section class=\"card\"><dl class=\"host-meta\"><div><dt>Discovered by</dt><dd>%s</dd></div><div><dt>Host prototype</dt><dd class=\"mono\">#%d</dd></div></dl></section>", html.EscapeString(host.Discovery.RuleName), host.Discovery.PrototypeID); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintf(w, "<section class=\"card\"><h2>Host</h2><form method=\"post\" action=\"/hosts/%d\" class=\"inline-form\"><div class=\"field-grid\">", host.ID); err != nil {
			return err
		}
		for _, field := range view.Fields {
			disabled := ""
			if field.Disabled {
				disabled = " disabled"
			}
			if len(field.Options) > 0 {
				if _, err := fmt.Fprintf(w, "<label>%s<select name=\"%s\"%s>", html.EscapeString(field.Label), field.Field, disabled); err != nil {
					return err
				}
				for _, opt := range field.Options {
					selected := ""
					if opt == field.Value {
						selected = " selected"
					}
					if _, err := fmt.Fprintf(w, "<option value=\"%s\"%s>%s</option>", opt, selected, opt); err != nil {
						return err
					}
				}
				if _, err := io.WriteString(w, "</select></label>"); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintf(w, "<label>%s<input name=\"%s\" value=\"%s\"%s></label>", html.EscapeString(field.Label), field.Field, html.EscapeString(field.Value), disabled); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</div><div class=\"inline-form__row\"><button type=\"submit\">Update</button></div></form></section>"); err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "<section class=\"card\"><h2>Templates</h2><p class=\"muted\">%d entities on this host, %d host-owned.</p>", view.Entities, view.Owned); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<div class=\"table-wrap\"><table class=\"host-table\"><thead><tr><th>Name</th><th>Origin</th><th>Linked</th><th>Action</th></tr></thead><tbody>"); err != nil {
			return err
		}
		if len(view.Links) == 0 {
			if _, err := io.WriteString(w, "<tr><td colspan=\"4\" class=\"empty\">No templates linked.</td></tr>"); err != nil {
				return err
			}
		}
		for _, link := range view.Links {
			if _, err := fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td class=\"muted\">%s</td><td><div class=\"bulk-form\">", html.EscapeString(link.Name), originBadge(string(link.Origin)), html.EscapeString(link.Linked)); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "<form method=\"post\" action=\"/hosts/%d/templates/%d/unlink\"><button class=\"ghost\" type=\"submit\">Unlink</button></form>", host.ID, link.TemplateID); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "<form method=\"post\" action=\"/hosts/%d/templates/%d/unlink-and-clear\"><button class=\"ghost\" type=\"submit\">Unlink and clear</button></form>", host.ID, link.TemplateID); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "</div></td></tr>"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</tbody></table></div>"); err != nil {
			return err
		}
		if host.IsDiscovered() {
			if _, err := fmt.Fprintf(w, "<p class=\"hint\">%s</p>", html.EscapeString(discoveryHint)); err != nil {
				return err
			}
		}
		if len(view.Available) > 0 {
			if _, err := fmt.Fprintf(w, "<form method=\"post\" action=\"/hosts/%d/templates\" class=\"bulk-form\"><select name=\"template_id\">", host.ID); err != nil {
				return err
			}
			for _, t := range view.Available {
				if _, err := fmt.Fprintf(w, "<option value=\"%d\">%s</option>", t.ID, html.EscapeString(t.Name)); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "</select><button type=\"submit\">Link template</button></form>"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</section>"); err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "<div class=\"page-actions\"><a class=\"back-link\" href=\"/hosts/%d/export?format=json\">Export JSON</a><a class=\"back-link\" href=\"/hosts/%d/export?format=csv\">Export CSV</a><a class=\"back-link\" href=\"/hosts\">All hosts</a></div>", host.ID, host.ID); err != nil {
			return err
		}
		return nil
	})
	return layout("Hostlink - "+view.Host.Name(), body)
}

func templateListPage(templates []db.TemplateSummary) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<header class=\"page-header\"><p class=\"eyebrow\">Hostlink</p><h1>Templates</h1><p class=\"subhead\">Entity bundles available for linking.</p></header>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<section class=\"card\"><div class=\"table-wrap\"><table class=\"host-table\"><thead><tr><th>Name</th><th>Description</th><th>Entities</th><th>Hosts</th></tr></thead><tbody>"); err != nil {
			return err
		}
		if len(templates) == 0 {
			if _, err := io.WriteString(w, "<tr><td colspan=\"4\" class=\"empty\">No templates yet. Import a fixture to add some.</td></tr>"); err != nil {
				return err
			}
		}
		for _, t := range templates {
			if _, err := fmt.Fprintf(w, "<tr><td>%s</td><td class=\"muted\">%s</td><td>%d</td><td>%d</td></tr>", html.EscapeString(t.Name), html.EscapeString(t.Description), t.Entities, t.Hosts); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</tbody></table></div></section><div class=\"page-actions\"><a class=\"back-link\" href=\"/hosts\">All hosts</a></div>"); err != nil {
			return err
		}
		return nil
	})
	return layout("Hostlink - Templates", body)
}

const layoutStyles = `<style>
:root {
  --bg: #eef1f4; --panel: #fff; --ink: #1b2430; --muted: #66727f;
  --line: #d5dbe1; --accent: #b5462b; --accent-hover: #8f3520;
  --ok: #e7f4ea; --bad: #fbe9e6; --lock: #f1f3f5;
}
* { box-sizing: border-box; }
body { margin: 0; background: var(--bg); color: var(--ink); font: 15px/1.45 "Inter", "Segoe UI", Helvetica, Arial, sans-serif; }
.shell { max-width: 1040px; margin: 0 auto; padding: 28px 20px 56px; display: flex; flex-direction: column; gap: 18px; }
.page-header h1 { margin: 4px 0; font-size: 1.7rem; font-weight: 650; }
.eyebrow { margin: 0; font-size: 0.7rem; font-weight: 600; letter-spacing: 0.16em; text-transform: uppercase; color: var(--accent); }
.subhead, .muted, .empty, .pager-status { color: var(--muted); }
.subhead, .empty { margin: 0; }
.card { background: var(--panel); border: 1px solid var(--line); border-left: 3px solid var(--accent); border-radius: 4px; padding: 16px 18px; }
.page-actions, .bulk-form, .inline-form__row, .pager { display: flex; flex-wrap: wrap; align-items: center; gap: 10px; }
.inline-form { display: flex; flex-direction: column; gap: 12px; }
.pager { justify-content: space-between; margin-top: 12px; }
.back-link, .pager-link { color: var(--accent); font-weight: 600; text-decoration: none; }
.back-link:hover, .pager-link:hover { text-decoration: underline; }
.pager-link.disabled { color: var(--muted); pointer-events: none; }
input, select, textarea { font: inherit; padding: 7px 9px; border: 1px solid var(--line); border-radius: 3px; background: #fff; min-width: 160px; }
input:disabled, select:disabled { background: var(--lock); color: var(--muted); cursor: not-allowed; }
button { font: inherit; font-weight: 600; padding: 7px 14px; border: 1px solid var(--accent); border-radius: 3px; background: var(--accent); color: #fff; cursor: pointer; }
button:hover { background: var(--accent-hover); }
button.ghost { background: transparent; color: var(--accent); }
button.ghost:hover { background: var(--bad); }
.stats-grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(150px, 1fr)); gap: 10px; }
.stat-label { margin: 0; font-size: 0.75rem; text-transform: uppercase; color: var(--muted); }
.stat-value { margin: 2px 0 0; font-size: 1.35rem; font-weight: 650; }
.filters-wrap { width: 100%; }
.filters, .field-grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(200px, 1fr)); gap: 10px 14px; }
.filters label, .field-grid label { display: flex; flex-direction: column; gap: 4px; font-size: 0.8rem; color: var(--muted); }
.filter-actions { display: flex; align-items: flex-end; }
.table-wrap { overflow-x: auto; }
.host-table { width: 100%; border-collapse: collapse; }
.host-table th, .host-table td { padding: 8px 10px; border-bottom: 1px solid var(--line); text-align: left; vertical-align: middle; }
.host-table th { font-size: 0.72rem; text-transform: uppercase; letter-spacing: 0.06em; color: var(--muted); }
.host-table tbody tr:hover { background: #f7f9fa; }
.mono { font-family: "JetBrains Mono", Menlo, Consolas, monospace; font-size: 0.9em; }
.host-meta { display: grid; grid-template-columns: max-content 1fr; gap: 4px 16px; margin: 0; }
.host-meta div { display: contents; }
.host-meta dt { color: var(--muted); }
.host-meta dd { margin: 0; }
.notice, .error-banner { padding: 10px 14px; border-radius: 3px; }
.notice { background: var(--ok); border: 1px solid #b9dcc1; }
.error-banner { background: var(--bad); border: 1px solid #e6b4a9; }
.badge { display: inline-block; padding: 1px 8px; border-radius: 10px; font-size: 0.75rem; background: var(--lock); border: 1px solid var(--line); }
.badge.discovery { background: #fdf0e1; border-color: #eccaa0; }
.hint { margin: 10px 0 0; font-size: 0.85rem; color: var(--muted); }
</style>`

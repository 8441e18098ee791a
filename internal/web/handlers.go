package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/export"
	"github.com/sloppy/hostlink/internal/linkage"
)

type fieldView struct {
	Field    linkage.Field
	Label    string
	Value    string
	Options  []string
	Disabled bool
}

type linkView struct {
	TemplateID int64
	Name       string
	Origin     linkage.LinkOrigin
	Linked     string
}

type hostFormView struct {
	Host      *linkage.Host
	Fields    []fieldView
	Links     []linkView
	Available []db.TemplateSummary
	Entities  int
	Owned     int
	Notice    string
	Error     string
}

// formFields are the host attributes the console form edits directly.
var formFields = []linkage.Field{
	linkage.FieldTechnicalName,
	linkage.FieldVisibleName,
	linkage.FieldGroups,
	linkage.FieldStatus,
	linkage.FieldDescription,
	linkage.FieldMonitoredBy,
	linkage.FieldProxy,
	linkage.FieldInterfaceIP,
	linkage.FieldInterfaceDNS,
	linkage.FieldInterfacePort,
	linkage.FieldInventoryMode,
}

var fieldOptions = map[linkage.Field][]string{
	linkage.FieldStatus:        {"enabled", "disabled"},
	linkage.FieldMonitoredBy:   {"server", "proxy"},
	linkage.FieldInventoryMode: {"disabled", "manual", "automatic"},
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/hosts", http.StatusFound)
}

func (s *Server) handleHostList(w http.ResponseWriter, r *http.Request) {
	filters := parseHostListFilters(r)
	filter, err := filters.dbFilter()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, total, err := s.DB.ListHostsPaged(r.Context(), filter)
	if err != nil {
		if filters.Subnet != "" {
			http.Error(w, "invalid subnet filter", http.StatusBadRequest)
			return
		}
		s.Logger.Error("list hosts", zap.Error(err))
		http.Error(w, "failed to load hosts", http.StatusInternalServerError)
		return
	}
	stats, err := s.DB.GetDashboardStats(r.Context())
	if err != nil {
		s.Logger.Error("dashboard stats", zap.Error(err))
		http.Error(w, "failed to load dashboard stats", http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, hostListPage(stats, filters, items, buildHostPager(filters, total)))
}

func (s *Server) handleHostForm(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid host id", http.StatusBadRequest)
		return
	}
	s.renderHostForm(w, r, hostID, r.URL.Query().Get("notice"), nil)
}

// renderHostForm renders the host form. A non-nil opErr is shown as an error
// banner with the status code it maps to.
func (s *Server) renderHostForm(w http.ResponseWriter, r *http.Request, hostID int64, notice string, opErr error) {
	ctx := r.Context()
	host, found, err := s.DB.GetHost(ctx, hostID)
	if err != nil {
		s.Logger.Error("get host", zap.Int64("host_id", hostID), zap.Error(err))
		http.Error(w, "failed to load host", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "host not found", http.StatusNotFound)
		return
	}
	templates, err := s.DB.ListTemplates(ctx)
	if err != nil {
		http.Error(w, "failed to load templates", http.StatusInternalServerError)
		return
	}
	entities, err := s.DB.ListEntities(ctx, hostID)
	if err != nil {
		http.Error(w, "failed to load entities", http.StatusInternalServerError)
		return
	}

	view := hostFormView{Host: host, Notice: notice, Entities: len(entities)}
	for _, e := range entities {
		if !e.Templated() {
			view.Owned++
		}
	}
	policy := s.Engine.Policy()
	for _, f := range formFields {
		rule, ok := policy.Rule(f)
		if !ok {
			continue
		}
		view.Fields = append(view.Fields, fieldView{
			Field:    f,
			Label:    rule.Label,
			Value:    fieldValue(host, f),
			Options:  fieldOptions[f],
			Disabled: !policy.IsFieldEditable(host, f),
		})
	}
	names := make(map[int64]string, len(templates))
	for _, t := range templates {
		names[t.ID] = t.Name
		if !host.HasTemplate(t.ID) {
			view.Available = append(view.Available, t)
		}
	}
	for _, l := range host.Templates {
		view.Links = append(view.Links, linkView{
			TemplateID: l.TemplateID,
			Name:       names[l.TemplateID],
			Origin:     l.Origin,
			Linked:     humanize.Time(l.LinkedAt),
		})
	}

	status := http.StatusOK
	if opErr != nil {
		status = statusFor(opErr)
		view.Error = opErr.Error()
		if status == http.StatusInternalServerError {
			s.Logger.Error("host operation failed", zap.Int64("host_id", hostID), zap.Error(opErr))
			view.Error = "operation failed"
		}
	}
	render(w, r, status, hostFormPage(view))
}

func fieldValue(h *linkage.Host, f linkage.Field) string {
	main, _ := h.MainInterface()
	switch f {
	case linkage.FieldTechnicalName:
		return h.TechnicalName
	case linkage.FieldVisibleName:
		return h.VisibleName
	case linkage.FieldGroups:
		return strings.Join(h.Groups, ", ")
	case linkage.FieldStatus:
		return string(h.Status)
	case linkage.FieldDescription:
		return h.Description
	case linkage.FieldMonitoredBy:
		return string(h.MonitoredBy)
	case linkage.FieldProxy:
		return h.Proxy
	case linkage.FieldInterfaceIP:
		return main.IP
	case linkage.FieldInterfaceDNS:
		return main.DNS
	case linkage.FieldInterfacePort:
		return main.Port
	case linkage.FieldInventoryMode:
		return h.InventoryMode
	}
	return ""
}

// formUpdate builds a partial update from the submitted fields that differ
// from the stored host. Disabled inputs are not submitted by browsers.
func formUpdate(h *linkage.Host, r *http.Request) linkage.HostUpdate {
	var upd linkage.HostUpdate
	changed := func(f linkage.Field) (string, bool) {
		if _, ok := r.PostForm[string(f)]; !ok {
			return "", false
		}
		v := strings.TrimSpace(r.PostFormValue(string(f)))
		return v, v != fieldValue(h, f)
	}
	if v, ok := changed(linkage.FieldTechnicalName); ok {
		upd.TechnicalName = &v
	}
	if v, ok := changed(linkage.FieldVisibleName); ok {
		upd.VisibleName = &v
	}
	if v, ok := changed(linkage.FieldGroups); ok {
		upd.Groups = splitList(v)
	}
	if v, ok := changed(linkage.FieldStatus); ok {
		status := linkage.Status(v)
		upd.Status = &status
	}
	if v, ok := changed(linkage.FieldDescription); ok {
		upd.Description = &v
	}
	if v, ok := changed(linkage.FieldMonitoredBy); ok {
		by := linkage.MonitoredBy(v)
		upd.MonitoredBy = &by
	}
	if v, ok := changed(linkage.FieldProxy); ok {
		upd.Proxy = &v
	}
	if v, ok := changed(linkage.FieldInventoryMode); ok {
		upd.InventoryMode = &v
	}

	ip, ipChanged := changed(linkage.FieldInterfaceIP)
	dns, dnsChanged := changed(linkage.FieldInterfaceDNS)
	port, portChanged := changed(linkage.FieldInterfacePort)
	if ipChanged || dnsChanged || portChanged {
		ifaces := append([]linkage.Interface(nil), h.Interfaces...)
		idx := -1
		for i := range ifaces {
			if ifaces[i].Main {
				idx = i
				break
			}
		}
		if idx < 0 {
			ifaces = append(ifaces, linkage.Interface{Type: "agent", UseIP: true, Main: true, Port: "10050"})
			idx = len(ifaces) - 1
		}
		if ipChanged {
			ifaces[idx].IP = ip
		}
		if dnsChanged {
			ifaces[idx].DNS = dns
		}
		if portChanged {
			ifaces[idx].Port = port
		}
		upd.Interfaces = ifaces
	}
	return upd
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) handleHostUpdate(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid host id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	host, found, err := s.DB.GetHost(r.Context(), hostID)
	if err != nil {
		http.Error(w, "failed to load host", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "host not found", http.StatusNotFound)
		return
	}
	upd := formUpdate(host, r)
	if len(upd.Fields(host)) == 0 {
		http.Redirect(w, r, hostLink(hostID, "Nothing to update"), http.StatusSeeOther)
		return
	}
	if _, err := s.Engine.UpdateHost(r.Context(), hostID, upd); err != nil {
		s.renderHostForm(w, r, hostID, "", err)
		return
	}
	http.Redirect(w, r, hostLink(hostID, "Host updated"), http.StatusSeeOther)
}

func (s *Server) handleTemplateAttach(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid host id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	templateID, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("template_id")), 10, 64)
	if err != nil {
		http.Error(w, "invalid template id", http.StatusBadRequest)
		return
	}
	res, err := s.Engine.AttachTemplate(r.Context(), hostID, templateID)
	if err != nil {
		s.renderHostForm(w, r, hostID, "", err)
		return
	}
	notice := fmt.Sprintf("Template linked: %d entities created, %d kept entities linked again", res.Created, res.Retagged)
	http.Redirect(w, r, hostLink(hostID, notice), http.StatusSeeOther)
}

func (s *Server) handleTemplateUnlink(w http.ResponseWriter, r *http.Request) {
	s.unlinkTemplate(w, r, linkage.UnlinkKeep)
}

func (s *Server) handleTemplateUnlinkAndClear(w http.ResponseWriter, r *http.Request) {
	s.unlinkTemplate(w, r, linkage.UnlinkClear)
}

func (s *Server) unlinkTemplate(w http.ResponseWriter, r *http.Request, mode linkage.UnlinkMode) {
	hostID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid host id", http.StatusBadRequest)
		return
	}
	templateID, err := parseID(r, "templateID")
	if err != nil {
		http.Error(w, "invalid template id", http.StatusBadRequest)
		return
	}
	res, err := s.Engine.Unlink(r.Context(), hostID, templateID, mode)
	if err != nil {
		s.renderHostForm(w, r, hostID, "", err)
		return
	}
	notice := fmt.Sprintf("Template unlinked: %d entities kept", res.Detached)
	if mode == linkage.UnlinkClear {
		notice = fmt.Sprintf("Template unlinked and cleared: %d entities deleted", res.Deleted)
	}
	if res.Note != "" {
		notice += ". " + res.Note
	}
	http.Redirect(w, r, hostLink(hostID, notice), http.StatusSeeOther)
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	templates, err := s.DB.ListTemplates(r.Context())
	if err != nil {
		http.Error(w, "failed to load templates", http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, templateListPage(templates))
}

func (s *Server) handleHostExport(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid host id", http.StatusBadRequest)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "json"
	}
	filename := fmt.Sprintf("host-%d.%s", hostID, exportExt(format))

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
		err = export.ExportHostJSON(r.Context(), s.DB, hostID, w)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
		err = export.ExportHostCSV(r.Context(), s.DB, hostID, w)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = export.ExportHostText(r.Context(), s.DB, hostID, w)
	default:
		http.Error(w, "invalid export format", http.StatusBadRequest)
		return
	}
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "host not found", http.StatusNotFound)
			return
		}
		http.Error(w, "export failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleInventoryExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "json"
	}
	var err error
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=\"hosts.json\"")
		err = export.ExportInventoryJSON(r.Context(), s.DB, w)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=\"hosts.csv\"")
		err = export.ExportInventoryCSV(r.Context(), s.DB, w)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = export.ExportInventoryText(r.Context(), s.DB, w)
	default:
		http.Error(w, "invalid export format", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
	}
}

func exportExt(format string) string {
	if format == "text" {
		return "txt"
	}
	return format
}

package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/importer"
	"github.com/sloppy/hostlink/internal/linkage"
)

const maxBodyBytes = 10 << 20

type hostPage struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

type fieldState struct {
	Field    linkage.Field      `json:"field"`
	Label    string             `json:"label"`
	Group    linkage.FieldGroup `json:"group"`
	Kind     linkage.ValueKind  `json:"kind"`
	Editable bool               `json:"editable"`
}

type attachRequest struct {
	TemplateID int64 `json:"template_id"`
}

// removeRequest mirrors the host form's two removal buttons. Templates under
// unlink keep their entities; those under unlink_and_clear delete them, and
// every unlink runs before the first unlink_and_clear. Requests lists
// removals in the exact order to apply them and cannot be combined with the
// two lists.
type removeRequest struct {
	Unlink         []int64         `json:"unlink"`
	UnlinkAndClear []int64         `json:"unlink_and_clear"`
	Requests       []orderedUnlink `json:"requests"`
}

type orderedUnlink struct {
	TemplateID int64  `json:"template_id"`
	Mode       string `json:"mode"`
}

func (req removeRequest) unlinkRequests() ([]linkage.UnlinkRequest, error) {
	if len(req.Requests) > 0 && len(req.Unlink)+len(req.UnlinkAndClear) > 0 {
		return nil, errors.New("requests cannot be combined with unlink or unlink_and_clear")
	}
	reqs := make([]linkage.UnlinkRequest, 0, len(req.Requests)+len(req.Unlink)+len(req.UnlinkAndClear))
	for _, r := range req.Requests {
		mode, err := linkage.ParseUnlinkMode(r.Mode)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", r.TemplateID, err)
		}
		reqs = append(reqs, linkage.UnlinkRequest{TemplateID: r.TemplateID, Mode: mode})
	}
	for _, id := range req.Unlink {
		reqs = append(reqs, linkage.UnlinkRequest{TemplateID: id, Mode: linkage.UnlinkKeep})
	}
	for _, id := range req.UnlinkAndClear {
		reqs = append(reqs, linkage.UnlinkRequest{TemplateID: id, Mode: linkage.UnlinkClear})
	}
	if len(reqs) == 0 {
		return nil, errors.New("no templates to remove")
	}
	return reqs, nil
}

type discoverRequest struct {
	Rows []discovery.Row `json:"rows"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.badRequest(w, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) apiStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetDashboardStats(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, stats, http.StatusOK)
}

func (s *Server) apiListHosts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHostListFilters(r).dbFilter()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	items, total, err := s.DB.ListHostsPaged(r.Context(), filter)
	if err != nil {
		if filter.Subnet != "" {
			s.badRequest(w, err)
			return
		}
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, hostPage{Items: items, Total: total}, http.StatusOK)
}

func (s *Server) apiCreateHost(w http.ResponseWriter, r *http.Request) {
	var spec linkage.HostSpec
	if !s.decode(w, r, &spec) {
		return
	}
	host, err := s.Engine.CreateHost(r.Context(), spec)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, host, http.StatusCreated)
}

func (s *Server) apiGetHost(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	host, err := s.Engine.GetHost(r.Context(), hostID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, host, http.StatusOK)
}

func (s *Server) apiUpdateHost(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var upd linkage.HostUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	host, err := s.Engine.UpdateHost(r.Context(), hostID, upd)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, host, http.StatusOK)
}

func (s *Server) apiDeleteHost(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.Engine.DeleteHost(r.Context(), hostID); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiHostFields reports which host attributes may be edited on this host.
func (s *Server) apiHostFields(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	host, err := s.Engine.GetHost(r.Context(), hostID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	policy := s.Engine.Policy()
	if name := r.URL.Query().Get("field"); name != "" {
		f := linkage.Field(name)
		rule, _ := policy.Rule(f)
		s.jsonResponse(w, fieldState{
			Field:    f,
			Label:    rule.Label,
			Group:    rule.Group,
			Kind:     rule.Kind,
			Editable: policy.IsFieldEditable(host, f),
		}, http.StatusOK)
		return
	}
	rules := policy.Rules()
	states := make([]fieldState, 0, len(rules))
	for _, rule := range rules {
		states = append(states, fieldState{
			Field:    rule.Field,
			Label:    rule.Label,
			Group:    rule.Group,
			Kind:     rule.Kind,
			Editable: policy.IsFieldEditable(host, rule.Field),
		})
	}
	s.jsonResponse(w, states, http.StatusOK)
}

func (s *Server) apiHostEntities(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if _, err := s.Engine.GetHost(r.Context(), hostID); err != nil {
		s.errorResponse(w, err)
		return
	}
	entities, err := s.DB.ListEntities(r.Context(), hostID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, entities, http.StatusOK)
}

func (s *Server) apiHostAudit(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 || val > 1000 {
			s.badRequest(w, errors.New("limit must be between 1 and 1000"))
			return
		}
		limit = val
	}
	records, err := s.DB.ListAudit(r.Context(), hostID, limit)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, records, http.StatusOK)
}

func (s *Server) apiAttachTemplate(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req attachRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TemplateID <= 0 {
		s.badRequest(w, errors.New("template_id is required"))
		return
	}
	res, err := s.Engine.AttachTemplate(r.Context(), hostID, req.TemplateID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, res, http.StatusOK)
}

// apiRemoveTemplates applies a batch of unlink requests in one transaction.
// See removeRequest for the order they run in.
func (s *Server) apiRemoveTemplates(w http.ResponseWriter, r *http.Request) {
	hostID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req removeRequest
	if !s.decode(w, r, &req) {
		return
	}
	reqs, err := req.unlinkRequests()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	results, err := s.Engine.UnlinkBatch(r.Context(), hostID, reqs)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, results, http.StatusOK)
}

func (s *Server) apiListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.DB.ListTemplates(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, templates, http.StatusOK)
}

func (s *Server) apiListPrototypes(w http.ResponseWriter, r *http.Request) {
	prototypes, err := s.DB.ListPrototypes(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, prototypes, http.StatusOK)
}

// apiDiscover runs one discovery cycle for a prototype with the posted rows.
func (s *Server) apiDiscover(w http.ResponseWriter, r *http.Request) {
	if s.Discovery == nil {
		s.jsonResponse(w, errorBody{Error: "unavailable", Message: "discovery is not configured"}, http.StatusServiceUnavailable)
		return
	}
	protoID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req discoverRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Discovery.Apply(r.Context(), protoID, req.Rows)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.Logger.Info("discovery cycle",
		zap.Int64("prototype_id", protoID),
		zap.Int("created", len(res.Created)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("removed", len(res.Removed)))
	s.jsonResponse(w, res, http.StatusOK)
}

// apiImport loads a YAML fixture of templates, discovery rules and hosts.
func (s *Server) apiImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	fx, err := importer.Parse(r.Body)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	stats, err := importer.Import(r.Context(), s.DB, s.Engine, fx)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{
		"success":          true,
		"templates":        stats.Templates,
		"templates_kept":   stats.TemplatesKept,
		"rules":            stats.Rules,
		"prototypes":       stats.Prototypes,
		"prototype_ids":    stats.PrototypeIDs,
		"hosts":            stats.Hosts,
		"hosts_skipped":    stats.HostsSkipped,
		"linked_templates": stats.LinkedTemplates,
	}, http.StatusOK)
}

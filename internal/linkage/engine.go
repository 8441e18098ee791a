package linkage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnlinkMode selects what happens to entities tagged with the removed template.
type UnlinkMode int

const (
	// UnlinkKeep strips the template tag and keeps the entities on the host.
	UnlinkKeep UnlinkMode = iota + 1
	// UnlinkClear deletes the entities.
	UnlinkClear
)

func (m UnlinkMode) String() string {
	switch m {
	case UnlinkKeep:
		return "unlink"
	case UnlinkClear:
		return "unlink_and_clear"
	default:
		return fmt.Sprintf("UnlinkMode(%d)", int(m))
	}
}

// ParseUnlinkMode accepts the names returned by String.
func ParseUnlinkMode(s string) (UnlinkMode, error) {
	switch s {
	case "unlink", "keep":
		return UnlinkKeep, nil
	case "unlink_and_clear", "unlink-and-clear", "clear":
		return UnlinkClear, nil
	default:
		return 0, fmt.Errorf("unknown unlink mode %q", s)
	}
}

func (m UnlinkMode) action() Action {
	if m == UnlinkClear {
		return ActionUnlinkClear
	}
	return ActionUnlink
}

// UnlinkRequest removes one template in one mode.
type UnlinkRequest struct {
	TemplateID int64
	Mode       UnlinkMode
}

// UnlinkResult reports what removing one link did. Note is set when the link
// will come back on the next discovery cycle.
type UnlinkResult struct {
	HostID     int64      `json:"host_id"`
	TemplateID int64      `json:"template_id"`
	Mode       string     `json:"mode"`
	Origin     LinkOrigin `json:"origin"`
	Detached   int        `json:"detached"`
	Deleted    int        `json:"deleted"`
	Note       string     `json:"note,omitempty"`
}

// AttachResult reports what attaching a template did.
type AttachResult struct {
	Link     TemplateLink `json:"link"`
	Created  int          `json:"created"`
	Retagged int          `json:"retagged"`
}

// SyncResult reports how a discovered host was brought in line with its
// prototype.
type SyncResult struct {
	Host      *Host          `json:"host"`
	Relinked  []int64        `json:"relinked"`
	Converted []int64        `json:"converted"`
	Removed   []UnlinkResult `json:"removed"`
}

// Engine executes linkage operations. Each call runs in one store transaction.
type Engine struct {
	store     Store
	validator Validator
	policy    *Policy
	logger    *zap.Logger
	recorder  Recorder
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p *Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOperationIDs sets the audit operation ID generator.
func WithOperationIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine returns an engine. A nil validator skips host validation.
func NewEngine(store Store, validator Validator, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     store,
		validator: validator,
		policy:    DefaultPolicy,
		logger:    logger.Named("linkage"),
		recorder:  nopRecorder{},
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the field policy in use.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// op carries the per-call state shared by helpers.
type op struct {
	id  string
	now time.Time
	tx  Tx
}

func (e *Engine) run(ctx context.Context, action Action, fn func(ctx context.Context, o *op) error) error {
	start := time.Now()
	o := &op{id: e.newID(), now: e.now()}
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		o.tx = tx
		return fn(ctx, o)
	})
	e.recorder.ObserveOperation(action, err, time.Since(start))
	if err != nil {
		e.logger.Debug("operation refused",
			zap.String("action", string(action)),
			zap.String("operation_id", o.id),
			zap.Error(err))
	}
	return err
}

func (e *Engine) loadHost(ctx context.Context, tx Tx, hostID int64) (*Host, error) {
	h, ok, err := tx.GetHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("get host: %w", err)
	}
	if !ok {
		return nil, hostNotFound(hostID)
	}
	return h, nil
}

func (e *Engine) validate(ctx context.Context, tx Tx, h *Host) error {
	if err := h.CheckInvariants(); err != nil {
		return err
	}
	if e.validator == nil {
		return nil
	}
	if err := e.validator.ValidateHost(ctx, tx, h); err != nil {
		return &Error{
			Kind:    KindInvalidState,
			HostID:  h.ID,
			Message: fmt.Sprintf("host %q is invalid", h.TechnicalName),
			Err:     err,
		}
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, o *op, rec AuditRecord) error {
	rec.OperationID = o.id
	rec.At = o.now
	if err := o.tx.RecordAudit(ctx, rec); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// CreateHost creates a manual host and links spec.Templates to it.
func (e *Engine) CreateHost(ctx context.Context, spec HostSpec) (*Host, error) {
	var created *Host
	err := e.run(ctx, ActionCreateHost, func(ctx context.Context, o *op) error {
		h := NewHost(spec, OriginManual, nil, o.now)
		if err := e.validate(ctx, o.tx, h); err != nil {
			return err
		}
		if err := o.tx.InsertHost(ctx, h); err != nil {
			return fmt.Errorf("insert host: %w", err)
		}
		if err := e.audit(ctx, o, AuditRecord{Action: ActionCreateHost, HostID: h.ID, HostName: h.TechnicalName}); err != nil {
			return err
		}
		for _, templateID := range spec.Templates {
			if _, err := e.attach(ctx, o, h, templateID, LinkManual); err != nil {
				return err
			}
		}
		created = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("host created",
		zap.Int64("host_id", created.ID),
		zap.String("host", created.TechnicalName),
		zap.Int("templates", len(created.Templates)))
	return created, nil
}

// GetHost returns a host with its template links.
func (e *Engine) GetHost(ctx context.Context, hostID int64) (*Host, error) {
	var h *Host
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		h, err = e.loadHost(ctx, tx, hostID)
		return err
	})
	return h, err
}

// UpdateHost applies a partial update after checking the field policy.
func (e *Engine) UpdateHost(ctx context.Context, hostID int64, upd HostUpdate) (*Host, error) {
	var updated *Host
	err := e.run(ctx, ActionUpdateHost, func(ctx context.Context, o *op) error {
		h, err := e.loadHost(ctx, o.tx, hostID)
		if err != nil {
			return err
		}
		if err := e.policy.CheckUpdate(h, upd.Fields(h)...); err != nil {
			return err
		}
		upd.Apply(h, o.now)
		if err := e.validate(ctx, o.tx, h); err != nil {
			return err
		}
		if err := o.tx.UpdateHost(ctx, h); err != nil {
			return fmt.Errorf("update host: %w", err)
		}
		updated = h
		return e.audit(ctx, o, AuditRecord{Action: ActionUpdateHost, HostID: h.ID, HostName: h.TechnicalName})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteHost deletes a manual host with its links and entities. Discovered
// hosts are removed by discovery only.
func (e *Engine) DeleteHost(ctx context.Context, hostID int64) error {
	return e.run(ctx, ActionDeleteHost, func(ctx context.Context, o *op) error {
		h, err := e.loadHost(ctx, o.tx, hostID)
		if err != nil {
			return err
		}
		if h.IsDiscovered() {
			return invalidState(h.ID, "discovered host %q cannot be deleted; it is removed by its discovery rule", h.Name())
		}
		return e.deleteHost(ctx, o, h, ActionDeleteHost)
	})
}

func (e *Engine) deleteHost(ctx context.Context, o *op, h *Host, action Action) error {
	entities, err := o.tx.ListEntities(ctx, h.ID)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	if err := o.tx.DeleteHost(ctx, h.ID); err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	e.recorder.ObserveEntities(action, 0, len(entities))
	e.logger.Info("host deleted",
		zap.Int64("host_id", h.ID),
		zap.String("host", h.TechnicalName),
		zap.Int("links", len(h.Templates)),
		zap.Int("entities", len(entities)))
	return e.audit(ctx, o, AuditRecord{Action: action, HostID: h.ID, HostName: h.TechnicalName, Deleted: len(entities)})
}

// AttachTemplate links a template to a host as a manual link and instantiates
// the template's entities.
func (e *Engine) AttachTemplate(ctx context.Context, hostID, templateID int64) (AttachResult, error) {
	var res AttachResult
	err := e.run(ctx, ActionAttach, func(ctx context.Context, o *op) error {
		h, err := e.loadHost(ctx, o.tx, hostID)
		if err != nil {
			return err
		}
		res, err = e.attach(ctx, o, h, templateID, LinkManual)
		return err
	})
	if err != nil {
		return AttachResult{}, err
	}
	return res, nil
}

func (e *Engine) attach(ctx context.Context, o *op, h *Host, templateID int64, origin LinkOrigin) (AttachResult, error) {
	tmpl, ok, err := o.tx.GetTemplate(ctx, templateID)
	if err != nil {
		return AttachResult{}, fmt.Errorf("get template: %w", err)
	}
	if !ok {
		return AttachResult{}, templateNotFound(templateID)
	}
	link, err := h.Attach(templateID, origin, o.now)
	if err != nil {
		return AttachResult{}, err
	}
	if err := o.tx.InsertLink(ctx, link); err != nil {
		return AttachResult{}, fmt.Errorf("insert link: %w", err)
	}
	created, retagged, err := e.instantiate(ctx, o.tx, h, tmpl)
	if err != nil {
		return AttachResult{}, err
	}
	action := ActionAttach
	if origin == LinkDiscoveryInherited {
		action = ActionRelink
	}
	if err := e.audit(ctx, o, AuditRecord{
		Action:     action,
		HostID:     h.ID,
		HostName:   h.TechnicalName,
		TemplateID: templateID,
		Origin:     origin,
	}); err != nil {
		return AttachResult{}, err
	}
	e.logger.Info("template linked",
		zap.Int64("host_id", h.ID),
		zap.Int64("template_id", templateID),
		zap.String("origin", string(origin)),
		zap.Int("created", created),
		zap.Int("retagged", retagged))
	return AttachResult{Link: link, Created: created, Retagged: retagged}, nil
}

// instantiate copies template definitions onto the host. A host-owned entity
// of the same kind and name is tagged instead of duplicated. Triggers are
// created after the triggers they depend on, whatever the definition order.
func (e *Engine) instantiate(ctx context.Context, tx Tx, h *Host, tmpl *Template) (created, retagged int, err error) {
	existing, err := tx.ListEntities(ctx, h.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("list entities: %w", err)
	}
	type entityKey struct {
		kind EntityKind
		name string
	}
	byKey := make(map[entityKey]Entity, len(existing))
	for _, ent := range existing {
		byKey[entityKey{ent.Kind, ent.Name}] = ent
	}

	var pending []EntityDefinition
	for _, def := range tmpl.Entities {
		ent, ok := byKey[entityKey{def.Kind, def.Name}]
		if !ok {
			pending = append(pending, def)
			continue
		}
		if ent.Templated() {
			return 0, 0, invalidState(h.ID, "%s %q on host %q already belongs to template %d",
				def.Kind, def.Name, h.TechnicalName, *ent.SourceTemplateID)
		}
		if err := tx.TagEntity(ctx, ent.ID, tmpl.ID); err != nil {
			return 0, 0, fmt.Errorf("tag entity: %w", err)
		}
		retagged++
	}

	for len(pending) > 0 {
		var deferred []EntityDefinition
		for _, def := range pending {
			templateID := tmpl.ID
			ent := &Entity{HostID: h.ID, Kind: def.Kind, Name: def.Name, SourceTemplateID: &templateID}
			if def.DependsOn != "" {
				dep, ok := byKey[entityKey{KindTrigger, def.DependsOn}]
				if !ok {
					deferred = append(deferred, def)
					continue
				}
				depID := dep.ID
				ent.DependsOn = &depID
			}
			if err := tx.InsertEntity(ctx, ent); err != nil {
				return 0, 0, fmt.Errorf("insert entity: %w", err)
			}
			byKey[entityKey{def.Kind, def.Name}] = *ent
			created++
		}
		if len(deferred) == len(pending) {
			def := deferred[0]
			for _, other := range deferred {
				if other.Kind == KindTrigger && other.Name == def.DependsOn {
					return 0, 0, invalidState(h.ID, "trigger %q of template %q is part of a dependency cycle",
						def.Name, tmpl.Name)
				}
			}
			return 0, 0, invalidState(h.ID, "trigger %q of template %q depends on unknown trigger %q",
				def.Name, tmpl.Name, def.DependsOn)
		}
		pending = deferred
	}
	return created, retagged, nil
}

// Unlink removes one template from a host.
func (e *Engine) Unlink(ctx context.Context, hostID, templateID int64, mode UnlinkMode) (UnlinkResult, error) {
	results, err := e.UnlinkBatch(ctx, hostID, []UnlinkRequest{{TemplateID: templateID, Mode: mode}})
	if err != nil {
		return UnlinkResult{}, err
	}
	return results[0], nil
}

// UnlinkBatch removes templates in the order given. Either every request is
// applied or none is.
func (e *Engine) UnlinkBatch(ctx context.Context, hostID int64, reqs []UnlinkRequest) ([]UnlinkResult, error) {
	var results []UnlinkResult
	err := e.run(ctx, batchAction(reqs), func(ctx context.Context, o *op) error {
		h, err := e.loadHost(ctx, o.tx, hostID)
		if err != nil {
			return err
		}
		results, err = e.unlinkAll(ctx, o, h, reqs)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		e.logger.Info("template unlinked",
			zap.Int64("host_id", r.HostID),
			zap.Int64("template_id", r.TemplateID),
			zap.String("mode", r.Mode),
			zap.String("origin", string(r.Origin)),
			zap.Int("detached", r.Detached),
			zap.Int("deleted", r.Deleted))
	}
	return results, nil
}

func batchAction(reqs []UnlinkRequest) Action {
	for _, r := range reqs {
		if r.Mode == UnlinkClear {
			return ActionUnlinkClear
		}
	}
	return ActionUnlink
}

func (e *Engine) unlinkAll(ctx context.Context, o *op, h *Host, reqs []UnlinkRequest) ([]UnlinkResult, error) {
	if err := checkBatch(h, reqs); err != nil {
		return nil, err
	}
	if err := e.checkTriggerDependencies(ctx, o.tx, h, reqs); err != nil {
		return nil, err
	}

	results := make([]UnlinkResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := e.unlinkOne(ctx, o, h, req)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// checkBatch rejects malformed batches before anything is touched. Missing
// links are reported for the first one in caller order.
func checkBatch(h *Host, reqs []UnlinkRequest) error {
	if len(reqs) == 0 {
		return invalidState(h.ID, "no templates to unlink from host %q", h.TechnicalName)
	}
	modes := make(map[int64]UnlinkMode, len(reqs))
	for _, req := range reqs {
		if req.Mode != UnlinkKeep && req.Mode != UnlinkClear {
			return invalidState(h.ID, "invalid unlink mode %s for template %d", req.Mode, req.TemplateID)
		}
		if prev, dup := modes[req.TemplateID]; dup {
			if prev != req.Mode {
				return invalidState(h.ID, "template %d cannot be specified for both unlink and unlink and clear", req.TemplateID)
			}
			return invalidState(h.ID, "template %d is specified more than once", req.TemplateID)
		}
		modes[req.TemplateID] = req.Mode
	}
	for _, req := range reqs {
		if !h.HasTemplate(req.TemplateID) {
			return linkNotFound(h, req.TemplateID)
		}
	}
	return nil
}

// checkTriggerDependencies refuses a clear that would delete a trigger another
// surviving trigger depends on.
func (e *Engine) checkTriggerDependencies(ctx context.Context, tx Tx, h *Host, reqs []UnlinkRequest) error {
	cleared := make(map[int64]struct{})
	for _, req := range reqs {
		if req.Mode == UnlinkClear {
			cleared[req.TemplateID] = struct{}{}
		}
	}
	if len(cleared) == 0 {
		return nil
	}

	entities, err := tx.ListEntities(ctx, h.ID)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	doomed := make(map[int64]Entity)
	for _, ent := range entities {
		if ent.SourceTemplateID == nil {
			continue
		}
		if _, ok := cleared[*ent.SourceTemplateID]; ok {
			doomed[ent.ID] = ent
		}
	}
	for _, ent := range entities {
		if ent.Kind != KindTrigger || ent.DependsOn == nil {
			continue
		}
		if _, gone := doomed[ent.ID]; gone {
			continue
		}
		target, gone := doomed[*ent.DependsOn]
		if !gone {
			continue
		}
		templateName := fmt.Sprintf("%d", *target.SourceTemplateID)
		if tmpl, ok, err := tx.GetTemplate(ctx, *target.SourceTemplateID); err != nil {
			return fmt.Errorf("get template: %w", err)
		} else if ok {
			templateName = tmpl.Name
		}
		return &Error{
			Kind:       KindInvalidState,
			HostID:     h.ID,
			TemplateID: *target.SourceTemplateID,
			Message: fmt.Sprintf("cannot unlink template %q from host %q due to dependency of trigger %q",
				templateName, h.TechnicalName, ent.Name),
		}
	}
	return nil
}

func (e *Engine) unlinkOne(ctx context.Context, o *op, h *Host, req UnlinkRequest) (UnlinkResult, error) {
	link, err := h.Detach(req.TemplateID)
	if err != nil {
		return UnlinkResult{}, err
	}
	if err := o.tx.DeleteLink(ctx, link.Key()); err != nil {
		return UnlinkResult{}, fmt.Errorf("delete link: %w", err)
	}
	entities, err := o.tx.FindByHostAndTemplate(ctx, h.ID, req.TemplateID)
	if err != nil {
		return UnlinkResult{}, fmt.Errorf("find entities: %w", err)
	}

	res := UnlinkResult{
		HostID:     h.ID,
		TemplateID: req.TemplateID,
		Mode:       req.Mode.String(),
		Origin:     link.Origin,
	}
	for _, ent := range entities {
		switch req.Mode {
		case UnlinkKeep:
			if err := o.tx.DetachTemplateTag(ctx, ent.ID); err != nil {
				return UnlinkResult{}, fmt.Errorf("detach entity %d: %w", ent.ID, err)
			}
			res.Detached++
		case UnlinkClear:
			if err := o.tx.DeleteEntity(ctx, ent.ID); err != nil {
				return UnlinkResult{}, fmt.Errorf("delete entity %d: %w", ent.ID, err)
			}
			res.Deleted++
		}
	}
	if link.Origin == LinkDiscoveryInherited && h.IsDiscovered() {
		res.Note = fmt.Sprintf("template %d was linked by host prototype %d and will be linked again on the next discovery cycle unless the prototype drops it",
			req.TemplateID, h.Discovery.PrototypeID)
	}
	e.recorder.ObserveEntities(req.Mode.action(), res.Detached, res.Deleted)

	if err := e.audit(ctx, o, AuditRecord{
		Action:     req.Mode.action(),
		HostID:     h.ID,
		HostName:   h.TechnicalName,
		TemplateID: req.TemplateID,
		Origin:     link.Origin,
		Detached:   res.Detached,
		Deleted:    res.Deleted,
		Note:       res.Note,
	}); err != nil {
		return UnlinkResult{}, err
	}
	return res, nil
}

// RegisterDiscoveredHost creates a host from a resolved prototype and links
// the prototype's templates as inherited links.
func (e *Engine) RegisterDiscoveredHost(ctx context.Context, spec HostSpec, ref DiscoveryRef, templateIDs []int64) (*Host, error) {
	var created *Host
	err := e.run(ctx, ActionDiscoverHost, func(ctx context.Context, o *op) error {
		h := NewHost(spec, OriginDiscovered, &ref, o.now)
		if err := e.validate(ctx, o.tx, h); err != nil {
			return err
		}
		if err := o.tx.InsertHost(ctx, h); err != nil {
			return fmt.Errorf("insert host: %w", err)
		}
		if err := e.audit(ctx, o, AuditRecord{Action: ActionDiscoverHost, HostID: h.ID, HostName: h.TechnicalName}); err != nil {
			return err
		}
		for _, templateID := range templateIDs {
			if _, err := e.attach(ctx, o, h, templateID, LinkDiscoveryInherited); err != nil {
				return err
			}
		}
		created = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("discovered host created",
		zap.Int64("host_id", created.ID),
		zap.String("host", created.TechnicalName),
		zap.Int64("prototype_id", ref.PrototypeID))
	return created, nil
}

// SyncDiscoveredHost refreshes the fields discovery owns and reconciles links
// with the prototype's template set. Inherited links the prototype no longer
// lists are cleared, manual links to prototype templates become inherited,
// and missing prototype templates are linked again.
func (e *Engine) SyncDiscoveredHost(ctx context.Context, hostID int64, spec HostSpec, templateIDs []int64) (SyncResult, error) {
	var res SyncResult
	err := e.run(ctx, ActionRelink, func(ctx context.Context, o *op) error {
		h, err := e.loadHost(ctx, o.tx, hostID)
		if err != nil {
			return err
		}
		if !h.IsDiscovered() {
			return invalidState(h.ID, "host %q was not discovered", h.TechnicalName)
		}

		h.TechnicalName = spec.TechnicalName
		h.VisibleName = spec.VisibleName
		h.Groups = append([]string(nil), spec.Groups...)
		if spec.Interfaces != nil {
			h.Interfaces = append([]Interface(nil), spec.Interfaces...)
		}
		h.UpdatedAt = o.now
		if err := e.validate(ctx, o.tx, h); err != nil {
			return err
		}
		if err := o.tx.UpdateHost(ctx, h); err != nil {
			return fmt.Errorf("update host: %w", err)
		}

		want := make(map[int64]bool, len(templateIDs))
		for _, id := range templateIDs {
			want[id] = true
		}

		var drop []UnlinkRequest
		for _, link := range h.Templates {
			switch {
			case !want[link.TemplateID] && link.Origin == LinkDiscoveryInherited:
				drop = append(drop, UnlinkRequest{TemplateID: link.TemplateID, Mode: UnlinkClear})
			case want[link.TemplateID] && link.Origin == LinkManual:
				if err := o.tx.UpdateLinkOrigin(ctx, link.Key(), LinkDiscoveryInherited); err != nil {
					return fmt.Errorf("update link origin: %w", err)
				}
				if err := e.audit(ctx, o, AuditRecord{
					Action:     ActionConvertLink,
					HostID:     h.ID,
					HostName:   h.TechnicalName,
					TemplateID: link.TemplateID,
					Origin:     LinkDiscoveryInherited,
				}); err != nil {
					return err
				}
				res.Converted = append(res.Converted, link.TemplateID)
			}
		}
		for i := range h.Templates {
			if want[h.Templates[i].TemplateID] {
				h.Templates[i].Origin = LinkDiscoveryInherited
			}
		}
		if len(drop) > 0 {
			removed, err := e.unlinkAll(ctx, o, h, drop)
			if err != nil {
				return err
			}
			res.Removed = removed
		}

		for _, id := range templateIDs {
			if h.HasTemplate(id) {
				continue
			}
			if _, err := e.attach(ctx, o, h, id, LinkDiscoveryInherited); err != nil {
				return err
			}
			res.Relinked = append(res.Relinked, id)
		}
		res.Host = h
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	if len(res.Relinked) > 0 || len(res.Converted) > 0 || len(res.Removed) > 0 {
		e.logger.Info("discovered host reconciled",
			zap.Int64("host_id", hostID),
			zap.Int64s("relinked", res.Relinked),
			zap.Int64s("converted", res.Converted),
			zap.Int("removed", len(res.Removed)))
	}
	return res, nil
}

// RemoveDiscoveredHost deletes a discovered host that is no longer found.
func (e *Engine) RemoveDiscoveredHost(ctx context.Context, hostID int64) error {
	return e.run(ctx, ActionRemoveDiscovered, func(ctx context.Context, o *op) error {
		h, err := e.loadHost(ctx, o.tx, hostID)
		if err != nil {
			return err
		}
		if !h.IsDiscovered() {
			return invalidState(h.ID, "host %q was not discovered", h.TechnicalName)
		}
		return e.deleteHost(ctx, o, h, ActionRemoveDiscovered)
	})
}

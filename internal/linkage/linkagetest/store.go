// Package linkagetest provides an in-memory linkage.Store for tests.
package linkagetest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sloppy/hostlink/internal/linkage"
)

type state struct {
	hosts     map[int64]*linkage.Host
	templates map[int64]*linkage.Template
	entities  map[int64]*linkage.Entity
	audit     []linkage.AuditRecord
	nextHost  int64
	nextEnt   int64
}

func (s *state) clone() *state {
	c := &state{
		hosts:     make(map[int64]*linkage.Host, len(s.hosts)),
		templates: s.templates,
		entities:  make(map[int64]*linkage.Entity, len(s.entities)),
		audit:     append([]linkage.AuditRecord(nil), s.audit...),
		nextHost:  s.nextHost,
		nextEnt:   s.nextEnt,
	}
	for id, h := range s.hosts {
		c.hosts[id] = copyHost(h)
	}
	for id, e := range s.entities {
		c.entities[id] = copyEntity(e)
	}
	return c
}

func copyHost(h *linkage.Host) *linkage.Host {
	c := *h
	c.Groups = append([]string(nil), h.Groups...)
	c.Interfaces = append([]linkage.Interface(nil), h.Interfaces...)
	c.Tags = append([]linkage.Tag(nil), h.Tags...)
	c.Macros = append([]linkage.Macro(nil), h.Macros...)
	c.Templates = append([]linkage.TemplateLink(nil), h.Templates...)
	if h.Discovery != nil {
		ref := *h.Discovery
		c.Discovery = &ref
	}
	return &c
}

func copyEntity(e *linkage.Entity) *linkage.Entity {
	c := *e
	if e.SourceTemplateID != nil {
		v := *e.SourceTemplateID
		c.SourceTemplateID = &v
	}
	if e.DependsOn != nil {
		v := *e.DependsOn
		c.DependsOn = &v
	}
	return &c
}

// Store keeps hosts, templates and entities in memory. Transactions are
// serialized and see a private copy that replaces the committed state only
// when the callback succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
	// FailOn makes the named Tx method return ErrInjected.
	FailOn string
}

// ErrInjected is returned by the method named in Store.FailOn.
var ErrInjected = errors.New("injected failure")

var _ linkage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: &state{
		hosts:     make(map[int64]*linkage.Host),
		templates: make(map[int64]*linkage.Template),
		entities:  make(map[int64]*linkage.Entity),
	}}
}

// WithinTx runs fn against a copy of the state.
func (s *Store) WithinTx(ctx context.Context, fn func(tx linkage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(&tx{st: working, failOn: s.FailOn}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// AddTemplate stores a template and returns its ID.
func (s *Store) AddTemplate(t linkage.Template) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = int64(len(s.state.templates) + 1)
		for s.state.templates[t.ID] != nil {
			t.ID++
		}
	}
	s.state.templates[t.ID] = &t
	return t.ID
}

// Host returns a committed host.
func (s *Store) Host(id int64) (*linkage.Host, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.state.hosts[id]
	if !ok {
		return nil, false
	}
	return copyHost(h), true
}

// Entities returns committed entities of a host ordered by ID.
func (s *Store) Entities(hostID int64) []linkage.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state}).entitiesOf(hostID)
}

// Audit returns the committed audit log.
func (s *Store) Audit() []linkage.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]linkage.AuditRecord(nil), s.state.audit...)
}

type tx struct {
	st     *state
	failOn string
}

var _ linkage.Tx = (*tx)(nil)

func (t *tx) fail(method string) error {
	if t.failOn == method {
		return ErrInjected
	}
	return nil
}

func (t *tx) GetHost(ctx context.Context, hostID int64) (*linkage.Host, bool, error) {
	if err := t.fail("GetHost"); err != nil {
		return nil, false, err
	}
	h, ok := t.st.hosts[hostID]
	if !ok {
		return nil, false, nil
	}
	return copyHost(h), true, nil
}

func (t *tx) FindHostByName(ctx context.Context, name string) (*linkage.Host, bool, error) {
	for _, h := range t.st.hosts {
		if h.TechnicalName == name {
			return copyHost(h), true, nil
		}
	}
	return nil, false, nil
}

func (t *tx) FindHostByVisibleName(ctx context.Context, name string) (*linkage.Host, bool, error) {
	for _, h := range t.st.hosts {
		if h.Name() == name {
			return copyHost(h), true, nil
		}
	}
	return nil, false, nil
}

func (t *tx) InsertHost(ctx context.Context, h *linkage.Host) error {
	if err := t.fail("InsertHost"); err != nil {
		return err
	}
	t.st.nextHost++
	h.ID = t.st.nextHost
	stored := copyHost(h)
	stored.Templates = nil
	t.st.hosts[h.ID] = stored
	return nil
}

func (t *tx) UpdateHost(ctx context.Context, h *linkage.Host) error {
	if err := t.fail("UpdateHost"); err != nil {
		return err
	}
	cur, ok := t.st.hosts[h.ID]
	if !ok {
		return errors.New("host not found")
	}
	stored := copyHost(h)
	stored.Templates = cur.Templates
	t.st.hosts[h.ID] = stored
	return nil
}

func (t *tx) DeleteHost(ctx context.Context, hostID int64) error {
	if err := t.fail("DeleteHost"); err != nil {
		return err
	}
	delete(t.st.hosts, hostID)
	for id, e := range t.st.entities {
		if e.HostID == hostID {
			delete(t.st.entities, id)
		}
	}
	return nil
}

func (t *tx) GetTemplate(ctx context.Context, templateID int64) (*linkage.Template, bool, error) {
	tmpl, ok := t.st.templates[templateID]
	if !ok {
		return nil, false, nil
	}
	c := *tmpl
	c.Entities = append([]linkage.EntityDefinition(nil), tmpl.Entities...)
	return &c, true, nil
}

func (t *tx) InsertLink(ctx context.Context, link linkage.TemplateLink) error {
	if err := t.fail("InsertLink"); err != nil {
		return err
	}
	h, ok := t.st.hosts[link.HostID]
	if !ok {
		return errors.New("host not found")
	}
	for _, l := range h.Templates {
		if l.TemplateID == link.TemplateID {
			return errors.New("duplicate link")
		}
	}
	h.Templates = append(h.Templates, link)
	return nil
}

func (t *tx) UpdateLinkOrigin(ctx context.Context, key linkage.LinkKey, origin linkage.LinkOrigin) error {
	h, ok := t.st.hosts[key.HostID]
	if !ok {
		return errors.New("host not found")
	}
	for i := range h.Templates {
		if h.Templates[i].TemplateID == key.TemplateID {
			h.Templates[i].Origin = origin
			return nil
		}
	}
	return errors.New("link not found")
}

func (t *tx) DeleteLink(ctx context.Context, key linkage.LinkKey) error {
	if err := t.fail("DeleteLink"); err != nil {
		return err
	}
	h, ok := t.st.hosts[key.HostID]
	if !ok {
		return errors.New("host not found")
	}
	for i, l := range h.Templates {
		if l.TemplateID == key.TemplateID {
			h.Templates = append(h.Templates[:i:i], h.Templates[i+1:]...)
			return nil
		}
	}
	return errors.New("link not found")
}

func (t *tx) entitiesOf(hostID int64) []linkage.Entity {
	var out []linkage.Entity
	for _, e := range t.st.entities {
		if e.HostID == hostID {
			out = append(out, *copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *tx) ListEntities(ctx context.Context, hostID int64) ([]linkage.Entity, error) {
	return t.entitiesOf(hostID), nil
}

func (t *tx) FindByHostAndTemplate(ctx context.Context, hostID, templateID int64) ([]linkage.Entity, error) {
	var out []linkage.Entity
	for _, e := range t.entitiesOf(hostID) {
		if e.FromTemplate(templateID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) InsertEntity(ctx context.Context, e *linkage.Entity) error {
	t.st.nextEnt++
	e.ID = t.st.nextEnt
	t.st.entities[e.ID] = copyEntity(e)
	return nil
}

func (t *tx) TagEntity(ctx context.Context, entityID, templateID int64) error {
	e, ok := t.st.entities[entityID]
	if !ok {
		return errors.New("entity not found")
	}
	e.SourceTemplateID = &templateID
	return nil
}

func (t *tx) DetachTemplateTag(ctx context.Context, entityID int64) error {
	if err := t.fail("DetachTemplateTag"); err != nil {
		return err
	}
	e, ok := t.st.entities[entityID]
	if !ok {
		return errors.New("entity not found")
	}
	e.SourceTemplateID = nil
	return nil
}

func (t *tx) DeleteEntity(ctx context.Context, entityID int64) error {
	if err := t.fail("DeleteEntity"); err != nil {
		return err
	}
	if _, ok := t.st.entities[entityID]; !ok {
		return errors.New("entity not found")
	}
	delete(t.st.entities, entityID)
	for _, e := range t.st.entities {
		if e.DependsOn != nil && *e.DependsOn == entityID {
			e.DependsOn = nil
		}
	}
	return nil
}

func (t *tx) RecordAudit(ctx context.Context, rec linkage.AuditRecord) error {
	if err := t.fail("RecordAudit"); err != nil {
		return err
	}
	t.st.audit = append(t.st.audit, rec)
	return nil
}

// Package discovery applies host prototypes to low-level discovery rows. It
// creates discovered hosts, keeps their template links in line with the
// prototype and removes hosts that stop being discovered.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/scope"
)

// ErrPrototypeNotFound is returned when Apply is given an unknown prototype.
var ErrPrototypeNotFound = errors.New("host prototype not found")

// Row is one discovered object: LLD macro name to value, e.g. {#HOST} -> web-1.
type Row map[string]string

// Normalize returns a copy of r with every key in {#NAME} form, so HOST and
// {#HOST} name the same macro.
func (r Row) Normalize() Row {
	out := make(Row, len(r))
	for k, v := range r {
		k = strings.ToUpper(strings.TrimSpace(k))
		if !strings.HasPrefix(k, "{#") {
			k = "{#" + strings.TrimSuffix(k, "}") + "}"
		}
		out[k] = v
	}
	return out
}

// Rule is a discovery rule that owns host prototypes.
type Rule struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	NetworkFilter string `json:"network_filter"`
}

// Prototype describes the hosts a rule creates. Patterns contain LLD macros.
type Prototype struct {
	ID                 int64              `json:"id"`
	RuleID             int64              `json:"rule_id"`
	RuleName           string             `json:"rule_name"`
	NetworkFilter      string             `json:"network_filter"`
	NamePattern        string             `json:"name_pattern" validate:"required,max=128,lldmacro"`
	VisibleNamePattern string             `json:"visible_name_pattern" validate:"max=128"`
	Status             linkage.Status     `json:"status" validate:"omitempty,oneof=enabled disabled"`
	Groups             []string           `json:"groups" validate:"required,min=1,dive,required"`
	TemplateIDs        []int64            `json:"template_ids"`
	Interface          *linkage.Interface `json:"interface,omitempty" validate:"-"`
}

// Tracked is a host previously created from a prototype.
type Tracked struct {
	HostID        int64
	TechnicalName string
	LastSeen      time.Time
	LostSince     *time.Time
}

// Store persists prototypes and discovery bookkeeping.
type Store interface {
	GetPrototype(ctx context.Context, id int64) (*Prototype, bool, error)
	ListTracked(ctx context.Context, prototypeID int64) ([]Tracked, error)
	MarkSeen(ctx context.Context, hostID int64, at time.Time) error
	MarkLost(ctx context.Context, hostID int64, at time.Time) error
}

// Linker is the part of the linkage engine discovery drives.
type Linker interface {
	RegisterDiscoveredHost(ctx context.Context, spec linkage.HostSpec, ref linkage.DiscoveryRef, templateIDs []int64) (*linkage.Host, error)
	SyncDiscoveredHost(ctx context.Context, hostID int64, spec linkage.HostSpec, templateIDs []int64) (linkage.SyncResult, error)
	RemoveDiscoveredHost(ctx context.Context, hostID int64) error
}

// PrototypeValidator checks a prototype before it is applied.
type PrototypeValidator interface {
	ValidatePrototype(p *Prototype) error
}

// RowError reports a row that could not be applied.
type RowError struct {
	Host string `json:"host"`
	Err  string `json:"error"`
}

// Result summarizes one Apply call.
type Result struct {
	Created  []int64           `json:"created"`
	Updated  []int64           `json:"updated"`
	Lost     []int64           `json:"lost"`
	Removed  []int64           `json:"removed"`
	Skipped  []string          `json:"skipped"`
	Relinked map[int64][]int64 `json:"relinked,omitempty"`
	Unlinked map[int64][]int64 `json:"unlinked,omitempty"`
	Errors   []RowError        `json:"errors"`
}

// Service runs discovery cycles.
type Service struct {
	store     Store
	linker    Linker
	validator PrototypeValidator
	logger    *zap.Logger
	lifetime  time.Duration
	now       func() time.Time
}

// NewService returns a service. Hosts that are not discovered for lifetime are
// removed; zero removes them on the first cycle that misses them.
func NewService(store Store, linker Linker, validator PrototypeValidator, logger *zap.Logger, lifetime time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		linker:    linker,
		validator: validator,
		logger:    logger.Named("discovery"),
		lifetime:  lifetime,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

var macroPattern = regexp.MustCompile(`\{#[A-Z0-9_.]+\}`)

// HasMacro reports whether s contains an LLD macro.
func HasMacro(s string) bool {
	return macroPattern.MatchString(s)
}

// Resolve substitutes LLD macros in pattern with row values. Macros without a
// value are an error.
func Resolve(pattern string, row Row) (string, error) {
	var missing []string
	out := macroPattern.ReplaceAllStringFunc(pattern, func(m string) string {
		v, ok := row[m]
		if !ok {
			missing = append(missing, m)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("no value for %s in %q", strings.Join(missing, ", "), pattern)
	}
	return out, nil
}

func (s *Service) hostSpec(p *Prototype, row Row) (linkage.HostSpec, error) {
	name, err := Resolve(p.NamePattern, row)
	if err != nil {
		return linkage.HostSpec{}, err
	}
	spec := linkage.HostSpec{
		TechnicalName: strings.TrimSpace(name),
		Groups:        append([]string(nil), p.Groups...),
		Status:        p.Status,
	}
	if p.VisibleNamePattern != "" {
		if spec.VisibleName, err = Resolve(p.VisibleNamePattern, row); err != nil {
			return linkage.HostSpec{}, err
		}
	}
	if p.Interface != nil {
		iface := *p.Interface
		for _, f := range []*string{&iface.IP, &iface.DNS, &iface.Port} {
			if *f, err = Resolve(*f, row); err != nil {
				return linkage.HostSpec{}, err
			}
		}
		iface.Main = true
		spec.Interfaces = []linkage.Interface{iface}
	}
	return spec, nil
}

// Apply runs one discovery cycle of a prototype over rows.
func (s *Service) Apply(ctx context.Context, prototypeID int64, rows []Row) (Result, error) {
	p, ok, err := s.store.GetPrototype(ctx, prototypeID)
	if err != nil {
		return Result{}, fmt.Errorf("get prototype: %w", err)
	}
	if !ok {
		return Result{}, fmt.Errorf("prototype %d: %w", prototypeID, ErrPrototypeNotFound)
	}
	if s.validator != nil {
		if err := s.validator.ValidatePrototype(p); err != nil {
			return Result{}, fmt.Errorf("prototype %d: %w", prototypeID, err)
		}
	}
	filter, err := scope.Parse(p.NetworkFilter)
	if err != nil {
		return Result{}, fmt.Errorf("rule %q: %w", p.RuleName, err)
	}

	tracked, err := s.store.ListTracked(ctx, p.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list discovered hosts: %w", err)
	}
	byName := make(map[string]Tracked, len(tracked))
	for _, t := range tracked {
		byName[t.TechnicalName] = t
	}

	now := s.now()
	res := Result{
		Relinked: make(map[int64][]int64),
		Unlinked: make(map[int64][]int64),
	}
	seen := make(map[string]bool)
	ref := linkage.DiscoveryRef{PrototypeID: p.ID, RuleID: p.RuleID, RuleName: p.RuleName}

	for _, row := range rows {
		row = row.Normalize()
		if ip, ok := row["{#IP}"]; ok && !filter.InScope(ip) {
			res.Skipped = append(res.Skipped, ip)
			continue
		}
		spec, err := s.hostSpec(p, row)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Err: err.Error()})
			continue
		}
		if seen[spec.TechnicalName] {
			continue
		}
		seen[spec.TechnicalName] = true

		if t, ok := byName[spec.TechnicalName]; ok {
			sync, err := s.linker.SyncDiscoveredHost(ctx, t.HostID, spec, p.TemplateIDs)
			if err != nil {
				if linkage.KindOf(err) == "" {
					return res, fmt.Errorf("sync host %q: %w", spec.TechnicalName, err)
				}
				res.Errors = append(res.Errors, RowError{Host: spec.TechnicalName, Err: err.Error()})
				continue
			}
			if err := s.store.MarkSeen(ctx, t.HostID, now); err != nil {
				return res, fmt.Errorf("mark seen: %w", err)
			}
			res.Updated = append(res.Updated, t.HostID)
			if len(sync.Relinked) > 0 {
				res.Relinked[t.HostID] = sync.Relinked
			}
			for _, u := range sync.Removed {
				res.Unlinked[t.HostID] = append(res.Unlinked[t.HostID], u.TemplateID)
			}
			continue
		}

		h, err := s.linker.RegisterDiscoveredHost(ctx, spec, ref, p.TemplateIDs)
		if err != nil {
			if linkage.KindOf(err) == "" {
				return res, fmt.Errorf("create host %q: %w", spec.TechnicalName, err)
			}
			res.Errors = append(res.Errors, RowError{Host: spec.TechnicalName, Err: err.Error()})
			continue
		}
		res.Created = append(res.Created, h.ID)
	}

	if err := s.expire(ctx, tracked, seen, now, &res); err != nil {
		return res, err
	}

	s.logger.Info("discovery applied",
		zap.Int64("prototype_id", p.ID),
		zap.String("rule", p.RuleName),
		zap.Int("rows", len(rows)),
		zap.Int("created", len(res.Created)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("lost", len(res.Lost)),
		zap.Int("removed", len(res.Removed)),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// expire marks hosts missing from this cycle as lost and removes hosts lost
// for longer than the lifetime.
func (s *Service) expire(ctx context.Context, tracked []Tracked, seen map[string]bool, now time.Time, res *Result) error {
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].HostID < tracked[j].HostID })
	for _, t := range tracked {
		if seen[t.TechnicalName] {
			continue
		}
		lostSince := now
		if t.LostSince != nil {
			lostSince = *t.LostSince
		}
		if now.Sub(lostSince) >= s.lifetime {
			if err := s.linker.RemoveDiscoveredHost(ctx, t.HostID); err != nil {
				if linkage.KindOf(err) == "" {
					return fmt.Errorf("remove host %q: %w", t.TechnicalName, err)
				}
				res.Errors = append(res.Errors, RowError{Host: t.TechnicalName, Err: err.Error()})
				continue
			}
			res.Removed = append(res.Removed, t.HostID)
			s.logger.Info("lost host removed",
				zap.Int64("host_id", t.HostID),
				zap.String("host", t.TechnicalName),
				zap.Duration("lost_for", now.Sub(lostSince)))
			continue
		}
		if t.LostSince == nil {
			if err := s.store.MarkLost(ctx, t.HostID, now); err != nil {
				return fmt.Errorf("mark lost: %w", err)
			}
		}
		res.Lost = append(res.Lost, t.HostID)
	}
	return nil
}

// Package importer loads YAML fixtures of templates, discovery rules and
// hosts, and the row files fed to discovery cycles.
package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/linkage"
)

// Fixture is the document accepted by Import.
type Fixture struct {
	Templates []linkage.Template `yaml:"templates"`
	Rules     []RuleFixture      `yaml:"rules"`
	Hosts     []HostFixture      `yaml:"hosts"`
}

// RuleFixture is a discovery rule with its host prototypes.
type RuleFixture struct {
	Name          string             `yaml:"name"`
	NetworkFilter string             `yaml:"network_filter"`
	Prototypes    []PrototypeFixture `yaml:"prototypes"`
}

// PrototypeFixture names its templates instead of using IDs.
type PrototypeFixture struct {
	NamePattern        string             `yaml:"name_pattern"`
	VisibleNamePattern string             `yaml:"visible_name_pattern"`
	Status             linkage.Status     `yaml:"status"`
	Groups             []string           `yaml:"groups"`
	Templates          []string           `yaml:"templates"`
	Interface          *linkage.Interface `yaml:"interface"`
}

// HostFixture is a manual host with templates named instead of numbered.
type HostFixture struct {
	linkage.HostSpec `yaml:",inline"`
	Templates        []string `yaml:"templates"`
}

// ImportStats holds results of an import.
type ImportStats struct {
	Templates       int
	TemplatesKept   int
	Rules           int
	Prototypes      int
	PrototypeIDs    []int64
	Hosts           int
	HostsSkipped    int
	LinkedTemplates int
}

// ParseFile reads a fixture from disk.
func ParseFile(path string) (Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a fixture. Unknown keys are an error.
func Parse(r io.Reader) (Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		if err == io.EOF {
			return Fixture{}, nil
		}
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return fx, nil
}

// Import stores templates and rules, then creates hosts through the engine so
// links and dependent entities follow the same rules as the console. Existing
// templates and hosts with the same name are kept as they are.
func Import(ctx context.Context, database *db.DB, engine *linkage.Engine, fx Fixture) (ImportStats, error) {
	var stats ImportStats
	ids := make(map[string]int64)

	for _, t := range fx.Templates {
		if existing, ok, err := database.GetTemplateByName(ctx, t.Name); err != nil {
			return stats, err
		} else if ok {
			ids[t.Name] = existing.ID
			stats.TemplatesKept++
			continue
		}
		for _, def := range t.Entities {
			if !def.Kind.Valid() {
				return stats, fmt.Errorf("template %q: unknown entity kind %q", t.Name, def.Kind)
			}
		}
		created, err := database.CreateTemplate(ctx, t)
		if err != nil {
			return stats, fmt.Errorf("template %q: %w", t.Name, err)
		}
		ids[t.Name] = created.ID
		stats.Templates++
	}

	resolve := func(names []string) ([]int64, error) {
		out := make([]int64, 0, len(names))
		for _, name := range names {
			name = strings.TrimSpace(name)
			if id, ok := ids[name]; ok {
				out = append(out, id)
				continue
			}
			t, ok, err := database.GetTemplateByName(ctx, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("template %q not found", name)
			}
			ids[name] = t.ID
			out = append(out, t.ID)
		}
		return out, nil
	}

	for _, rf := range fx.Rules {
		rule, ok, err := database.GetDiscoveryRuleByName(ctx, rf.Name)
		if err != nil {
			return stats, err
		}
		if !ok {
			if rule, err = database.CreateDiscoveryRule(ctx, rf.Name, rf.NetworkFilter); err != nil {
				return stats, fmt.Errorf("rule %q: %w", rf.Name, err)
			}
			stats.Rules++
		}
		for _, pf := range rf.Prototypes {
			tids, err := resolve(pf.Templates)
			if err != nil {
				return stats, fmt.Errorf("prototype %q: %w", pf.NamePattern, err)
			}
			p, err := database.CreatePrototype(ctx, discovery.Prototype{
				RuleID:             rule.ID,
				NamePattern:        pf.NamePattern,
				VisibleNamePattern: pf.VisibleNamePattern,
				Status:             pf.Status,
				Groups:             pf.Groups,
				TemplateIDs:        tids,
				Interface:          pf.Interface,
			})
			if err != nil {
				return stats, fmt.Errorf("prototype %q: %w", pf.NamePattern, err)
			}
			stats.Prototypes++
			stats.PrototypeIDs = append(stats.PrototypeIDs, p.ID)
		}
	}

	for _, hf := range fx.Hosts {
		if _, ok, err := database.GetHostByName(ctx, hf.TechnicalName); err != nil {
			return stats, err
		} else if ok {
			stats.HostsSkipped++
			continue
		}
		spec := hf.HostSpec
		tids, err := resolve(hf.Templates)
		if err != nil {
			return stats, fmt.Errorf("host %q: %w", spec.TechnicalName, err)
		}
		spec.Templates = tids
		if _, err := engine.CreateHost(ctx, spec); err != nil {
			return stats, fmt.Errorf("host %q: %w", spec.TechnicalName, err)
		}
		stats.Hosts++
		stats.LinkedTemplates += len(tids)
	}
	return stats, nil
}

// ParseRowsFile reads discovery rows from disk.
func ParseRowsFile(path string) ([]discovery.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rows: %w", err)
	}
	defer f.Close()
	return ParseRows(f)
}

// ParseRows decodes a YAML list of LLD rows. Keys may be written with or
// without the {#...} wrapper: HOST and {#HOST} are the same macro.
func ParseRows(r io.Reader) ([]discovery.Row, error) {
	var raw []map[string]string
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	rows := make([]discovery.Row, 0, len(raw))
	for _, m := range raw {
		rows = append(rows, discovery.Row(m).Normalize())
	}
	return rows, nil
}

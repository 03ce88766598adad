// Package bundle assembles the output of a set of root packages for one
// bundle architecture: the units in load order, their linked resources,
// and the ChangeSet to watch for the whole result.
package bundle

import (
	"errors"
	"fmt"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/buildcache"
	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/handler"
	"github.com/albertocavalcante/forge/pkg/unit"
)

// ErrCircularDependency is returned when units depend on each other
// through ordered edges.
var ErrCircularDependency = errors.New("circular dependency")

// Builder returns built packages. *buildcache.Cache implements it.
type Builder interface {
	Build(name string) (*buildcache.Result, error)
}

// Options configures New.
type Options struct {
	// Arch is the bundle architecture.
	Arch string

	// Tests bundles the test units of the roots instead of their
	// default units.
	Tests bool

	// Debug keeps debug-only exports.
	Debug bool
}

// Unit is one unit of a plan with its linked resources.
type Unit struct {
	ID        string             `json:"id"`
	Package   string             `json:"package"`
	Name      string             `json:"unit"`
	Arch      string             `json:"arch"`
	Resources []handler.Resource `json:"resources"`
}

// Plan is the assembled bundle.
type Plan struct {
	Arch string `json:"arch"`

	// Units are in load order: every unit follows the units it uses
	// through ordered edges.
	Units []Unit `json:"units"`

	// ChangeSet is the union of every package involved.
	ChangeSet *changeset.ChangeSet `json:"-"`

	// Messages holds the build errors of every package involved.
	Messages *buildmsg.Messages `json:"-"`
}

// New builds the roots and everything they use, then links every unit for
// opts.Arch.
func New(b Builder, roots []string, opts Options) (*Plan, error) {
	p := &planner{
		builder: b,
		opts:    opts,
		seen:    make(map[string]bool),
		state:   make(map[string]visitState),
		plan: &Plan{
			Arch:      opts.Arch,
			ChangeSet: changeset.New(),
			Messages:  buildmsg.New("bundling for " + opts.Arch),
		},
	}

	for _, name := range roots {
		pkg, err := p.Package(name)
		if err != nil {
			return nil, err
		}
		units, err := pkg.DefaultUnits(opts.Arch)
		if opts.Tests {
			units, err = pkg.TestUnits(opts.Arch)
		}
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", name, err)
		}
		for _, u := range units {
			if err := p.add(u); err != nil {
				return nil, err
			}
		}
	}

	for _, u := range p.order {
		res, err := u.Resources(p, opts.Arch, unit.ResourceOptions{Debug: opts.Debug})
		if err != nil {
			return nil, err
		}
		p.plan.Units = append(p.plan.Units, Unit{
			ID:        u.ID(),
			Package:   u.PackageName(),
			Name:      u.Name(),
			Arch:      u.Arch(),
			Resources: res,
		})
	}
	log.Component("bundle").Debug("planned bundle", "arch", opts.Arch, "roots", roots, "units", len(p.order))
	return p.plan, nil
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	done
)

type planner struct {
	builder Builder
	opts    Options
	plan    *Plan

	// seen holds the packages whose results were merged into plan.
	seen  map[string]bool
	state map[string]visitState
	order []*unit.Unit
}

// Package implements unit.Loader over the builder, folding each package's
// messages and ChangeSet into the plan the first time it is seen.
func (p *planner) Package(name string) (*unit.Package, error) {
	res, err := p.builder.Build(name)
	if err != nil {
		return nil, err
	}
	if !p.seen[name] {
		p.seen[name] = true
		p.plan.Messages.Merge(res.Messages)
		p.plan.ChangeSet.Merge(res.ChangeSet)
	}
	return res.Package, nil
}

// add places u after everything it uses through ordered edges. Units
// reached through unordered edges are placed afterwards.
func (p *planner) add(u *unit.Unit) error {
	switch p.state[u.ID()] {
	case done:
		return nil
	case visiting:
		return fmt.Errorf("%w: %s", ErrCircularDependency, u)
	}
	p.state[u.ID()] = visiting

	err := u.EachUsed(p, p.opts.Arch, unit.TraverseOptions{SkipUnordered: true}, func(dep *unit.Unit, _ unit.EdgeInfo) error {
		return p.add(dep)
	})
	if err != nil {
		return err
	}
	p.state[u.ID()] = done
	p.order = append(p.order, u)

	var later []*unit.Unit
	err = u.EachUsed(p, p.opts.Arch, unit.TraverseOptions{}, func(dep *unit.Unit, info unit.EdgeInfo) error {
		if info.Unordered {
			later = append(later, dep)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, dep := range later {
		// An unordered edge back into the current chain is no cycle.
		if p.state[dep.ID()] == visiting {
			continue
		}
		if err := p.add(dep); err != nil {
			return err
		}
	}
	return nil
}

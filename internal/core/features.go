package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// errFeatureCycle reports a dependency cycle in a feature graph.
var errFeatureCycle = errors.New("core: feature dependency cycle")

// FeatureNode is one negotiable backend feature, e.g. a Vulkan extension
// or a Metal GPU family.
type FeatureNode struct {
	Name string

	// Requires lists features that must be enabled for this one.
	Requires []string

	// Native is the hal feature bit backing this node. Zero means the
	// feature is part of the core API and always present.
	Native gputypes.Feature

	// Required aborts device creation when the feature is missing.
	Required bool

	// Probe overrides availability detection. When nil, availability is
	// decided by Native.
	Probe func(a hal.ExposedAdapter) bool
}

// FeatureGraph is a dependency DAG of features.
type FeatureGraph struct {
	nodes map[string]FeatureNode
	names []string
}

// NewFeatureGraph builds a graph; declaration order is kept for stable
// reporting.
func NewFeatureGraph(nodes ...FeatureNode) *FeatureGraph {
	g := &FeatureGraph{nodes: make(map[string]FeatureNode, len(nodes))}
	for _, n := range nodes {
		if _, dup := g.nodes[n.Name]; !dup {
			g.names = append(g.names, n.Name)
		}
		g.nodes[n.Name] = n
	}
	return g
}

// order returns the nodes with every dependency before its dependents.
func (g *FeatureGraph) order() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.nodes))
	out := make([]string, 0, len(g.nodes))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", errFeatureCycle, strings.Join(append(path, name), " -> "))
		}
		n, ok := g.nodes[name]
		if !ok {
			return fmt.Errorf("core: feature %q depends on undeclared %q", path[len(path)-1], name)
		}
		state[name] = visiting
		for _, dep := range n.Requires {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		out = append(out, name)
		return nil
	}

	for _, name := range g.names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Resolve negotiates every feature against the adapter.
//
// A feature is enabled when it is available and all of its dependencies are
// enabled. Required features (declared Required, named in extra, or a
// dependency of one of those) that end up disabled fail with
// ErrMissingExtension; optional ones are logged and disabled.
//
// The returned states follow dependency order and the returned bits are the
// hal features to request when opening the device.
func (g *FeatureGraph) Resolve(a hal.ExposedAdapter, extra []string) ([]rhi.FeatureState, gputypes.Features, error) {
	if g == nil {
		if len(extra) > 0 {
			return nil, 0, fmt.Errorf("%w: %s", rhi.ErrMissingExtension, strings.Join(extra, ", "))
		}
		return nil, 0, nil
	}
	order, err := g.order()
	if err != nil {
		return nil, 0, err
	}

	required := make(map[string]bool)
	var markRequired func(name string)
	markRequired = func(name string) {
		if required[name] {
			return
		}
		required[name] = true
		for _, dep := range g.nodes[name].Requires {
			markRequired(dep)
		}
	}
	for _, name := range g.names {
		if g.nodes[name].Required {
			markRequired(name)
		}
	}
	for _, name := range extra {
		if _, ok := g.nodes[name]; !ok {
			return nil, 0, fmt.Errorf("%w: unknown feature %q", rhi.ErrMissingExtension, name)
		}
		markRequired(name)
	}

	enabled := make(map[string]bool, len(order))
	states := make([]rhi.FeatureState, 0, len(order))
	var bits gputypes.Features
	var missing []string

	for _, name := range order {
		n := g.nodes[name]
		st := rhi.FeatureState{Name: name, Required: required[name]}

		switch {
		case !available(n, a):
			st.Reason = "not supported by adapter"
		default:
			for _, dep := range n.Requires {
				if !enabled[dep] {
					st.Reason = "requires " + dep
					break
				}
			}
		}
		st.Enabled = st.Reason == ""
		enabled[name] = st.Enabled

		if st.Enabled {
			if n.Native != 0 {
				bits.Insert(n.Native)
			}
		} else if st.Required {
			missing = append(missing, fmt.Sprintf("%s (%s)", name, st.Reason))
		} else {
			slogger().Warn("rhi: optional feature disabled", "feature", name, "reason", st.Reason)
		}
		states = append(states, st)
	}

	if len(missing) > 0 {
		return states, bits, fmt.Errorf("%w: %s", rhi.ErrMissingExtension, strings.Join(missing, ", "))
	}
	return states, bits, nil
}

func available(n FeatureNode, a hal.ExposedAdapter) bool {
	if n.Probe != nil {
		return n.Probe(a)
	}
	return n.Native == 0 || a.Features.Contains(n.Native)
}

// Never is a Probe for features hal cannot expose on any adapter.
func Never(hal.ExposedAdapter) bool { return false }

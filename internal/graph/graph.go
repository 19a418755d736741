// File: internal/graph/graph.go
// Brief: Dependency closure, topological ordering, and execution graph.

package graph

import (
	"fmt"
	"sort"

	"github.com/example/stackctl/internal/manifest"
)

// DependencyCycleError reports a dependency edge that closes a cycle within
// the selected scope.
type DependencyCycleError struct {
	Stack string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("cyclic dependency detected involving stack %q", e.Stack)
}

// ExecutionGraph is the runtime view of an ordered stack set: a deterministic
// rank per stack, reverse adjacency restricted to the selected scope, and the
// count of in-scope unresolved dependencies per stack.
type ExecutionGraph struct {
	OrderIndex map[string]int
	Dependents map[string][]string
	Indegree   map[string]int
}

// InitialReady returns every stack with no in-scope dependencies, sorted by
// topological rank for deterministic dispatch.
func (g *ExecutionGraph) InitialReady() []string {
	var ready []string
	for name, degree := range g.Indegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	g.SortByRank(ready)
	return ready
}

// SortByRank orders stack names by their topological rank. Names missing from
// the graph sort last.
func (g *ExecutionGraph) SortByRank(names []string) {
	sort.Slice(names, func(i, j int) bool {
		ri, iok := g.OrderIndex[names[i]]
		rj, jok := g.OrderIndex[names[j]]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})
}

// Resolve computes the transitive closure of required stacks starting from
// the target subset (all stacks when targets is empty) and returns them in
// dependency-before-dependent order. Dependencies naming stacks absent from
// the manifest set are not fatal: they are reported per requester and left
// out of the graph, to be satisfied from pre-existing deployments.
func Resolve(manifests map[string]*manifest.Manifest, targets []string) ([]*manifest.Manifest, map[string][]string, error) {
	if len(targets) == 0 {
		targets = make([]string, 0, len(manifests))
		for name := range manifests {
			targets = append(targets, name)
		}
	}
	sort.Strings(targets)

	// needed preserves insertion order so the DFS below is deterministic for
	// a fixed input set.
	var needed []string
	neededSet := map[string]struct{}{}
	missing := map[string][]string{}
	missingSet := map[string]map[string]struct{}{}

	recordMissing := func(requester, dep string) {
		set, ok := missingSet[requester]
		if !ok {
			set = map[string]struct{}{}
			missingSet[requester] = set
		}
		if _, dup := set[dep]; dup {
			return
		}
		set[dep] = struct{}{}
		missing[requester] = append(missing[requester], dep)
		sort.Strings(missing[requester])
	}

	var collect func(stackName, requester string)
	collect = func(stackName, requester string) {
		if _, ok := neededSet[stackName]; ok {
			return
		}
		m, ok := manifests[stackName]
		if !ok {
			recordMissing(requester, stackName)
			return
		}
		neededSet[stackName] = struct{}{}
		needed = append(needed, stackName)
		for _, dep := range m.Dependencies {
			collect(dep.StackName, m.Name)
		}
	}
	for _, target := range targets {
		collect(target, target)
	}

	const (
		colorUnvisited = iota
		colorInProgress
		colorDone
	)
	colors := make(map[string]int, len(needed))
	order := make([]*manifest.Manifest, 0, len(needed))

	var visit func(stackName string) error
	visit = func(stackName string) error {
		switch colors[stackName] {
		case colorDone:
			return nil
		case colorInProgress:
			return &DependencyCycleError{Stack: stackName}
		}
		colors[stackName] = colorInProgress
		m := manifests[stackName]
		for _, dep := range m.Dependencies {
			if _, inScope := neededSet[dep.StackName]; inScope {
				if err := visit(dep.StackName); err != nil {
					return err
				}
			}
		}
		colors[stackName] = colorDone
		order = append(order, m)
		return nil
	}
	for _, stackName := range needed {
		if err := visit(stackName); err != nil {
			return nil, nil, err
		}
	}
	return order, missing, nil
}

// Build derives the execution graph for an ordered manifest list. Dependency
// edges whose target is outside the list do not contribute to indegree.
func Build(ordered []*manifest.Manifest) *ExecutionGraph {
	g := &ExecutionGraph{
		OrderIndex: make(map[string]int, len(ordered)),
		Dependents: make(map[string][]string, len(ordered)),
		Indegree:   make(map[string]int, len(ordered)),
	}
	for idx, m := range ordered {
		g.OrderIndex[m.Name] = idx
	}
	for _, m := range ordered {
		inScope := map[string]struct{}{}
		for _, dep := range m.Dependencies {
			if _, ok := g.OrderIndex[dep.StackName]; !ok {
				continue
			}
			if _, dup := inScope[dep.StackName]; dup {
				continue
			}
			inScope[dep.StackName] = struct{}{}
			g.Dependents[dep.StackName] = append(g.Dependents[dep.StackName], m.Name)
		}
		g.Indegree[m.Name] = len(inScope)
		if _, ok := g.Dependents[m.Name]; !ok {
			g.Dependents[m.Name] = nil
		}
	}
	for name := range g.Dependents {
		g.SortByRank(g.Dependents[name])
	}
	return g
}

// Edges lists every in-scope dependency edge as (dependent, dependency)
// pairs in a stable order.
func Edges(ordered []*manifest.Manifest, g *ExecutionGraph) [][2]string {
	var edges [][2]string
	for _, m := range ordered {
		seen := map[string]struct{}{}
		for _, dep := range m.Dependencies {
			if _, ok := g.OrderIndex[dep.StackName]; !ok {
				continue
			}
			if _, dup := seen[dep.StackName]; dup {
				continue
			}
			seen[dep.StackName] = struct{}{}
			edges = append(edges, [2]string{m.Name, dep.StackName})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

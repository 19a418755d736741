package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/example/stackctl/internal/manifest"
)

func mf(name string, deps ...string) *manifest.Manifest {
	m := &manifest.Manifest{Name: name, TemplateFile: name + ".bicep"}
	for _, dep := range deps {
		m.Dependencies = append(m.Dependencies, manifest.Dependency{Alias: dep, StackName: dep})
	}
	return m
}

func manifestSet(ms ...*manifest.Manifest) map[string]*manifest.Manifest {
	out := make(map[string]*manifest.Manifest, len(ms))
	for _, m := range ms {
		out[m.Name] = m
	}
	return out
}

func TestResolve_DependenciesBeforeDependents(t *testing.T) {
	set := manifestSet(
		mf("app", "db", "net"),
		mf("db", "net"),
		mf("net"),
	)

	ordered, missing, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("unexpected missing deps: %v", missing)
	}
	index := map[string]int{}
	for idx, m := range ordered {
		index[m.Name] = idx
	}
	if len(index) != 3 {
		t.Fatalf("expected 3 stacks, got %v", index)
	}
	for _, m := range ordered {
		for _, dep := range m.Dependencies {
			if index[dep.StackName] >= index[m.Name] {
				t.Fatalf("dependency %s ordered after %s: %v", dep.StackName, m.Name, index)
			}
		}
	}
}

func TestResolve_TargetClosure(t *testing.T) {
	set := manifestSet(
		mf("app", "db"),
		mf("db", "net"),
		mf("net"),
		mf("unrelated"),
	)

	ordered, _, err := Resolve(set, []string{"app"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var names []string
	for _, m := range ordered {
		names = append(names, m.Name)
	}
	want := []string{"net", "db", "app"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("ordered = %v, want %v", names, want)
	}
}

func TestResolve_MissingDependencyRecordedPerRequester(t *testing.T) {
	set := manifestSet(
		mf("app", "shared-net", "db"),
		mf("db", "shared-net"),
	)

	ordered, missing, err := Resolve(set, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ordered) != 2 {
		t.Fatalf("expected both in-repo stacks, got %v", ordered)
	}
	if !reflect.DeepEqual(missing["app"], []string{"shared-net"}) {
		t.Fatalf("app missing = %v", missing["app"])
	}
	if !reflect.DeepEqual(missing["db"], []string{"shared-net"}) {
		t.Fatalf("db missing = %v", missing["db"])
	}
}

func TestResolve_CycleFails(t *testing.T) {
	set := manifestSet(
		mf("x", "y"),
		mf("y", "x"),
	)

	_, _, err := Resolve(set, nil)
	var cycleErr *DependencyCycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected DependencyCycleError, got %v", err)
	}
}

func TestResolve_UnknownTargetReportedMissing(t *testing.T) {
	set := manifestSet(mf("net"))

	ordered, missing, err := Resolve(set, []string{"ghost"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ordered) != 0 {
		t.Fatalf("expected empty scope, got %v", ordered)
	}
	if !reflect.DeepEqual(missing["ghost"], []string{"ghost"}) {
		t.Fatalf("missing = %v", missing)
	}
}

func TestBuild_IndegreeAndDependents(t *testing.T) {
	ordered, _, err := Resolve(manifestSet(
		mf("app", "db", "net"),
		mf("db", "net"),
		mf("net"),
	), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	g := Build(ordered)
	if g.Indegree["net"] != 0 || g.Indegree["db"] != 1 || g.Indegree["app"] != 2 {
		t.Fatalf("unexpected indegrees: %v", g.Indegree)
	}
	if !reflect.DeepEqual(g.Dependents["net"], []string{"db", "app"}) {
		t.Fatalf("net dependents = %v", g.Dependents["net"])
	}
	if !reflect.DeepEqual(g.Dependents["db"], []string{"app"}) {
		t.Fatalf("db dependents = %v", g.Dependents["db"])
	}
	ready := g.InitialReady()
	if !reflect.DeepEqual(ready, []string{"net"}) {
		t.Fatalf("initial ready = %v", ready)
	}
}

func TestBuild_DuplicateEdgesCountOnce(t *testing.T) {
	app := mf("app", "net", "net")
	ordered := []*manifest.Manifest{mf("net"), app}

	g := Build(ordered)
	if g.Indegree["app"] != 1 {
		t.Fatalf("duplicate dependency inflated indegree: %v", g.Indegree)
	}
	if !reflect.DeepEqual(g.Dependents["net"], []string{"app"}) {
		t.Fatalf("net dependents = %v", g.Dependents["net"])
	}
}

func TestEdges_StableOrder(t *testing.T) {
	ordered, _, err := Resolve(manifestSet(
		mf("app", "db", "net"),
		mf("db", "net"),
		mf("net"),
	), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := Edges(ordered, Build(ordered))
	want := [][2]string{{"app", "db"}, {"app", "net"}, {"db", "net"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("edges = %v, want %v", got, want)
	}
}

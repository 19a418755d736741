package run

import (
	"context"
	"testing"
)

func TestOutputResolver_ResolvesDeclaredBindings(t *testing.T) {
	dep := newFakeDeployer()
	dep.outputs["core-net"] = map[string]any{"vnetId": "/vnets/core", "subnetId": "/subnets/app"}

	m := mf("app", "core-net")
	m.Dependencies[0].Alias = "net"
	m.ParameterBindings = map[string]string{
		"vnetId":   "net.vnetId",
		"subnetId": "net.subnetId",
	}

	r := NewOutputResolver(dep, nil)
	overrides := r.ResolveBindings(context.Background(), m)
	if overrides["vnetId"] != "/vnets/core" || overrides["subnetId"] != "/subnets/app" {
		t.Fatalf("overrides = %#v", overrides)
	}
}

func TestOutputResolver_InvalidBindingDropped(t *testing.T) {
	dep := newFakeDeployer()
	m := mf("app", "core-net")
	m.ParameterBindings = map[string]string{"vnetId": "no-dot-here"}

	r := NewOutputResolver(dep, nil)
	overrides := r.ResolveBindings(context.Background(), m)
	if len(overrides) != 0 {
		t.Fatalf("invalid binding must be dropped, got %#v", overrides)
	}
}

func TestOutputResolver_UnknownAliasDropped(t *testing.T) {
	dep := newFakeDeployer()
	m := mf("app", "core-net")
	m.ParameterBindings = map[string]string{"vnetId": "ghost.vnetId"}

	r := NewOutputResolver(dep, nil)
	overrides := r.ResolveBindings(context.Background(), m)
	if len(overrides) != 0 {
		t.Fatalf("unknown alias must be dropped, got %#v", overrides)
	}
}

func TestOutputResolver_MissingOutputDropped(t *testing.T) {
	dep := newFakeDeployer()
	dep.outputs["core-net"] = map[string]any{"vnetId": "/vnets/core"}
	m := mf("app", "core-net")
	m.ParameterBindings = map[string]string{"subnetId": "core-net.subnetId"}

	r := NewOutputResolver(dep, nil)
	overrides := r.ResolveBindings(context.Background(), m)
	if len(overrides) != 0 {
		t.Fatalf("missing output must be dropped, got %#v", overrides)
	}
}

func TestOutputResolver_MemoizesNonEmptyFetch(t *testing.T) {
	dep := newFakeDeployer()
	dep.outputs["core-net"] = map[string]any{"vnetId": "/vnets/core"}

	r := NewOutputResolver(dep, nil)
	ctx := context.Background()
	r.Outputs(ctx, "core-net")
	r.Outputs(ctx, "core-net")
	if dep.fetches["core-net"] != 1 {
		t.Fatalf("expected one fetch for cached stack, got %d", dep.fetches["core-net"])
	}
}

func TestOutputResolver_EmptyFetchNotCached(t *testing.T) {
	dep := newFakeDeployer()

	r := NewOutputResolver(dep, nil)
	ctx := context.Background()
	if got := r.Outputs(ctx, "pending"); got != nil {
		t.Fatalf("empty fetch should resolve to nil, got %#v", got)
	}
	dep.outputs["pending"] = map[string]any{"id": "now-there"}
	got := r.Outputs(ctx, "pending")
	if got["id"] != "now-there" {
		t.Fatalf("retry after empty fetch should see fresh outputs, got %#v", got)
	}
	if dep.fetches["pending"] != 2 {
		t.Fatalf("expected a second fetch, got %d", dep.fetches["pending"])
	}
}

func TestOutputResolver_PrimeWarmsCache(t *testing.T) {
	dep := newFakeDeployer()
	dep.outputs["core-net"] = map[string]any{"vnetId": "/vnets/core"}

	r := NewOutputResolver(dep, nil)
	ctx := context.Background()
	r.Prime(ctx, "core-net")

	m := mf("app", "core-net")
	m.ParameterBindings = map[string]string{"vnetId": "core-net.vnetId"}
	overrides := r.ResolveBindings(ctx, m)
	if overrides["vnetId"] != "/vnets/core" {
		t.Fatalf("overrides = %#v", overrides)
	}
	if dep.fetches["core-net"] != 1 {
		t.Fatalf("prime plus resolve should fetch once, got %d", dep.fetches["core-net"])
	}
}


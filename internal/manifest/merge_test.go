package manifest

import (
	"reflect"
	"testing"
)

func TestDeepMerge_OverrideWinsForScalars(t *testing.T) {
	base := map[string]any{"a": 1, "b": "keep"}
	override := map[string]any{"a": 2, "c": true}

	got := deepMerge(base, override)
	want := map[string]any{"a": 2, "b": "keep", "c": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %#v, want %#v", got, want)
	}
}

func TestDeepMerge_NestedMappings(t *testing.T) {
	base := map[string]any{
		"stack": map[string]any{
			"name":       "net",
			"deployment": map[string]any{"location": "uksouth"},
		},
	}
	override := map[string]any{
		"stack": map[string]any{
			"deployment": map[string]any{"location": "westeurope", "subscription": true},
		},
	}

	got := deepMerge(base, override).(map[string]any)
	stack := got["stack"].(map[string]any)
	if stack["name"] != "net" {
		t.Fatalf("expected base name to survive, got %#v", stack["name"])
	}
	deployment := stack["deployment"].(map[string]any)
	if deployment["location"] != "westeurope" || deployment["subscription"] != true {
		t.Fatalf("unexpected deployment section: %#v", deployment)
	}
}

func TestDeepMerge_EmptyOverrideIsIdentity(t *testing.T) {
	base := map[string]any{
		"dependencies": []any{map[string]any{"name": "db", "stackName": "core-db"}},
	}
	got := deepMerge(base, map[string]any{})
	if !reflect.DeepEqual(got, base) {
		t.Fatalf("merged = %#v, want base unchanged", got)
	}
}

func TestDeepMerge_SelfMergeIsIdempotent(t *testing.T) {
	tree := map[string]any{
		"stack": map[string]any{
			"name":        "core-db",
			"deployment":  map[string]any{"location": "uksouth", "subscription": true},
			"extraAzArgs": []any{"--only-show-errors", "--debug"},
		},
		"dependencies": []any{
			map[string]any{"name": "net", "stackName": "core-net", "outputs": map[string]any{"vnetId": "id"}},
			map[string]any{"name": "dns", "stackName": "shared-dns"},
		},
		"parameterBindings": map[string]any{"vnetId": "net.vnetId"},
	}

	got := deepMerge(tree, tree)
	if !reflect.DeepEqual(got, tree) {
		t.Fatalf("self-merge = %#v, want %#v", got, tree)
	}
}

func TestMergeSequences_KeyedElementsMergeInPlace(t *testing.T) {
	base := []any{
		map[string]any{"name": "a", "x": 1},
		map[string]any{"name": "b", "x": 2},
	}
	override := []any{
		map[string]any{"name": "a", "x": 9},
		map[string]any{"name": "c", "x": 3},
	}

	got, ok := mergeSequences(base, override).([]any)
	if !ok {
		t.Fatalf("expected a sequence, got %#v", got)
	}
	want := []any{
		map[string]any{"name": "a", "x": 9},
		map[string]any{"name": "b", "x": 2},
		map[string]any{"name": "c", "x": 3},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %#v, want %#v", got, want)
	}
}

func TestMergeSequences_StackNameFallbackKey(t *testing.T) {
	base := []any{map[string]any{"stackName": "core-db", "outputs": map[string]any{"host": "dbHost"}}}
	override := []any{map[string]any{"stackName": "core-db", "outputs": map[string]any{"port": "dbPort"}}}

	got := mergeSequences(base, override).([]any)
	if len(got) != 1 {
		t.Fatalf("expected single merged element, got %#v", got)
	}
	outputs := got[0].(map[string]any)["outputs"].(map[string]any)
	if outputs["host"] != "dbHost" || outputs["port"] != "dbPort" {
		t.Fatalf("outputs did not merge: %#v", outputs)
	}
}

func TestMergeSequences_UnkeyedElementReplacesWholesale(t *testing.T) {
	base := []any{map[string]any{"name": "a"}, map[string]any{"other": "no-key"}}
	override := []any{map[string]any{"name": "b"}}

	got := mergeSequences(base, override)
	if !reflect.DeepEqual(got, []any{map[string]any{"name": "b"}}) {
		t.Fatalf("expected wholesale replacement, got %#v", got)
	}
}

func TestMergeSequences_DuplicateBaseKeyReplacesWholesale(t *testing.T) {
	base := []any{map[string]any{"name": "a", "x": 1}, map[string]any{"name": "a", "x": 2}}
	override := []any{map[string]any{"name": "a", "x": 3}}

	got := mergeSequences(base, override)
	if !reflect.DeepEqual(got, []any{map[string]any{"name": "a", "x": 3}}) {
		t.Fatalf("expected wholesale replacement, got %#v", got)
	}
}

func TestMergeSequences_ScalarElementsReplaceWholesale(t *testing.T) {
	got := mergeSequences([]any{"a", "b"}, []any{"c"})
	if !reflect.DeepEqual(got, []any{"c"}) {
		t.Fatalf("expected override list, got %#v", got)
	}
}

func TestDeepMerge_DoesNotAliasBase(t *testing.T) {
	base := map[string]any{"nested": map[string]any{"k": "v"}}
	merged := deepMerge(base, map[string]any{}).(map[string]any)
	merged["nested"].(map[string]any)["k"] = "mutated"

	if base["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("merge result aliases the base tree")
	}
}

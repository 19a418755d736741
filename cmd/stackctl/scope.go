package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/logging"
	"github.com/example/stackctl/internal/manifest"
	"go.uber.org/zap"
)

// scopeOptions are the flags shared by deploy, plan, and graph: everything
// needed to discover manifests and resolve the execution scope.
type scopeOptions struct {
	Root             string
	Glob             string
	Stacks           []string
	SkipDependencies bool
}

const defaultGlob = "**/*.manifest.yaml"

// scope is the fully resolved deployment scope.
type scope struct {
	Root      string
	Manifests map[string]*manifest.Manifest
	Ordered   []*manifest.Manifest
	Missing   map[string][]string
	Graph     *graph.ExecutionGraph
}

func buildLogger(level string, verbose bool) (*zap.Logger, error) {
	parsed, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.New(parsed, verbose)
}

// resolveScope discovers manifests under the root and resolves the ordered
// execution scope for the requested targets.
func resolveScope(opts scopeOptions, logger *zap.Logger) (*scope, error) {
	root := opts.Root
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	root = abs

	store, err := manifest.NewStore(root, opts.Glob, logger)
	if err != nil {
		return nil, err
	}
	manifests, err := store.Load()
	if err != nil {
		return nil, err
	}

	ordered, missing, err := graph.Resolve(manifests, opts.Stacks)
	if err != nil {
		return nil, err
	}

	if opts.SkipDependencies {
		if len(opts.Stacks) == 0 {
			return nil, fmt.Errorf("--skip-dependencies requires --stacks to name the stacks to deploy")
		}
		ordered, missing, err = trimToTargets(ordered, missing, opts.Stacks)
		if err != nil {
			return nil, err
		}
	}

	return &scope{
		Root:      root,
		Manifests: manifests,
		Ordered:   ordered,
		Missing:   missing,
		Graph:     graph.Build(ordered),
	}, nil
}

// trimToTargets keeps only the explicitly named stacks, preserving their
// resolved order. Dependencies outside the target set are assumed to be
// deployed already; they are reported as external so their outputs are
// fetched from the live stacks instead of redeployed. Target names that did
// not resolve to a manifest are an error: skipping dependencies for a stack
// that does not exist is never what the caller meant.
func trimToTargets(ordered []*manifest.Manifest, missing map[string][]string, targets []string) ([]*manifest.Manifest, map[string][]string, error) {
	keep := make(map[string]struct{}, len(targets))
	for _, name := range targets {
		keep[name] = struct{}{}
	}
	var trimmed []*manifest.Manifest
	trimmedMissing := make(map[string][]string)
	found := make(map[string]struct{}, len(targets))
	for _, m := range ordered {
		if _, ok := keep[m.Name]; !ok {
			continue
		}
		found[m.Name] = struct{}{}
		trimmed = append(trimmed, m)
		external := append([]string(nil), missing[m.Name]...)
		for _, dep := range m.Dependencies {
			if _, ok := keep[dep.StackName]; !ok {
				external = append(external, dep.StackName)
			}
		}
		sort.Strings(external)
		trimmedMissing[m.Name] = dedupe(external)
	}
	var unknown []string
	for _, name := range targets {
		if _, ok := found[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nil, fmt.Errorf("requested stacks were not found in the manifest set: %s", strings.Join(unknown, ", "))
	}
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("no matching stacks were found for the requested --stacks values")
	}
	return trimmed, trimmedMissing, nil
}

func dedupe(items []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

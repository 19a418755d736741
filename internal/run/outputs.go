// File: internal/run/outputs.go
// Brief: Cross-stack output cache and parameter binding resolution.

package run

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/example/stackctl/internal/manifest"
	"go.uber.org/zap"
)

// Deployer is the external capability that performs a stack deployment and
// reports its published outputs. Deploy blocks until the deployment finishes;
// a nil error means success. FetchOutputs is best-effort and returns an empty
// map on any retrieval failure.
type Deployer interface {
	Deploy(ctx context.Context, m *manifest.Manifest, overrides map[string]any) error
	FetchOutputs(ctx context.Context, stackName string) (map[string]any, error)
}

// OutputResolver memoizes published stack outputs and resolves parameter
// bindings against them. The cache is guarded by a single mutex; concurrent
// resolvers missing the same key may each fetch redundantly, which is
// tolerated because fetches are read-only and idempotent.
type OutputResolver struct {
	deployer Deployer
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]map[string]any
}

func NewOutputResolver(deployer Deployer, logger *zap.Logger) *OutputResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutputResolver{
		deployer: deployer,
		logger:   logger,
		cache:    map[string]map[string]any{},
	}
}

// ResolveBindings maps each declared parameter binding "alias.outputName" to
// the aliased stack's published output value. Unresolvable bindings are
// logged and dropped rather than failing the stack: deployment proceeds with
// whatever overrides could be resolved.
func (r *OutputResolver) ResolveBindings(ctx context.Context, m *manifest.Manifest) map[string]any {
	if len(m.ParameterBindings) == 0 {
		return nil
	}
	depsByAlias := m.DependencyByAlias()
	overrides := map[string]any{}
	for _, param := range sortedKeys(m.ParameterBindings) {
		binding := m.ParameterBindings[param]
		alias, outputName, ok := strings.Cut(binding, ".")
		if !ok || alias == "" || outputName == "" {
			r.logger.Warn("invalid parameter binding",
				zap.String("stack", m.Name),
				zap.String("parameter", param),
				zap.String("binding", binding))
			continue
		}
		dep, ok := depsByAlias[alias]
		if !ok {
			r.logger.Warn("parameter binding references unknown dependency alias",
				zap.String("stack", m.Name),
				zap.String("parameter", param),
				zap.String("alias", alias))
			continue
		}
		outputs := r.Outputs(ctx, dep.StackName)
		value, ok := outputs[outputName]
		if !ok {
			r.logger.Warn("dependency output unavailable; binding dropped",
				zap.String("stack", m.Name),
				zap.String("parameter", param),
				zap.String("dependency", dep.StackName),
				zap.String("output", outputName))
			continue
		}
		overrides[param] = value
	}
	return overrides
}

// Outputs returns the published outputs of a stack, fetching and memoizing
// them on first use. Empty fetch results are never cached so a later caller
// can retry once the stack actually exists.
func (r *OutputResolver) Outputs(ctx context.Context, stackName string) map[string]any {
	r.mu.Lock()
	cached, ok := r.cache[stackName]
	r.mu.Unlock()
	if ok {
		return cached
	}

	outputs, err := r.deployer.FetchOutputs(ctx, stackName)
	if err != nil {
		r.logger.Warn("output fetch failed", zap.String("stack", stackName), zap.Error(err))
		return nil
	}
	if len(outputs) == 0 {
		return nil
	}
	r.mu.Lock()
	r.cache[stackName] = outputs
	r.mu.Unlock()
	return outputs
}

// Prime warms the cache with a stack's own outputs after it deploys, so
// dependents scheduled later skip the fetch.
func (r *OutputResolver) Prime(ctx context.Context, stackName string) {
	r.mu.Lock()
	_, ok := r.cache[stackName]
	r.mu.Unlock()
	if ok {
		return
	}
	r.Outputs(ctx, stackName)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

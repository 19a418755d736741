// File: internal/run/scheduler.go
// Brief: Level-synchronous concurrent execution over the dependency graph.

package run

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/manifest"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Observer receives per-stack terminal status transitions as they happen.
type Observer interface {
	ObserveStack(name string, status StackStatus, err error)
}

// Options configures one scheduler run.
type Options struct {
	Graph     *graph.ExecutionGraph
	Manifests map[string]*manifest.Manifest
	Deployer  Deployer
	Resolver  *OutputResolver

	// Parallelism bounds in-flight deployments within a level. StopOnError
	// forces it to 1 so that "stop after the first failure" is unambiguous.
	Parallelism int
	StopOnError bool

	// DryRun suppresses output priming after deployment: a dry run deploys
	// nothing, so there are no fresh outputs worth fetching.
	DryRun bool

	Logger    *zap.Logger
	Observers []Observer
}

// Scheduler drives the execution graph level by level: every stack whose
// in-scope dependencies completed successfully forms one level, the whole
// level runs (bounded by Parallelism) behind a hard barrier, and only then
// is the next level computed.
type Scheduler struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) (*Scheduler, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("execution graph is required")
	}
	if opts.Deployer == nil {
		return nil, fmt.Errorf("deployer is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.StopOnError {
		opts.Parallelism = 1
	}
	return &Scheduler{opts: opts, logger: opts.Logger}, nil
}

// Run executes every stack in the graph. Per-stack deployment failures do not
// abort the run (they block only that stack's dependents, or end scheduling
// when StopOnError is set); the returned error is reserved for infrastructure
// failures such as context cancellation.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	g := s.opts.Graph
	ready := g.InitialReady()
	remaining := make(map[string]struct{}, len(g.Indegree))
	for name := range g.Indegree {
		remaining[name] = struct{}{}
	}

	res := &Result{Errors: map[string]error{}}
	stop := false

	for len(ready) > 0 && !stop {
		level := ready
		ready = nil

		executed, errs := s.runLevel(ctx, level)
		for _, name := range executed {
			delete(remaining, name)
			if err := errs[name]; err != nil {
				res.Failed = append(res.Failed, name)
				res.Errors[name] = err
				s.notify(name, StatusFailed, err)
				if s.opts.StopOnError {
					stop = true
				}
				continue
			}
			res.Succeeded = append(res.Succeeded, name)
			s.notify(name, StatusSucceeded, nil)
			for _, child := range g.Dependents[name] {
				g.Indegree[child]--
				if g.Indegree[child] != 0 {
					continue
				}
				if _, pending := remaining[child]; pending {
					ready = append(ready, child)
				}
			}
		}
		if err := ctx.Err(); err != nil {
			break
		}
		g.SortByRank(ready)
	}

	if len(remaining) > 0 {
		skipped := make([]string, 0, len(remaining))
		for name := range remaining {
			skipped = append(skipped, name)
		}
		g.SortByRank(skipped)
		res.Skipped = skipped
		for _, name := range skipped {
			s.notify(name, StatusSkipped, nil)
		}
		s.logger.Warn("stacks skipped due to unmet dependencies or earlier failures",
			zap.Strings("stacks", skipped))
	}
	return res, ctx.Err()
}

// runLevel dispatches one level. With Parallelism of 1 stacks run strictly in
// order, and StopOnError cuts the level short after a failure; otherwise the
// whole level runs concurrently, bounded by a weighted semaphore, and the
// barrier waits for every dispatch to finish.
func (s *Scheduler) runLevel(ctx context.Context, level []string) ([]string, map[string]error) {
	errs := make(map[string]error, len(level))

	if s.opts.Parallelism == 1 {
		var executed []string
		for _, name := range level {
			err := s.deployOne(ctx, name)
			executed = append(executed, name)
			errs[name] = err
			if err != nil && s.opts.StopOnError {
				break
			}
		}
		return executed, errs
	}

	sem := semaphore.NewWeighted(int64(s.opts.Parallelism))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, name := range level {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
				return
			}
			defer sem.Release(1)
			err := s.deployOne(ctx, name)
			mu.Lock()
			errs[name] = err
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return level, errs
}

func (s *Scheduler) deployOne(ctx context.Context, name string) error {
	m, ok := s.opts.Manifests[name]
	if !ok {
		return fmt.Errorf("internal error: no manifest for scheduled stack %q", name)
	}
	var overrides map[string]any
	if s.opts.Resolver != nil {
		overrides = s.opts.Resolver.ResolveBindings(ctx, m)
	}
	s.logger.Info("deploying stack",
		zap.String("stack", name),
		zap.String("manifest", m.Path),
		zap.Int("overrides", len(overrides)))
	if err := s.opts.Deployer.Deploy(ctx, m, overrides); err != nil {
		s.logger.Error("stack deployment failed", zap.String("stack", name), zap.Error(err))
		return err
	}
	if s.opts.Resolver != nil && !s.opts.DryRun {
		s.opts.Resolver.Prime(ctx, name)
	}
	return nil
}

func (s *Scheduler) notify(name string, status StackStatus, err error) {
	for _, obs := range s.opts.Observers {
		if obs == nil {
			continue
		}
		obs.ObserveStack(name, status, err)
	}
}

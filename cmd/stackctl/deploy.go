package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/example/stackctl/internal/azcli"
	"github.com/example/stackctl/internal/console"
	"github.com/example/stackctl/internal/run"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type deployOptions struct {
	scopeOptions

	Location         string
	ActionOnUnmanage string
	DenySettingsMode string
	AzCLI            string
	ExtraAzArgs      string
	OutputFormat     string

	Parallelism int
	StopOnError bool
	AutoApprove bool
	DryRun      bool
	Echo        bool
	Verbose     bool
	Color       string

	IncludeDependencies bool
	SkipDeps            bool
}

func newDeployCommand(logLevel *string) *cobra.Command {
	opts := deployOptions{
		scopeOptions:     scopeOptions{Glob: defaultGlob},
		Location:         "uksouth",
		ActionOnUnmanage: "deleteAll",
		DenySettingsMode: "none",
		AzCLI:            "az",
		Parallelism:      1,
		Color:            "auto",
	}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy stacks and their dependencies in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, opts, *logLevel)
		},
	}
	bindScopeFlags(cmd, &opts.scopeOptions)
	cmd.Flags().StringVar(&opts.Location, "location", opts.Location, "Azure location for stacks that do not set one")
	cmd.Flags().StringVar(&opts.ActionOnUnmanage, "action-on-unmanage", opts.ActionOnUnmanage, "Behaviour for resources no longer managed by the stack (deleteAll, deleteResources, detachAll)")
	cmd.Flags().StringVar(&opts.DenySettingsMode, "deny-settings-mode", opts.DenySettingsMode, "Deny settings applied to the managed resources (none, denyDelete, denyWriteAndDelete)")
	cmd.Flags().StringVar(&opts.AzCLI, "az-cli", opts.AzCLI, "Name or path of the Azure CLI binary")
	cmd.Flags().StringVar(&opts.ExtraAzArgs, "extra-az-args", "", "Extra arguments appended to every az invocation (shell-quoted)")
	cmd.Flags().StringVarP(&opts.OutputFormat, "output", "o", "", "Azure CLI output format for deployment commands")
	cmd.Flags().IntVarP(&opts.Parallelism, "parallelism", "p", opts.Parallelism, "Maximum concurrent deployments within a dependency level")
	cmd.Flags().BoolVar(&opts.StopOnError, "stop-on-error", false, "Stop scheduling after the first failed stack (forces sequential execution)")
	cmd.Flags().BoolVarP(&opts.AutoApprove, "yes", "y", false, "Pass --yes to az so deployments run without prompting")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the az commands without executing them")
	cmd.Flags().BoolVar(&opts.Echo, "echo", false, "Print each az command before executing it")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output (implies --echo and debug logging)")
	cmd.Flags().StringVar(&opts.Color, "color", opts.Color, "Colorize summary output (auto, always, never)")
	cmd.Flags().BoolVar(&opts.IncludeDependencies, "include-dependencies", false, "Deploy dependencies of the selected stacks (default behaviour)")
	cmd.Flags().BoolVar(&opts.SkipDeps, "skip-dependencies", false, "Deploy only the named stacks; fetch dependency outputs from existing deployments")
	cmd.MarkFlagsMutuallyExclusive("include-dependencies", "skip-dependencies")
	return cmd
}

func bindScopeFlags(cmd *cobra.Command, opts *scopeOptions) {
	cmd.Flags().StringVar(&opts.Root, "root", "", "Directory to search for stack manifests (default: working directory)")
	cmd.Flags().StringVar(&opts.Glob, "glob", opts.Glob, "Glob pattern matching stack manifest files")
	cmd.Flags().StringSliceVar(&opts.Stacks, "stacks", nil, "Stack names to deploy (default: every discovered stack)")
}

func runDeploy(cmd *cobra.Command, opts deployOptions, logLevel string) error {
	if opts.SkipDeps {
		opts.SkipDependencies = true
	}
	if skipFromEnv() && !cmd.Flags().Changed("include-dependencies") {
		opts.SkipDependencies = true
	}
	logger, err := buildLogger(logLevel, opts.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sc, err := resolveScope(opts.scopeOptions, logger)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pal := console.NewPalette(console.ParseColorMode(opts.Color))
	console.PrintSummary(out, sc.Manifests, sc.Ordered, sc.Missing, pal)
	if len(sc.Ordered) == 0 {
		fmt.Fprintln(out, "All stacks processed successfully.")
		return nil
	}
	if opts.SkipDependencies {
		reportReusedDependencies(out, sc)
	}

	cliPath, err := azcli.LookupCLI(opts.AzCLI)
	if err != nil {
		return err
	}
	extraArgs, err := parseExtraArgs(opts.ExtraAzArgs)
	if err != nil {
		return err
	}

	deployer := azcli.New(azcli.Options{
		CLIPath:          cliPath,
		Location:         opts.Location,
		ActionOnUnmanage: opts.ActionOnUnmanage,
		DenySettingsMode: opts.DenySettingsMode,
		OutputFormat:     opts.OutputFormat,
		ExtraArgs:        extraArgs,
		AutoApprove:      opts.AutoApprove,
		DryRun:           opts.DryRun,
		Echo:             opts.Echo || opts.Verbose,
		Verbose:          opts.Verbose,
	}, out, cmd.ErrOrStderr(), logger)

	var observers []run.Observer
	var store *run.StateStore
	runID := run.NewRunID()
	if !opts.DryRun {
		store, err = run.OpenStateStore(sc.Root)
		if err != nil {
			logger.Warn("run history disabled", zap.Error(err))
		} else {
			defer store.Close()
			planned := make([]string, 0, len(sc.Ordered))
			for _, m := range sc.Ordered {
				planned = append(planned, m.Name)
			}
			if err := store.CreateRun(cmd.Context(), runID, sc.Root, planned); err != nil {
				logger.Warn("run history disabled", zap.Error(err))
				store.Close()
				store = nil
			} else {
				observers = append(observers, &run.StoreObserver{
					Store: store,
					RunID: runID,
					Warn: func(err error) {
						logger.Warn("record run progress", zap.Error(err))
					},
				})
			}
		}
	}

	sched, err := run.New(run.Options{
		Graph:       sc.Graph,
		Manifests:   sc.Manifests,
		Deployer:    deployer,
		Resolver:    run.NewOutputResolver(deployer, logger),
		Parallelism: opts.Parallelism,
		StopOnError: opts.StopOnError,
		DryRun:      opts.DryRun,
		Logger:      logger,
		Observers:   observers,
	})
	if err != nil {
		return err
	}

	res, runErr := sched.Run(cmd.Context())
	if store != nil && res != nil {
		if err := store.FinalizeRun(cmd.Context(), runID, res); err != nil {
			logger.Warn("finalize run record", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	return reportResult(cmd, res)
}

// skipFromEnv honours STACKCTL_DEPENDENCIES=skip for environments where the
// flag cannot be passed through.
func skipFromEnv() bool {
	return strings.EqualFold(os.Getenv("STACKCTL_DEPENDENCIES"), "skip")
}

func parseExtraArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse --extra-az-args: %w", err)
	}
	return args, nil
}

func reportReusedDependencies(out io.Writer, sc *scope) {
	reused := make(map[string]struct{})
	for _, deps := range sc.Missing {
		for _, dep := range deps {
			reused[dep] = struct{}{}
		}
	}
	if len(reused) == 0 {
		return
	}
	names := make([]string, 0, len(reused))
	for name := range reused {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(out, "Reusing outputs from existing stacks: %s\n\n", strings.Join(names, ", "))
}

func reportResult(cmd *cobra.Command, res *run.Result) error {
	errOut := cmd.ErrOrStderr()
	if len(res.Skipped) > 0 {
		fmt.Fprintf(errOut, "Skipped stacks due to unmet dependencies or earlier failures: %s\n", strings.Join(res.Skipped, ", "))
	}
	for _, name := range res.Failed {
		fmt.Fprintf(errOut, "Stack %s failed: %v\n", name, res.Errors[name])
	}
	if !res.Success() {
		failed := append(append([]string(nil), res.Failed...), res.Skipped...)
		return fmt.Errorf("completed with failures in: %s", strings.Join(failed, ", "))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All stacks processed successfully.")
	return nil
}

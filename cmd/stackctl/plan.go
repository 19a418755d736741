package main

import (
	"encoding/json"
	"fmt"

	"github.com/example/stackctl/internal/console"
	"github.com/example/stackctl/internal/graph"
	"github.com/spf13/cobra"
)

type planOptions struct {
	scopeOptions
	Format string
	Color  string
}

func newPlanCommand(logLevel *string) *cobra.Command {
	opts := planOptions{
		scopeOptions: scopeOptions{Glob: defaultGlob},
		Format:       "table",
		Color:        "auto",
	}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the resolved deployment plan without deploying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, *logLevel)
		},
	}
	bindScopeFlags(cmd, &opts.scopeOptions)
	cmd.Flags().BoolVar(&opts.SkipDependencies, "skip-dependencies", false, "Plan only the named stacks; treat their dependencies as already deployed")
	cmd.Flags().StringVarP(&opts.Format, "output", "o", opts.Format, "Output format (table, json)")
	cmd.Flags().StringVar(&opts.Color, "color", opts.Color, "Colorize summary output (auto, always, never)")
	return cmd
}

// planStack is the JSON shape for one planned stack.
type planStack struct {
	Position     int      `json:"position"`
	Name         string   `json:"name"`
	Manifest     string   `json:"manifest"`
	Location     string   `json:"location,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	External     []string `json:"externalDependencies,omitempty"`
}

func runPlan(cmd *cobra.Command, opts planOptions, logLevel string) error {
	logger, err := buildLogger(logLevel, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sc, err := resolveScope(opts.scopeOptions, logger)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch opts.Format {
	case "table", "":
		pal := console.NewPalette(console.ParseColorMode(opts.Color))
		console.PrintSummary(out, sc.Manifests, sc.Ordered, sc.Missing, pal)
		return console.PrintPlanTable(out, sc.Ordered, sc.Missing, sc.Graph)
	case "json":
		plan := make([]planStack, 0, len(sc.Ordered))
		for idx, m := range sc.Ordered {
			entry := planStack{
				Position: idx,
				Name:     m.Name,
				Manifest: m.Path,
				Location: m.Location,
				External: sc.Missing[m.Name],
			}
			for _, dep := range m.Dependencies {
				if _, ok := sc.Graph.OrderIndex[dep.StackName]; ok {
					entry.Dependencies = append(entry.Dependencies, dep.StackName)
				}
			}
			plan = append(plan, entry)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	default:
		return fmt.Errorf("unknown output format %q (expected table or json)", opts.Format)
	}
}

func newGraphCommand(logLevel *string) *cobra.Command {
	opts := scopeOptions{Glob: defaultGlob}
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency edges of the selected scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(*logLevel, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sc, err := resolveScope(opts, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			edges := graph.Edges(sc.Ordered, sc.Graph)
			if len(edges) == 0 {
				fmt.Fprintln(out, "No dependency edges in the selected scope.")
				return nil
			}
			for _, edge := range edges {
				fmt.Fprintf(out, "%s -> %s\n", edge[0], edge[1])
			}
			return nil
		},
	}
	bindScopeFlags(cmd, &opts)
	return cmd
}

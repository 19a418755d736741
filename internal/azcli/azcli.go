// File: internal/azcli/azcli.go
// Brief: Azure CLI deployment-stack deployer (az stack sub create/show).

package azcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/example/stackctl/internal/manifest"
	"go.uber.org/zap"
)

// Options controls how deployment commands are constructed and executed.
type Options struct {
	CLIPath          string
	Location         string
	ActionOnUnmanage string
	DenySettingsMode string
	OutputFormat     string
	ExtraArgs        []string
	AutoApprove      bool

	DryRun  bool
	Echo    bool
	Verbose bool
}

// Deployer shells out to the Azure CLI for subscription-scoped deployment
// stacks. It satisfies the scheduler's Deployer contract.
type Deployer struct {
	opts   Options
	out    io.Writer
	errOut io.Writer
	logger *zap.Logger
}

func New(opts Options, out, errOut io.Writer, logger *zap.Logger) *Deployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deployer{opts: opts, out: out, errOut: errOut, logger: logger}
}

// LookupCLI resolves the Azure CLI executable on PATH.
func LookupCLI(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("azure CLI executable %q was not found on PATH; install it or supply --az-cli with the full path", name)
	}
	return path, nil
}

// Deploy builds and runs the deployment command for one stack, blocking
// until the CLI exits. A non-zero exit code is returned as an error.
func (d *Deployer) Deploy(ctx context.Context, m *manifest.Manifest, overrides map[string]any) error {
	extraArgs := append(append([]string(nil), m.ExtraAzArgs...), d.opts.ExtraArgs...)
	command, err := BuildCommand(d.opts, m, extraArgs, overrides)
	if err != nil {
		return fmt.Errorf("build command for stack %q: %w", m.Name, err)
	}

	if d.opts.DryRun {
		if d.opts.Verbose || d.opts.Echo {
			fmt.Fprintln(d.out, FormatCommand(command))
		}
		return nil
	}
	if d.opts.Verbose || d.opts.Echo {
		fmt.Fprintln(d.out, FormatCommand(command))
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = m.Dir()
	cmd.Stdout = d.out
	cmd.Stderr = d.errOut
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("stack %q deployment failed with exit code %d", m.Name, exitErr.ExitCode())
		}
		return fmt.Errorf("stack %q deployment failed: %w", m.Name, err)
	}
	return nil
}

// FetchOutputs reads a deployed stack's published outputs via
// `az stack sub show`. It is best-effort: any retrieval or decode failure
// yields an empty map rather than an error.
func (d *Deployer) FetchOutputs(ctx context.Context, stackName string) (map[string]any, error) {
	command := []string{d.opts.CLIPath, "stack", "sub", "show", "--name", stackName, "--output", "json"}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		d.logger.Debug("stack show failed", zap.String("stack", stackName), zap.Error(err))
		return map[string]any{}, nil
	}
	return ParseOutputs(stdout.Bytes()), nil
}

// BuildCommand constructs the full az invocation for one stack. Only
// subscription-scoped deployments are supported.
func BuildCommand(opts Options, m *manifest.Manifest, extraArgs []string, overrides map[string]any) ([]string, error) {
	if !m.SubscriptionScoped {
		return nil, fmt.Errorf("stack %q declares a non-subscription deployment, which is not yet supported", m.Name)
	}

	location := m.Location
	if location == "" {
		location = opts.Location
	}
	command := []string{
		opts.CLIPath,
		"stack", "sub", "create",
		"--name", m.Name,
		"--location", location,
		"--template-file", m.TemplateFile,
	}
	if m.ParameterFile != "" {
		command = append(command, "--parameters", m.ParameterFile)
	}
	for _, param := range sortedOverrideKeys(overrides) {
		serialized, err := json.Marshal(overrides[param])
		if err != nil {
			return nil, fmt.Errorf("serialize parameter %q: %w", param, err)
		}
		command = append(command, "--parameters", fmt.Sprintf("%s=%s", param, serialized))
	}
	command = append(command,
		"--action-on-unmanage", opts.ActionOnUnmanage,
		"--deny-settings-mode", opts.DenySettingsMode,
	)
	if opts.AutoApprove && !contains(extraArgs, "--yes") && !contains(command, "--yes") {
		command = append(command, "--yes")
	}
	if opts.OutputFormat != "" && !hasOutputFlag(extraArgs) {
		command = append(command, "--output", opts.OutputFormat)
	}
	command = append(command, extraArgs...)
	return command, nil
}

// ParseOutputs unwraps the outputs section of an `az stack sub show` payload.
// ARM wraps each output in a {value: ...} envelope; values without one pass
// through as-is.
func ParseOutputs(raw []byte) map[string]any {
	var payload struct {
		Outputs map[string]any `json:"outputs"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	resolved := make(map[string]any, len(payload.Outputs))
	for key, value := range payload.Outputs {
		if envelope, ok := value.(map[string]any); ok {
			if inner, ok := envelope["value"]; ok {
				resolved[key] = inner
				continue
			}
		}
		resolved[key] = value
	}
	return resolved
}

// FormatCommand renders a command with each argument JSON-quoted, making
// embedded spaces and quoting unambiguous in echoed output.
func FormatCommand(command []string) string {
	parts := make([]string, 0, len(command))
	for _, arg := range command {
		quoted, _ := json.Marshal(arg)
		parts = append(parts, string(quoted))
	}
	return strings.Join(parts, " ")
}

func hasOutputFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--output" || strings.HasPrefix(arg, "--output=") {
			return true
		}
		if arg == "-o" || (strings.HasPrefix(arg, "-o") && len(arg) > 2 && !strings.HasPrefix(arg, "--")) {
			return true
		}
	}
	return false
}

func contains(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}

func sortedOverrideKeys(overrides map[string]any) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

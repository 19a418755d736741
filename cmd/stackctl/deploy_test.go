package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd
}

func writeDeployFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	manifest := `
stack:
  name: core-net
  template:
    file: net.bicep
`
	if err := os.WriteFile(filepath.Join(root, "net.manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "net.bicep"), []byte("// template"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return root
}

func writeStubCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "az")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub cli: %v", err)
	}
	return path
}

func baseDeployOpts(root string) deployOptions {
	return deployOptions{
		scopeOptions:     scopeOptions{Root: root, Glob: defaultGlob},
		Location:         "uksouth",
		ActionOnUnmanage: "deleteAll",
		DenySettingsMode: "none",
		AzCLI:            "az",
		OutputFormat:     "json",
		Parallelism:      1,
		Color:            "never",
	}
}

func TestRunDeploy_DryRunStillRequiresCLI(t *testing.T) {
	root := writeDeployFixture(t)
	opts := baseDeployOpts(root)
	opts.DryRun = true
	opts.AzCLI = filepath.Join(t.TempDir(), "missing-az")

	var out bytes.Buffer
	err := runDeploy(newTestCommand(&out), opts, "error")
	if err == nil || !strings.Contains(err.Error(), "was not found on PATH") {
		t.Fatalf("expected CLI lookup failure, got %v", err)
	}
}

func TestRunDeploy_DryRunEchoesCommandsWithoutDeploying(t *testing.T) {
	root := writeDeployFixture(t)
	opts := baseDeployOpts(root)
	opts.DryRun = true
	opts.Echo = true
	opts.AzCLI = writeStubCLI(t)

	var out bytes.Buffer
	if err := runDeploy(newTestCommand(&out), opts, "error"); err != nil {
		t.Fatalf("runDeploy: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, `"create"`) {
		t.Fatalf("expected the echoed deployment command, got:\n%s", text)
	}
	if !strings.Contains(text, "All stacks processed successfully.") {
		t.Fatalf("expected the closing line, got:\n%s", text)
	}
	if _, err := os.Stat(filepath.Join(root, ".stackctl")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not create run history state: %v", err)
	}
}

func TestRunDeploy_EmptyScopeReportsSuccess(t *testing.T) {
	root := writeDeployFixture(t)
	opts := baseDeployOpts(root)
	opts.Stacks = []string{"ghost"}
	opts.AzCLI = filepath.Join(t.TempDir(), "missing-az")

	var out bytes.Buffer
	if err := runDeploy(newTestCommand(&out), opts, "error"); err != nil {
		t.Fatalf("runDeploy: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "No stacks selected for deployment.") {
		t.Fatalf("expected the empty-scope notice, got:\n%s", text)
	}
	if !strings.Contains(text, "All stacks processed successfully.") {
		t.Fatalf("expected the closing line, got:\n%s", text)
	}
}

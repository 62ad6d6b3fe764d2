package deps

import (
	"encoding/json"
	"fmt"
	"strings"
)

// InstallPolicy abstracts the package manager used on the execution host.
// Implementations only build command strings and parse output; running the
// commands is the Manager's job.
type InstallPolicy interface {
	// InitCommands are one-time setup commands run before first use.
	InitCommands() []string
	// InstallCommand builds the shell command installing pkg.
	InstallCommand(pkg string) string
	// UninstallCommand builds the shell command removing pkg.
	UninstallCommand(pkg string) string
	// ListCommand builds the shell command listing installed packages.
	ListCommand() string
	// ParsePackages extracts package names from ListCommand output.
	ParsePackages(output string) []string
}

// PolicyByName resolves an install policy by its configuration name.
func PolicyByName(name string) (InstallPolicy, error) {
	switch strings.ToLower(name) {
	case "", "pip":
		return PipPolicy{}, nil
	case "uv":
		return UVPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown install policy %q (want pip or uv)", name)
	}
}

// PipPolicy manages packages with pip. Slow but present in every Python
// image.
type PipPolicy struct{}

func (PipPolicy) InitCommands() []string { return nil }

func (PipPolicy) InstallCommand(pkg string) string { return "pip install " + pkg }

func (PipPolicy) UninstallCommand(pkg string) string { return "pip uninstall -y " + pkg }

func (PipPolicy) ListCommand() string { return "pip list" }

// ParsePackages reads the tabular `pip list` output: a two-line header
// followed by "name version" rows.
func (PipPolicy) ParsePackages(output string) []string {
	var pkgs []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Package") || strings.HasPrefix(line, "---") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pkgs = append(pkgs, strings.ToLower(fields[0]))
	}
	return pkgs
}

// UVPolicy manages packages with uv, which is an order of magnitude faster
// than pip. Bootstrapped via pip on first use.
type UVPolicy struct{}

func (UVPolicy) InitCommands() []string { return []string{"pip install uv"} }

func (UVPolicy) InstallCommand(pkg string) string { return "uv pip install --system " + pkg }

func (UVPolicy) UninstallCommand(pkg string) string { return "uv pip uninstall --system " + pkg }

func (UVPolicy) ListCommand() string { return "uv pip list --system --format=json -q" }

// ParsePackages reads the JSON array emitted by `uv pip list --format=json`.
// Malformed output yields an empty list rather than an error; the manager
// treats that as an empty environment.
func (UVPolicy) ParsePackages(output string) []string {
	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &entries); err != nil {
		return nil
	}
	pkgs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name != "" {
			pkgs = append(pkgs, strings.ToLower(e.Name))
		}
	}
	return pkgs
}

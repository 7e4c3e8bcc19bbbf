// Package tools locates the external pipeline binaries and builds their
// command lines. The binaries themselves are black boxes: the driver only
// invokes them and inspects exit status and output artifacts.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"corrector/internal/apperrors"
	"corrector/internal/config"
)

// Default binary names, overridable per tool in the run configuration.
const (
	DefaultConvert    = "recconvert"    // raw reads <-> internal record format
	DefaultBuildStore = "storebuild"    // records -> assembly store
	DefaultStoreInfo  = "storeinfo"     // store library introspection
	DefaultLayout     = "correctlayout" // store + overlaps -> per-partition layouts
	DefaultBank       = "bankbuild"     // layout -> transactional partition store
	DefaultConsensus  = "bankconsensus" // partition store -> consensus
	DefaultExport     = "bankexport"    // partition store -> sequence + quality
)

// Set holds the resolved tool commands for one run.
type Set struct {
	Convert    string
	BuildStore string
	StoreInfo  string
	Layout     string
	Bank       string
	Consensus  string
	Export     string
}

// Resolve builds the tool set from configuration. With a BinDir the tools
// are addressed inside it; otherwise bare names are left for PATH lookup
// (and, in container mode, for the image's PATH).
func Resolve(cfg config.Tools) *Set {
	pick := func(configured, fallback string) string {
		name := configured
		if name == "" {
			name = fallback
		}
		if cfg.BinDir != "" && !filepath.IsAbs(name) {
			return filepath.Join(cfg.BinDir, name)
		}
		return name
	}
	return &Set{
		Convert:    pick(cfg.Convert, DefaultConvert),
		BuildStore: pick(cfg.BuildStore, DefaultBuildStore),
		StoreInfo:  pick(cfg.StoreInfo, DefaultStoreInfo),
		Layout:     pick(cfg.Layout, DefaultLayout),
		Bank:       pick(cfg.Bank, DefaultBank),
		Consensus:  pick(cfg.Consensus, DefaultConsensus),
		Export:     pick(cfg.Export, DefaultExport),
	}
}

// All returns every tool command in the set.
func (s *Set) All() []string {
	return []string{s.Convert, s.BuildStore, s.StoreInfo, s.Layout, s.Bank, s.Consensus, s.Export}
}

// Verify checks every tool resolves to an executable.
func (s *Set) Verify() error {
	for _, tool := range s.All() {
		if _, err := exec.LookPath(tool); err != nil {
			return apperrors.Validation("tools", fmt.Sprintf("tool %s not found: %v", tool, err))
		}
	}
	return nil
}

// Run executes one tool invocation and maps a nonzero exit to a fatal
// tool-failure error. Output is captured for the error message only.
func Run(ctx context.Context, stageName string, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(out.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, lastLines(detail, 5))
		}
		return apperrors.ToolFailure(stageName, command+" "+strings.Join(args, " "), err)
	}
	return nil
}

// Output executes one tool invocation and returns its stdout.
func Output(ctx context.Context, stageName string, command string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, lastLines(detail, 5))
		}
		return "", apperrors.ToolFailure(stageName, command+" "+strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// lastLines trims tool output to its tail for error messages.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

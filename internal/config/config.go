// Package config provides run configuration loading from a YAML run file
// with environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"corrector/internal/apperrors"
)

// Run holds the full configuration for one correction run.
type Run struct {
	WorkDir string   `yaml:"workDir"` // scratch directory for this run
	Inputs  []string `yaml:"inputs"`  // raw read files to convert and correct
	Output  string   `yaml:"output"`  // final corrected store, outside the scratch tree

	Partitions int `yaml:"partitions"` // requested partition count
	Threads    int `yaml:"threads"`    // threads per tool invocation

	MinReadLength int     `yaml:"minReadLength"` // layout tool minimum read length
	MaxErrorRate  float64 `yaml:"maxErrorRate"`  // layout tool error-rate ceiling

	Grid      Grid      `yaml:"grid"`
	Container Container `yaml:"container"`
	Tools     Tools     `yaml:"tools"`
	Notify    Notify    `yaml:"notify"`

	MetricsPort string `yaml:"metricsPort"` // empty disables the /metrics listener
	Cleanup     *bool  `yaml:"cleanup"`     // remove scratch tree on success (default true)
}

// Grid holds batch scheduler submission parameters.
// A non-empty Submit command selects the grid backend.
type Grid struct {
	Submit  string   `yaml:"submit"`  // batch submit command (e.g. "qsub")
	Options []string `yaml:"options"` // pass-through resource options, not interpreted
}

// Container holds container backend parameters.
// A non-empty Image selects the container backend when no grid is configured.
type Container struct {
	Image       string `yaml:"image"`
	Concurrency int    `yaml:"concurrency"` // max containers in flight (default: threads)
}

// Tools holds external tool binary locations. Empty names use the defaults
// and are resolved against BinDir first, then PATH.
type Tools struct {
	BinDir     string `yaml:"binDir"`
	Convert    string `yaml:"convert"`
	BuildStore string `yaml:"buildStore"`
	StoreInfo  string `yaml:"storeInfo"`
	Layout     string `yaml:"layout"`
	Bank       string `yaml:"bank"`
	Consensus  string `yaml:"consensus"`
	Export     string `yaml:"export"`
}

// Notify holds run event callback configuration.
type Notify struct {
	URL     string   `yaml:"url"`
	KeyFile string   `yaml:"keyFile"` // HMAC signing key file
	Events  []string `yaml:"events"`  // empty = all events
}

// Backend names.
const (
	BackendLocal     = "local"
	BackendGrid      = "grid"
	BackendContainer = "container"
)

// Backend returns the dispatch backend selected by this configuration.
// Grid parameters win when supplied; a container image is next; local is
// the fallback.
func (r *Run) Backend() string {
	if r.Grid.Submit != "" {
		return BackendGrid
	}
	if r.Container.Image != "" {
		return BackendContainer
	}
	return BackendLocal
}

// CleanupEnabled reports whether the scratch tree is removed on success.
func (r *Run) CleanupEnabled() bool {
	return r.Cleanup == nil || *r.Cleanup
}

// Load reads the run file (optional), applies environment overrides and
// defaults, and validates. Validation failures are reported before any
// stage runs and cause a clean nonzero exit with no side effects.
func Load(path string) (*Run, error) {
	r := &Run{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Validation("runFile", fmt.Sprintf("cannot read run file: %v", err))
		}
		if err := yaml.Unmarshal(data, r); err != nil {
			return nil, apperrors.Validation("runFile", fmt.Sprintf("cannot parse run file: %v", err))
		}
	}

	r.applyEnv()
	r.applyDefaults()

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// applyEnv overrides file values from the environment.
func (r *Run) applyEnv() {
	r.WorkDir = GetEnv("WORK_DIR", r.WorkDir)
	r.Output = GetEnv("OUTPUT", r.Output)
	r.Partitions = GetIntEnv("PARTITIONS", r.Partitions)
	r.Threads = GetIntEnv("THREADS", r.Threads)
	r.Grid.Submit = GetEnv("GRID_SUBMIT", r.Grid.Submit)
	if opts := os.Getenv("GRID_OPTIONS"); opts != "" {
		r.Grid.Options = strings.Fields(opts)
	}
	r.Container.Image = GetEnv("CONTAINER_IMAGE", r.Container.Image)
	r.Tools.BinDir = GetEnv("TOOL_BIN_DIR", r.Tools.BinDir)
	r.MetricsPort = GetEnv("METRICS_PORT", r.MetricsPort)
	r.Notify.URL = GetEnv("CALLBACK_URL", r.Notify.URL)
	r.Notify.KeyFile = GetEnv("CALLBACK_KEY_FILE", r.Notify.KeyFile)
	if os.Getenv("CLEANUP") != "" {
		v := GetBoolEnv("CLEANUP", true)
		r.Cleanup = &v
	}
}

// applyDefaults sets default values for unspecified fields.
func (r *Run) applyDefaults() {
	if r.Output == "" {
		r.Output = "corrected.rec"
	}
	if r.Partitions <= 0 {
		r.Partitions = 64
	}
	if r.Threads <= 0 {
		r.Threads = 4
	}
	if r.MinReadLength <= 0 {
		r.MinReadLength = 500
	}
	if r.MaxErrorRate <= 0 {
		r.MaxErrorRate = 0.15
	}
	if r.Container.Image != "" && r.Container.Concurrency <= 0 {
		r.Container.Concurrency = r.Threads
	}
}

// Validate validates the run configuration. Does not modify it.
func (r *Run) Validate() error {
	if r.WorkDir == "" {
		return apperrors.Validation("workDir", "work directory is required")
	}
	if len(r.Inputs) == 0 {
		return apperrors.Validation("inputs", "at least one input read file is required")
	}
	for _, in := range r.Inputs {
		if _, err := os.Stat(in); err != nil {
			return apperrors.Validation("inputs", fmt.Sprintf("input %s: %v", in, err))
		}
	}
	if r.MaxErrorRate >= 1 {
		return apperrors.Validation("maxErrorRate", "error rate must be below 1.0")
	}
	if r.Grid.Submit != "" && r.Container.Image != "" {
		return apperrors.Validation("grid", "grid and container backends are mutually exclusive")
	}
	if r.Notify.URL != "" {
		if err := validateURL(r.Notify.URL); err != nil {
			return apperrors.Validation("notify.url", fmt.Sprintf("invalid callback URL: %v", err))
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

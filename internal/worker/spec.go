// Package worker runs the consensus step for one partition. The driver
// dispatches the partition-worker binary through a backend; on a grid the
// worker runs on whatever node the scheduler picked, so everything it
// needs to know travels through a spec file in the shared work directory.
package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"corrector/internal/apperrors"
	"corrector/internal/config"
)

// SpecFile is the worker spec filename inside the work directory.
const SpecFile = "worker.yaml"

// StageName is the arrayed stage the worker writes markers for.
const StageName = "consensus"

// Spec carries the per-run parameters a partition worker needs.
type Spec struct {
	Tools config.Tools `yaml:"tools"`
}

// WriteSpec writes the worker spec into the work directory. Written via a
// temp file and rename so a worker never reads a torn spec.
func WriteSpec(dir string, spec *Spec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return apperrors.Internal("worker.writeSpec", err)
	}

	path := filepath.Join(dir, SpecFile)
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.Internal("worker.writeSpec", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.Internal("worker.writeSpec", err)
	}
	return nil
}

// LoadSpec reads the worker spec from the work directory.
func LoadSpec(dir string) (*Spec, error) {
	data, err := os.ReadFile(filepath.Join(dir, SpecFile))
	if err != nil {
		return nil, apperrors.Validation("workerSpec", fmt.Sprintf("cannot read %s: %v", SpecFile, err))
	}
	spec := &Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, apperrors.Validation("workerSpec", fmt.Sprintf("cannot parse %s: %v", SpecFile, err))
	}
	return spec, nil
}

// LayoutFile returns the layout filename for one partition, relative to
// the work directory. The layout stage produces these; the worker and the
// merge step address them by the same names.
func LayoutFile(partition int) string {
	return fmt.Sprintf("layout.%d", partition)
}

// BankDir returns the partition store directory name for one partition.
func BankDir(partition int) string {
	return fmt.Sprintf("bank.%d", partition)
}

// FastaFile returns the corrected sequence filename for one partition.
func FastaFile(partition int) string {
	return fmt.Sprintf("corrected.%d.fasta", partition)
}

// QualFile returns the corrected quality filename for one partition.
func QualFile(partition int) string {
	return fmt.Sprintf("corrected.%d.qual", partition)
}

package stage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Markers are the single externally visible synchronization device between
// repeated runs of the pipeline and between partition workers. A marker's
// presence is the sole source of truth for "this work is complete"; markers
// are never deleted automatically - removing one is the documented manual
// retry mechanism.

// MarkerPath returns the completion marker path for a stage.
func MarkerPath(dir, name string) string {
	return filepath.Join(dir, name+".success")
}

// TaskMarkerPath returns the completion marker path for one partition of an
// arrayed stage.
func TaskMarkerPath(dir, name string, task int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.success", name, task))
}

// MarkerExists reports whether a marker is present.
func MarkerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteMarker creates a marker atomically: the file is written next to its
// final path and renamed into place, so an existence check never observes
// a half-written marker after a crash.
func WriteMarker(path string) error {
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, nil, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

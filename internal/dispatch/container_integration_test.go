//go:build integration

package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const testImage = "alpine:3.20"

func TestContainerDispatchArrayed(t *testing.T) {
	ctx := context.Background()

	backend, err := NewContainer(testImage, 2)
	if err != nil {
		t.Fatalf("Failed to create container backend: %v", err)
	}
	defer backend.Close()

	if err := backend.Ready(ctx); err != nil {
		t.Skipf("Docker daemon not reachable: %v", err)
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "wrapper.sh")
	body := "#!/bin/sh\ntouch \"$(dirname \"$0\")/task.$1\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("Failed to write wrapper: %v", err)
	}

	job := Job{Name: "consensus", Script: script, Dir: dir, Tasks: 3}
	if err := backend.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("task.%d", i))); err != nil {
			t.Errorf("Expected task %d marker: %v", i, err)
		}
	}
}

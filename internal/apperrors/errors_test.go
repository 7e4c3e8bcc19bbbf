package apperrors

import (
	"errors"
	"strings"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("partitions", "partitions must be positive")

	if !errors.Is(err, ErrValidation) {
		t.Error("Expected errors.Is(err, ErrValidation) to be true")
	}
	if errors.Is(err, ErrToolFailure) {
		t.Error("Expected errors.Is(err, ErrToolFailure) to be false")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("Expected errors.As to succeed")
	}
	if appErr.Field != "partitions" {
		t.Errorf("Expected field partitions, got %s", appErr.Field)
	}
	if err.Error() != "partitions must be positive" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestToolFailure(t *testing.T) {
	t.Parallel()
	cause := errors.New("exit status 1")
	err := ToolFailure("buildstore", "buildstore -o work/store", cause)

	if !errors.Is(err, ErrToolFailure) {
		t.Error("Expected errors.Is(err, ErrToolFailure) to be true")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("Expected errors.As to succeed")
	}
	if appErr.Stage != "buildstore" {
		t.Errorf("Expected stage buildstore, got %s", appErr.Stage)
	}
	if appErr.Cause != cause {
		t.Error("Expected cause to be preserved")
	}
}

func TestIncompleteNamesRetryArtifact(t *testing.T) {
	t.Parallel()
	err := Incomplete("consensus", "work/consensus.sh", "2 of 8 partition markers missing")

	if !errors.Is(err, ErrIncomplete) {
		t.Error("Expected errors.Is(err, ErrIncomplete) to be true")
	}
	msg := err.Error()
	if !strings.Contains(msg, "work/consensus.sh") {
		t.Errorf("Expected message to name the retry artifact, got %q", msg)
	}
	if !strings.Contains(msg, "remove") {
		t.Errorf("Expected message to instruct removal, got %q", msg)
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := errors.New("no such file")
	err := Internal("stage.writeWrapper", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("Expected errors.Is(err, ErrInternal) to be true")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("Expected errors.As to succeed")
	}
	if appErr.Op != "stage.writeWrapper" {
		t.Errorf("Expected op stage.writeWrapper, got %s", appErr.Op)
	}
	if !strings.Contains(err.Error(), "no such file") {
		t.Errorf("Expected message to include cause, got %q", err.Error())
	}
}

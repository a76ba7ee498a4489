// Package procrunner is the Subprocess Runner (spec.md §4.3): launch a
// named program with an argv vector, pipe stdout/stderr, enforce a
// per-process timeout, and translate exit status into an error.
//
// Grounded on original_source/ghostscript.rs's run_command (timeout,
// kill-on-drop, exit-status-to-stderr/stdout translation) and
// original_source/mupdf.rs's identical sibling, generalized into one
// function both PDF toolchain engines share; timeout/kill semantics
// follow internal/extractor/poppler.go's context.WithTimeout pattern
// from the teacher.
package procrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotFound is returned when the named program could not be found
// on PATH, distinguished from any other spawn or execution failure so
// callers can report "binary missing" separately — mirrored from
// ghostscript.rs/mupdf.rs's "<program>-not-found" sentinel errors.
var ErrNotFound = errors.New("program not found")

// Result holds the captured output of a successful run.
type Result struct {
	Stdout string
	Stderr string
}

// Run executes program with args, enforcing timeout. On success it
// returns the captured stdout/stderr. On failure: timeout produces a
// message naming the program and the limit; a missing binary produces
// ErrNotFound; a non-zero exit produces stderr (trimmed) if non-empty,
// else stdout (trimmed), else "<program> failed with status <n>".
func Run(ctx context.Context, timeout time.Duration, program string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Cancel = func() error { return cmd.Process.Kill() }

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Result{}, fmt.Errorf("%s timed out after %s", program, timeout)
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return Result{}, fmt.Errorf("%s: %w", program, ErrNotFound)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		message := strings.TrimSpace(stderr.String())
		fallback := strings.TrimSpace(stdout.String())
		switch {
		case message != "":
			return Result{}, fmt.Errorf("%s", message)
		case fallback != "":
			return Result{}, fmt.Errorf("%s", fallback)
		default:
			return Result{}, fmt.Errorf("%s failed with status %d", program, exitErr.ExitCode())
		}
	}

	return Result{}, fmt.Errorf("failed to execute %s: %w", program, err)
}

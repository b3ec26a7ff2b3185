package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// stderrPrefixLimit caps how much encoder stderr is carried in errors.
const stderrPrefixLimit = 400

// CommandError describes a failed encoder invocation. It carries the exit
// code and a bounded prefix of stderr so upstream errors stay readable.
type CommandError struct {
	Name     string
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.ExitCode, e.Stderr)
}

// Run executes a binary and waits for it to finish, discarding stdout.
// Failures return a *CommandError unless the context ended first.
func Run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return commandError(ctx, bin, err, stderr.Bytes())
	}
	return nil
}

// Output executes a binary and returns its stdout.
// Failures return a *CommandError unless the context ended first.
func Output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, commandError(ctx, bin, err, stderr.Bytes())
	}
	return stdout.Bytes(), nil
}

// commandError converts an exec failure into a *CommandError, preferring the
// context error when the deadline or cancellation caused the exit.
func commandError(ctx context.Context, bin string, err error, stderr []byte) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", filepath.Base(bin), ctx.Err())
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	prefix := stderrPrefix(stderr)
	if prefix == "" && exitCode == -1 {
		prefix = err.Error()
	}
	return &CommandError{
		Name:     filepath.Base(bin),
		ExitCode: exitCode,
		Stderr:   prefix,
	}
}

// stderrPrefix trims and bounds captured stderr for error messages.
func stderrPrefix(stderr []byte) string {
	text := strings.TrimSpace(string(stderr))
	runes := []rune(text)
	if len(runes) > stderrPrefixLimit {
		return string(runes[:stderrPrefixLimit])
	}
	return text
}

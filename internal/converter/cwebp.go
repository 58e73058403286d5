package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"webp-gateway/internal/logging"
)

// DefaultCWebPPath is the binary name looked up on PATH.
const DefaultCWebPPath = "cwebp"

// waitDelay bounds how long Convert waits for output pipes after the process
// is killed, in case cwebp left children holding them open.
const waitDelay = time.Second

// CWebP converts images by running the cwebp command line encoder.
type CWebP struct {
	path string
	args []string

	processes map[string]*exec.Cmd
	processMu sync.Mutex
}

// NewCWebP creates a converter running the binary at path with extra
// arguments placed before the input file. An empty path means cwebp on PATH.
func NewCWebP(path string, args []string) *CWebP {
	if path == "" {
		path = DefaultCWebPPath
	}
	return &CWebP{
		path:      path,
		args:      append([]string(nil), args...),
		processes: make(map[string]*exec.Cmd),
	}
}

// Name implements Converter.
func (c *CWebP) Name() string {
	return "cwebp"
}

// Fingerprint implements Converter. Only the arguments affect output.
func (c *CWebP) Fingerprint() string {
	return "cwebp\x00" + strings.Join(c.args, "\x00")
}

// Args returns a copy of the extra arguments.
func (c *CWebP) Args() []string {
	return append([]string(nil), c.args...)
}

// Convert runs cwebp [args...] src -o dst. stdout is discarded and stderr is
// included in the returned error.
func (c *CWebP) Convert(ctx context.Context, src, dst string) error {
	args := make([]string, 0, len(c.args)+3)
	args = append(args, c.args...)
	args = append(args, src, "-o", dst)

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	c.processMu.Lock()
	c.processes[dst] = cmd
	c.processMu.Unlock()

	defer func() {
		c.processMu.Lock()
		delete(c.processes, dst)
		c.processMu.Unlock()
	}()

	logging.Debug("Running %s %s", c.path, strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrConversionFailed, src, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s: exit status %d: %s", ErrConversionFailed, src, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("%w: %s: %w", ErrConversionFailed, src, err)
	}

	return nil
}

// Ready reports whether the cwebp binary can be executed.
func (c *CWebP) Ready(ctx context.Context) error {
	_, _, err := CheckCWebP(ctx, c.path)
	return err
}

// Running returns the number of cwebp processes currently executing.
func (c *CWebP) Running() int {
	c.processMu.Lock()
	defer c.processMu.Unlock()
	return len(c.processes)
}

// Cleanup kills all running cwebp processes.
func (c *CWebP) Cleanup() {
	c.processMu.Lock()
	defer c.processMu.Unlock()

	for dst, cmd := range c.processes {
		if cmd.Process != nil {
			logging.Info("Killing cwebp process for: %s", dst)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill cwebp process for %s: %v", dst, err)
			}
		}
	}
}

// CheckCWebP resolves the cwebp binary and returns its absolute path and
// reported version.
func CheckCWebP(ctx context.Context, path string) (resolved, version string, err error) {
	if path == "" {
		path = DefaultCWebPPath
	}

	resolved, err = exec.LookPath(path)
	if err != nil {
		return "", "", fmt.Errorf("cwebp not found: %w", err)
	}

	out, err := exec.CommandContext(ctx, resolved, "-version").Output()
	if err != nil {
		return resolved, "", fmt.Errorf("cwebp -version: %w", err)
	}

	return resolved, strings.TrimSpace(string(out)), nil
}

package vipsconv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"webp-gateway/internal/converter"
	"webp-gateway/internal/logging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// ErrNotStarted is returned by Convert before Startup has run.
var ErrNotStarted = errors.New("libvips not started")

// logHandlerFor maps our log level to a vips threshold and a handler that
// forwards vips messages into our logger.
func logHandlerFor(level logging.LogLevel) (vips.LogLevel, func(string, vips.LogLevel, string)) {
	forward := func(domain string, l vips.LogLevel, msg string) {
		switch l {
		case vips.LogLevelError, vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}

	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo, forward
	case logging.LevelInfo:
		return vips.LogLevelWarning, forward
	case logging.LevelWarn:
		return vips.LogLevelError, forward
	case logging.LevelError:
		return vips.LogLevelCritical, forward
	default:
		return vips.LogLevelWarning, forward
	}
}

// Startup initializes libvips. It is safe to call more than once.
func Startup(concurrency int) {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return
	}

	// Logging must be configured before vips.Startup.
	level, handler := logHandlerFor(logging.GetLevel())
	vips.LoggingSettings(handler, level)

	if concurrency < 1 {
		concurrency = 1
	}
	vips.Startup(&vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
}

// Shutdown releases libvips resources.
func Shutdown() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// Available reports whether libvips is started.
func Available() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// Options control WebP encoding.
type Options struct {
	Quality  int
	Lossless bool
	Strip    bool
}

// DefaultOptions matches cwebp's defaults.
func DefaultOptions() Options {
	return Options{Quality: 75, Strip: true}
}

// Converter encodes WebP with libvips.
type Converter struct {
	opts Options
}

var _ converter.Converter = (*Converter)(nil)

// New creates a libvips converter. Quality outside 1..100 falls back to 75.
func New(opts Options) *Converter {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultOptions().Quality
	}
	return &Converter{opts: opts}
}

// Name implements converter.Converter.
func (c *Converter) Name() string {
	return "vips"
}

// Fingerprint implements converter.Converter.
func (c *Converter) Fingerprint() string {
	return fmt.Sprintf("vips\x00q=%d\x00lossless=%t\x00strip=%t", c.opts.Quality, c.opts.Lossless, c.opts.Strip)
}

// Ready reports whether libvips is started.
func (c *Converter) Ready(context.Context) error {
	if !Available() {
		return ErrNotStarted
	}
	return nil
}

// Convert loads src with libvips and writes it to dst as WebP. libvips calls
// are not interruptible, so ctx is only checked between steps.
func (c *Converter) Convert(ctx context.Context, src, dst string) error {
	if !Available() {
		return fmt.Errorf("%w: %s: %w", converter.ErrConversionFailed, src, ErrNotStarted)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", converter.ErrConversionFailed, src, err)
	}

	ref, err := vips.LoadImageFromFile(src, vips.NewImportParams())
	if err != nil {
		return fmt.Errorf("%w: %s: load: %v", converter.ErrConversionFailed, src, err)
	}
	defer ref.Close()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", converter.ErrConversionFailed, src, err)
	}

	params := vips.NewWebpExportParams()
	params.Quality = c.opts.Quality
	params.Lossless = c.opts.Lossless
	params.StripMetadata = c.opts.Strip

	buf, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("%w: %s: export: %v", converter.ErrConversionFailed, src, err)
	}

	if err := os.WriteFile(dst, buf, 0o644); err != nil {
		return fmt.Errorf("%w: %s: write: %v", converter.ErrConversionFailed, src, err)
	}

	logging.Debug("vips converted %s (%dx%d, %d bytes)", src, ref.Width(), ref.Height(), len(buf))
	return nil
}

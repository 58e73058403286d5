package webp

import (
	"os"
	"path/filepath"
	"time"

	"webp-gateway/internal/cache"
	"webp-gateway/internal/converter"
	"webp-gateway/internal/mediatypes"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultServerName = "webp-gateway"
	DefaultTimeout    = 60 * time.Second
)

// Config controls the middleware. It is copied by New and never changed
// afterwards.
type Config struct {
	// MimeTypes lists the source media types that are converted.
	MimeTypes []string

	// Delegate passes the request on with the artifact's virtual path instead
	// of serving the artifact directly.
	Delegate bool

	// CachePath is the directory artifacts are stored in.
	CachePath string

	// ConverterArgs are passed to cwebp before the input file.
	ConverterArgs []string

	// CWebPPath locates the cwebp binary.
	CWebPPath string

	// Converter overrides the cwebp converter built from CWebPPath and
	// ConverterArgs.
	Converter converter.Converter

	// Index, when set, enables fingerprint based freshness.
	Index cache.Index

	// ServerName is sent in the Server header of served artifacts.
	ServerName string

	// Timeout bounds each conversion. Negative disables the limit.
	Timeout time.Duration

	// Workers bounds concurrent conversions. Zero means one per CPU.
	Workers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MimeTypes:  append([]string(nil), mediatypes.DefaultConvertible...),
		CachePath:  defaultCachePath(),
		CWebPPath:  converter.DefaultCWebPPath,
		ServerName: DefaultServerName,
		Timeout:    DefaultTimeout,
	}
}

func defaultCachePath() string {
	wd, err := os.Getwd()
	if err != nil {
		return "cache"
	}
	return filepath.Join(wd, "cache")
}

// withDefaults fills zero-valued fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.MimeTypes) == 0 {
		c.MimeTypes = d.MimeTypes
	} else {
		c.MimeTypes = append([]string(nil), c.MimeTypes...)
	}
	if c.CachePath == "" {
		c.CachePath = d.CachePath
	}
	if c.CWebPPath == "" {
		c.CWebPPath = d.CWebPPath
	}
	if c.ServerName == "" {
		c.ServerName = d.ServerName
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	c.ConverterArgs = append([]string(nil), c.ConverterArgs...)
	return c
}

package webp

import (
	"net/http"
	"path"
	"path/filepath"

	"webp-gateway/internal/cache"
	"webp-gateway/internal/converter"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/mediatypes"
	"webp-gateway/internal/metrics"
	"webp-gateway/internal/workers"
)

// CacheHeader reports how a converted response was produced.
const CacheHeader = "X-Webp-Cache"

// Middleware converts eligible images to WebP for clients that accept it.
type Middleware struct {
	publicPath string
	cfg        Config
	types      mediatypes.Set
	store      *cache.Store
	conv       converter.Converter
	pool       *workers.Pool
}

// New creates the middleware for files below publicPath. A relative
// publicPath is resolved against the working directory; it is not required
// to exist.
func New(publicPath string, cfg Config) *Middleware {
	if abs, err := filepath.Abs(publicPath); err == nil {
		publicPath = abs
	}
	cfg = cfg.withDefaults()

	conv := cfg.Converter
	if conv == nil {
		conv = converter.NewCWebP(cfg.CWebPPath, cfg.ConverterArgs)
		cfg.Converter = conv
	}

	size := cfg.Workers
	if size <= 0 {
		size = workers.ForCPU(0)
	}
	timeout := cfg.Timeout
	if timeout < 0 {
		timeout = 0
	}

	return &Middleware{
		publicPath: publicPath,
		cfg:        cfg,
		types:      mediatypes.NewSet(cfg.MimeTypes),
		store:      cache.New(cfg.CachePath, mediatypes.WebPSuffix, cfg.Index),
		conv:       conv,
		pool:       workers.NewPool(size, timeout),
	}
}

// Wrap returns the middleware as a handler decorator.
func Wrap(publicPath string, cfg Config) func(http.Handler) http.Handler {
	return New(publicPath, cfg).Handler
}

// PublicPath returns the absolute source directory.
func (m *Middleware) PublicPath() string { return m.publicPath }

// Config returns the effective configuration.
func (m *Middleware) Config() Config { return m.cfg }

// Store returns the artifact store.
func (m *Middleware) Store() *cache.Store { return m.store }

// Converter returns the converter in use.
func (m *Middleware) Converter() converter.Converter { return m.conv }

// Pool returns the conversion pool.
func (m *Middleware) Pool() *workers.Pool { return m.pool }

// Eligible reports whether urlPath has a convertible media type.
func (m *Middleware) Eligible(urlPath string) bool {
	return m.types.Contains(mediatypes.ForPath(path.Clean("/" + urlPath)))
}

// Handler wraps next with WebP conversion.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			metrics.WebPRequestsTotal.WithLabelValues(metrics.OutcomePassthrough).Inc()
			next.ServeHTTP(w, r)
			return
		}

		eligible := m.Eligible(r.URL.Path)
		if eligible {
			w.Header().Add("Vary", "Accept")
		}

		if !mediatypes.Accepts(r.Header.Get("Accept"), mediatypes.WebP) {
			metrics.WebPRequestsTotal.WithLabelValues(metrics.OutcomePassthrough).Inc()
			next.ServeHTTP(w, r)
			return
		}
		if !eligible {
			metrics.WebPRequestsTotal.WithLabelValues(metrics.OutcomeNotEligible).Inc()
			next.ServeHTTP(w, r)
			return
		}

		art, err := m.Ensure(r.Context(), r.URL.Path)
		if err != nil {
			if r.Context().Err() != nil {
				logging.Debug("Client gone while waiting for %s", r.URL.Path)
				return
			}
			metrics.WebPRequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			logging.Error("WebP conversion failed for %s: %v", r.URL.Path, err)
			internalError(w)
			return
		}

		metrics.WebPRequestsTotal.WithLabelValues(art.Outcome).Inc()
		w.Header().Set(CacheHeader, art.Outcome)

		if !m.cfg.Delegate {
			m.serve(w, r, art)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = art.URLPath
		r2.URL.RawPath = ""
		next.ServeHTTP(w, r2)
	})
}

// Cleanup kills running converter processes.
func (m *Middleware) Cleanup() {
	if c, ok := m.conv.(interface{ Cleanup() }); ok {
		c.Cleanup()
	}
}

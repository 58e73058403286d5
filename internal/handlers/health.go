package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"webp-gateway/internal/converter"
	"webp-gateway/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// converterCheckTTL limits how often readiness runs the converter check,
// which may spawn a process.
const converterCheckTTL = 30 * time.Second

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Error   string `json:"error,omitempty"`

	// Conversion info
	Converter           string `json:"converter"`
	Workers             int    `json:"workers"`
	ConversionsInFlight int    `json:"conversionsInFlight"`

	// Cache summary, from the periodically refreshed stats
	Artifacts  int64 `json:"artifacts"`
	CacheBytes int64 `json:"cacheBytes"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	pool := h.mw.Pool()

	response := HealthResponse{
		Status:              statusHealthy,
		Ready:               true,
		Version:             startup.Version,
		Uptime:              time.Since(h.startTime).Round(time.Second).String(),
		Converter:           h.mw.Converter().Name(),
		Workers:             pool.Size(),
		ConversionsInFlight: pool.InFlight(),
		GoVersion:           runtime.Version(),
		NumCPU:              runtime.NumCPU(),
		NumGoroutine:        runtime.NumGoroutine(),
	}

	if stats, err := h.mw.Store().Stats(r.Context()); err == nil {
		response.Artifacts = stats.Artifacts
		response.CacheBytes = stats.SizeBytes
	}

	statusCode := http.StatusOK
	if err := h.checkReady(r.Context()); err != nil {
		response.Status = statusDegraded
		response.Ready = false
		response.Error = err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONStatus(w, statusCode, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the cache directory is writable and
// the converter can run.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.checkReady(r.Context()); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func (h *Handlers) checkReady(ctx context.Context) error {
	if err := startup.CheckWritable(h.cacheDir); err != nil {
		return fmt.Errorf("cache directory not writable: %w", err)
	}
	if err := h.converterReady(ctx); err != nil {
		return fmt.Errorf("converter unavailable: %w", err)
	}
	return nil
}

// converterReady caches the converter check for converterCheckTTL.
func (h *Handlers) converterReady(ctx context.Context) error {
	checker, ok := h.mw.Converter().(converter.Checker)
	if !ok {
		return nil
	}

	h.checkMu.Lock()
	defer h.checkMu.Unlock()

	if !h.checkedAt.IsZero() && time.Since(h.checkedAt) < converterCheckTTL {
		return h.converterErr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h.converterErr = checker.Ready(ctx)
	h.checkedAt = time.Now()
	return h.converterErr
}

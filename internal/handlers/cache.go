package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"webp-gateway/internal/cache"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/webp"
)

// CacheStatsResponse reports cache contents and conversion load.
type CacheStatsResponse struct {
	cache.Stats
	Converter           string `json:"converter"`
	Workers             int    `json:"workers"`
	ConversionsInFlight int    `json:"conversionsInFlight"`
}

// ConvertResponse describes the artifact produced by ConvertImage.
type ConvertResponse struct {
	Path     string `json:"path"`
	Artifact string `json:"artifact"`
	Outcome  string `json:"outcome"`
}

// GetCacheStats returns artifact counts and sizes.
func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mw.Store().Stats(r.Context())
	if err != nil {
		logging.Error("Failed to read cache stats: %v", err)
		writeJSONError(w, "Failed to read cache stats", http.StatusInternalServerError)
		return
	}

	pool := h.mw.Pool()
	w.Header().Set("Cache-Control", "no-cache")
	writeJSONStatus(w, http.StatusOK, CacheStatsResponse{
		Stats:               stats,
		Converter:           h.mw.Converter().Name(),
		Workers:             pool.Size(),
		ConversionsInFlight: pool.InFlight(),
	})
}

// ClearCache removes every artifact.
func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	freed, err := h.mw.Store().Clear(r.Context())
	if err != nil {
		logging.Error("Failed to clear cache: %v", err)
		writeJSONError(w, "Failed to clear cache", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusOK, map[string]interface{}{
		"status":     "cleared",
		"removed":    freed.Artifacts,
		"freedBytes": freed.SizeBytes,
	})
}

// PruneCache removes orphaned and stale artifacts. ?verify=true also removes
// artifacts that do not decode as WebP.
func (h *Handlers) PruneCache(w http.ResponseWriter, r *http.Request) {
	verify := false
	if v := r.URL.Query().Get("verify"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, "Invalid verify parameter", http.StatusBadRequest)
			return
		}
		verify = parsed
	}

	result, err := h.mw.Store().Prune(r.Context(), cache.PruneOptions{
		SourceRoot:           h.publicDir,
		ConverterFingerprint: h.mw.Converter().Fingerprint(),
		Verify:               verify,
	})
	if err != nil {
		logging.Error("Failed to prune cache: %v", err)
		writeJSONError(w, "Failed to prune cache", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusOK, result)
}

// ConvertImage converts ?path= ahead of the first request for it.
func (h *Handlers) ConvertImage(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Query().Get("path")
	if urlPath == "" {
		writeJSONError(w, "Path is required", http.StatusBadRequest)
		return
	}

	art, err := h.mw.Ensure(r.Context(), urlPath)
	switch {
	case err == nil:
	case errors.Is(err, webp.ErrNotEligible), errors.Is(err, cache.ErrOutsideRoot):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, fs.ErrNotExist):
		writeJSONError(w, "Source not found", http.StatusNotFound)
		return
	default:
		logging.Error("Conversion of %s failed: %v", urlPath, err)
		writeJSONError(w, "Conversion failed", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusOK, ConvertResponse{
		Path:     urlPath,
		Artifact: art.URLPath,
		Outcome:  art.Outcome,
	})
}

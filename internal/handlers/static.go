package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"webp-gateway/internal/filesystem"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/mediatypes"
)

const indexFile = "index.html"

// ServeStatic serves files below the public directory. A path carrying the
// artifact suffix is served from the cache directory when that artifact
// exists, which is how delegated conversions reach the client.
func (h *Handlers) ServeStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	store := h.mw.Store()

	if suffix := store.Suffix(); strings.HasSuffix(clean, suffix) {
		if dst, err := store.Path(strings.TrimSuffix(clean, suffix)); err == nil {
			if h.serveFile(w, r, dst) {
				return
			}
		}
	}

	if !h.serveFile(w, r, filepath.Join(h.publicDir, filepath.FromSlash(clean))) {
		http.NotFound(w, r)
	}
}

// serveFile writes the file at p, or the index file of a directory at p. It
// returns false without writing when there is nothing to serve.
func (h *Handlers) serveFile(w http.ResponseWriter, r *http.Request, p string) bool {
	retry := filesystem.DefaultRetryConfig()

	info, err := filesystem.StatWithRetry(p, retry)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Failed to stat %s: %v", p, err)
		}
		return false
	}
	if info.IsDir() {
		p = filepath.Join(p, indexFile)
		if info, err = filesystem.StatWithRetry(p, retry); err != nil || info.IsDir() {
			return false
		}
	}

	f, err := filesystem.OpenWithRetry(p, retry)
	if err != nil {
		logging.Warn("Failed to open %s: %v", p, err)
		return false
	}
	defer func() { _ = f.Close() }()

	if ct := mediatypes.ForPath(p); strings.HasPrefix(ct, "image/") {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

package webp

import (
	"errors"
	"io/fs"
	"net/http"

	"webp-gateway/internal/filesystem"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/mediatypes"
)

// Status is a response status produced by the middleware itself.
type Status int

// Statuses the middleware answers with.
const (
	StatusOK            Status = http.StatusOK
	StatusNotFound      Status = http.StatusNotFound
	StatusInternalError Status = http.StatusInternalServerError
)

// statusFor maps a file serving error to a response status.
func statusFor(err error) Status {
	if errors.Is(err, fs.ErrNotExist) {
		return StatusNotFound
	}
	return StatusInternalError
}

// response collects the status and headers of a middleware response.
type response struct {
	status Status
	header http.Header
}

func newResponse(status Status) *response {
	return &response{status: status, header: http.Header{}}
}

func (r *response) set(key, value string) *response {
	r.header.Set(key, value)
	return r
}

// apply copies the headers onto w without writing the status.
func (r *response) apply(w http.ResponseWriter) {
	for k, v := range r.header {
		w.Header()[k] = v
	}
}

// writeHeader sends the status and headers with no body.
func (r *response) writeHeader(w http.ResponseWriter) {
	r.apply(w)
	w.WriteHeader(int(r.status))
}

// serve streams an artifact. Range and conditional requests are handled by
// http.ServeContent, which also sets Content-Length.
func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, art Artifact) {
	f, err := filesystem.OpenWithRetry(art.Path, filesystem.DefaultRetryConfig())
	if err != nil {
		m.fail(w, art, err)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close artifact %s: %v", art.Path, err)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		m.fail(w, art, err)
		return
	}

	newResponse(StatusOK).
		set("Content-Type", mediatypes.WebP).
		set("Accept-Ranges", "bytes").
		set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat)).
		set("Server", m.cfg.ServerName).
		apply(w)

	http.ServeContent(w, r, "", info.ModTime(), f)
}

// fail answers with headers only: 404 for missing artifacts, 500 otherwise.
func (m *Middleware) fail(w http.ResponseWriter, art Artifact, err error) {
	status := statusFor(err)
	if status == StatusNotFound {
		logging.Warn("Artifact disappeared before serving: %s", art.Path)
	} else {
		logging.Error("Failed to serve artifact %s: %v", art.Path, err)
	}
	w.Header().Del(CacheHeader)
	newResponse(status).set("Server", m.cfg.ServerName).writeHeader(w)
}

// internalError is the response for failed conversions.
func internalError(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

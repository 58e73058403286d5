package handlers

import (
	"sync"
	"time"

	"webp-gateway/internal/webp"
)

// Handlers serves the non-image routes and the static fallback.
type Handlers struct {
	mw        *webp.Middleware
	publicDir string
	cacheDir  string
	startTime time.Time

	checkMu      sync.Mutex
	checkedAt    time.Time
	converterErr error
}

// New creates handlers bound to mw's public and cache directories.
func New(mw *webp.Middleware) *Handlers {
	return &Handlers{
		mw:        mw,
		publicDir: mw.PublicPath(),
		cacheDir:  mw.Store().Root(),
		startTime: time.Now(),
	}
}

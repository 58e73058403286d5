package main

import (
	"context"
	"fmt"
	"time"

	"webp-gateway/internal/converter"
	"webp-gateway/internal/converter/vipsconv"
	"webp-gateway/internal/database"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/startup"
	"webp-gateway/internal/webp"
)

// gateway owns the middleware and the resources behind it.
type gateway struct {
	mw   *webp.Middleware
	db   *database.Database
	vips bool

	indexOpened  time.Duration
	indexRecords int64
	indexChanged bool
}

// openGateway builds the converter, opens the index when enabled and creates
// the middleware.
func openGateway(ctx context.Context, cfg *startup.Config) (*gateway, error) {
	g := &gateway{}

	var conv converter.Converter
	if cfg.WebP.Converter == "vips" {
		conv = vipsconv.New(vipsconv.Options{
			Quality:  cfg.WebP.Quality,
			Lossless: cfg.WebP.Lossless,
			Strip:    true,
		})
	} else {
		conv = converter.NewCWebP(cfg.WebP.CWebPPath, cfg.WebP.ConverterArgs)
	}

	wcfg := webp.Config{
		MimeTypes:     cfg.WebP.MimeTypes,
		Delegate:      !cfg.WebP.ServeImages,
		CachePath:     cfg.WebP.CachePath,
		ConverterArgs: cfg.WebP.ConverterArgs,
		CWebPPath:     cfg.WebP.CWebPPath,
		Converter:     conv,
		ServerName:    cfg.WebP.ServerName,
		Timeout:       cfg.WebP.Timeout,
		Workers:       cfg.WebP.Workers,
	}

	if cfg.Index.Enabled {
		start := time.Now()
		db, err := database.New(ctx, cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact index: %w", err)
		}
		g.db = db
		g.indexOpened = time.Since(start)

		if g.indexChanged, err = db.SwapConverterFingerprint(ctx, conv.Fingerprint()); err != nil {
			logging.Warn("Failed to record converter fingerprint: %v", err)
		}
		if g.indexRecords, err = db.Count(ctx); err != nil {
			logging.Warn("Failed to count index records: %v", err)
		}
		wcfg.Index = db
	}

	g.mw = webp.New(cfg.PublicDir, wcfg)

	if cfg.WebP.Converter == "vips" {
		vipsconv.Startup(g.mw.Pool().Size())
		g.vips = true
	}

	return g, nil
}

// Close kills running conversions and releases the index and libvips.
func (g *gateway) Close() {
	g.mw.Cleanup()
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			logging.Warn("Failed to close artifact index: %v", err)
		}
	}
	if g.vips {
		vipsconv.Shutdown()
	}
}

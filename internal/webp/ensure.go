package webp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"webp-gateway/internal/cache"
	"webp-gateway/internal/converter"
	"webp-gateway/internal/filesystem"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/mediatypes"
	"webp-gateway/internal/metrics"
)

// ErrNotEligible is returned by Ensure for paths that are not converted.
var ErrNotEligible = errors.New("media type not eligible for conversion")

// Artifact is a fresh converted file.
type Artifact struct {
	// URLPath is the virtual path of the artifact, the request path plus ".webp".
	URLPath string
	Path    string
	Source  string
	// Outcome is metrics.OutcomeHit, OutcomeConverted or OutcomeShared.
	Outcome string
}

// Ensure returns a fresh artifact for urlPath, converting the source if the
// cache has no fresh copy. The conversion continues when ctx ends; only the
// wait is abandoned.
func (m *Middleware) Ensure(ctx context.Context, urlPath string) (Artifact, error) {
	clean := path.Clean("/" + urlPath)
	if !m.types.Contains(mediatypes.ForPath(clean)) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotEligible, clean)
	}

	dst, err := m.store.Path(clean)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		URLPath: clean + m.store.Suffix(),
		Path:    dst,
		Source:  filepath.Join(m.publicPath, filepath.FromSlash(clean)),
	}

	srcInfo, err := m.statSource(art.Source)
	if err != nil {
		return Artifact{}, err
	}

	state, err := m.store.Lookup(ctx, dst, art.Source, srcInfo, m.conv.Fingerprint())
	if err != nil {
		return Artifact{}, fmt.Errorf("cache lookup %s: %w", dst, err)
	}

	if state == cache.Fresh {
		metrics.CacheHits.Inc()
		art.Outcome = metrics.OutcomeHit
		return art, nil
	}

	var recheckHit bool
	shared, err := m.pool.Do(ctx, dst, func(jobCtx context.Context) error {
		hit, err := m.convert(jobCtx, art.Source, dst)
		recheckHit = hit
		return err
	})
	if err != nil {
		recordMiss(state)
		return Artifact{}, err
	}

	if recheckHit && !shared {
		metrics.CacheHits.Inc()
		art.Outcome = metrics.OutcomeHit
		return art, nil
	}

	recordMiss(state)
	art.Outcome = metrics.OutcomeConverted
	if shared {
		metrics.ConversionsShared.Inc()
		art.Outcome = metrics.OutcomeShared
	}
	return art, nil
}

func recordMiss(state cache.State) {
	if state == cache.Stale {
		metrics.CacheStale.Inc()
		return
	}
	metrics.CacheMisses.Inc()
}

// statSource fails with ErrConversionFailed when the source cannot be
// converted at all.
func (m *Middleware) statSource(src string) (os.FileInfo, error) {
	info, err := filesystem.StatWithRetry(src, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", converter.ErrConversionFailed, src, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s: is a directory", converter.ErrConversionFailed, src)
	}
	return info, nil
}

// convert runs inside the pool. It re-checks freshness because another job
// may have finished the artifact while this one was queued, and reports
// whether that re-check found a fresh artifact.
func (m *Middleware) convert(ctx context.Context, src, dst string) (fresh bool, err error) {
	srcInfo, err := m.statSource(src)
	if err != nil {
		return false, err
	}

	fp := m.conv.Fingerprint()
	if state, err := m.store.Lookup(ctx, dst, src, srcInfo, fp); err == nil && state == cache.Fresh {
		return true, nil
	}

	if err := m.store.Prepare(dst); err != nil {
		return false, fmt.Errorf("create cache directory for %s: %w", dst, err)
	}

	name := m.conv.Name()
	tmp := m.store.TempPath(dst)
	start := time.Now()

	err = m.conv.Convert(ctx, src, tmp)
	metrics.ConversionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		m.store.Discard(tmp)
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.ConversionsTotal.WithLabelValues(name, status).Inc()
		return false, err
	}

	info, err := converter.Verify(tmp)
	if err != nil {
		m.store.Discard(tmp)
		metrics.ConversionsTotal.WithLabelValues(name, "invalid_output").Inc()
		if errors.Is(err, converter.ErrInvalidOutput) {
			return false, err
		}
		return false, fmt.Errorf("%w: %s: %w", converter.ErrInvalidOutput, src, err)
	}

	rec := cache.Record{
		Path:          dst,
		Source:        src,
		SourceSize:    srcInfo.Size(),
		SourceModTime: srcInfo.ModTime(),
		Fingerprint:   cache.Fingerprint(src, srcInfo.Size(), srcInfo.ModTime(), fp, m.store.Suffix()),
		Width:         info.Width,
		Height:        info.Height,
	}
	if err := m.store.Commit(ctx, rec, tmp); err != nil {
		m.store.Discard(tmp)
		metrics.ConversionsTotal.WithLabelValues(name, "error").Inc()
		return false, err
	}

	metrics.ConversionsTotal.WithLabelValues(name, "success").Inc()
	logging.Debug("Converted %s -> %s (%dx%d) in %v", src, dst, info.Width, info.Height, time.Since(start))
	return false, nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"webp-gateway/internal/converter"
	"webp-gateway/internal/filesystem"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/metrics"
)

// Prune reasons.
const (
	ReasonOrphaned = "orphaned"
	ReasonStale    = "stale"
	ReasonInvalid  = "invalid"
)

// staleTempAge is how old a temp file must be before prune treats it as
// abandoned rather than in progress.
const staleTempAge = time.Hour

// PruneOptions configures Prune.
type PruneOptions struct {
	// SourceRoot is the public directory artifacts were converted from.
	SourceRoot string
	// ConverterFingerprint is compared against indexed fingerprints.
	ConverterFingerprint string
	// Verify decodes each remaining artifact's WebP header.
	Verify bool
}

// PruneResult counts removed artifacts by reason.
type PruneResult struct {
	Scanned    int64            `json:"scanned"`
	Removed    map[string]int64 `json:"removed"`
	FreedBytes int64            `json:"freedBytes"`
}

// Total returns the number of removed artifacts.
func (r PruneResult) Total() int64 {
	var n int64
	for _, v := range r.Removed {
		n += v
	}
	return n
}

// Prune removes artifacts whose source no longer exists, artifacts that are
// stale, abandoned temp files and, with Verify, artifacts that are not WebP.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) (PruneResult, error) {
	result := PruneResult{Removed: map[string]int64{}}

	sourceRoot, err := filepath.Abs(opts.SourceRoot)
	if err != nil {
		return result, fmt.Errorf("invalid source root: %w", err)
	}

	remove := func(p string, size int64, reason string) {
		if err := s.Remove(ctx, p); err != nil {
			logging.Warn("failed to prune %s: %v", p, err)
			return
		}
		result.Removed[reason]++
		result.FreedBytes += size
		metrics.CachePrunedTotal.WithLabelValues(reason).Inc()
		logging.Debug("Pruned %s artifact %s", reason, p)
	}

	err = s.walk(ctx, func(p string, d fs.DirEntry) error {
		name := d.Name()
		info, err := d.Info()
		if err != nil {
			return nil
		}

		if strings.HasSuffix(name, tempSuffix) {
			if time.Since(info.ModTime()) > staleTempAge {
				s.Discard(p)
				result.FreedBytes += info.Size()
			}
			return nil
		}
		if !s.isArtifact(name) {
			return nil
		}
		result.Scanned++

		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, s.suffix))
		if err != nil {
			return nil
		}
		src := filepath.Join(sourceRoot, rel)

		srcInfo, err := filesystem.StatWithRetry(src, filesystem.DefaultRetryConfig())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				remove(p, info.Size(), ReasonOrphaned)
				return nil
			}
			logging.Warn("Cannot stat source %s: %v", src, err)
			return nil
		}

		state, err := s.Lookup(ctx, p, src, srcInfo, opts.ConverterFingerprint)
		if err != nil {
			logging.Warn("Cannot check artifact %s: %v", p, err)
			return nil
		}
		if state == Stale {
			remove(p, info.Size(), ReasonStale)
			return nil
		}

		if opts.Verify {
			if _, err := converter.Verify(p); err != nil {
				remove(p, info.Size(), ReasonInvalid)
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to prune cache: %w", err)
	}

	removeEmptyDirs(s.root)

	logging.Info("Pruned WebP cache: scanned %d, removed %d, freed %d bytes",
		result.Scanned, result.Total(), result.FreedBytes)
	return result, nil
}

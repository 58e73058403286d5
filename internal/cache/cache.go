package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"webp-gateway/internal/filesystem"
	"webp-gateway/internal/logging"
	"webp-gateway/internal/metrics"
)

// ErrOutsideRoot is returned for paths that resolve outside the cache root.
var ErrOutsideRoot = errors.New("path outside cache root")

const (
	tempSuffix = ".tmp"

	// statsTTL is how long Stats reuses a previous walk.
	statsTTL = 2 * time.Minute
)

// State is the result of a freshness lookup.
type State int

// Lookup states.
const (
	Missing State = iota
	Stale
	Fresh
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// Record describes a committed artifact.
type Record struct {
	Path          string    `json:"path"`
	Source        string    `json:"source"`
	SourceSize    int64     `json:"sourceSize"`
	SourceModTime time.Time `json:"sourceModTime"`
	Fingerprint   string    `json:"fingerprint"`
	Size          int64     `json:"size"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Index persists artifact records. Get returns nil, nil for unknown paths.
type Index interface {
	Get(ctx context.Context, path string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, path string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Stats summarizes the artifacts on disk.
type Stats struct {
	Artifacts int64     `json:"artifacts"`
	SizeBytes int64     `json:"sizeBytes"`
	Indexed   int64     `json:"indexed"`
	Root      string    `json:"root"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store maps URL paths to artifacts under a root directory.
type Store struct {
	root   string
	suffix string
	index  Index

	statsMu sync.Mutex
	stats   *Stats
}

// New creates a store rooted at root. index may be nil.
func New(root, suffix string, index Index) *Store {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Store{
		root:   filepath.Clean(root),
		suffix: suffix,
		index:  index,
	}
}

// Root returns the absolute cache directory.
func (s *Store) Root() string {
	return s.root
}

// Suffix returns the extension appended to artifact names.
func (s *Store) Suffix() string {
	return s.suffix
}

// Index returns the configured index, or nil.
func (s *Store) Index() Index {
	return s.index
}

// Path returns the artifact path for a URL path.
func (s *Store) Path(urlPath string) (string, error) {
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, urlPath)
	}
	p := filepath.Join(s.root, filepath.FromSlash(clean)) + s.suffix
	if !within(s.root, p) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, urlPath)
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Fingerprint identifies one conversion of one version of a source.
func Fingerprint(src string, size int64, modTime time.Time, converterFingerprint, suffix string) string {
	h := xxhash.New()
	var buf [8]byte

	_, _ = h.WriteString(src)
	_, _ = h.Write([]byte{0})
	binary.BigEndian.PutUint64(buf[:], uint64(size))
	_, _ = h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(modTime.UnixNano()))
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(converterFingerprint)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(suffix)

	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return hex.EncodeToString(buf[:])
}

// Lookup reports whether the artifact at dst is fresh for the given source.
func (s *Store) Lookup(ctx context.Context, dst, src string, srcInfo os.FileInfo, converterFingerprint string) (State, error) {
	dstInfo, err := filesystem.StatWithRetry(dst, filesystem.DefaultRetryConfig())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Missing, nil
		}
		return Missing, err
	}

	if s.index != nil {
		rec, err := s.index.Get(ctx, dst)
		if err == nil {
			if rec == nil {
				return Stale, nil
			}
			want := Fingerprint(src, srcInfo.Size(), srcInfo.ModTime(), converterFingerprint, s.suffix)
			if rec.Fingerprint == want {
				return Fresh, nil
			}
			return Stale, nil
		}
		metrics.CacheIndexErrors.WithLabelValues("get").Inc()
		logging.Warn("Artifact index lookup failed for %s, falling back to mtime: %v", dst, err)
	}

	if dstInfo.ModTime().Before(srcInfo.ModTime()) {
		return Stale, nil
	}
	return Fresh, nil
}

// TempPath returns a unique temp file name next to dst.
func (s *Store) TempPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()+tempSuffix)
}

// Prepare creates the directory that will hold dst.
func (s *Store) Prepare(dst string) error {
	if !within(s.root, dst) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, dst)
	}
	return os.MkdirAll(filepath.Dir(dst), 0o755)
}

// Commit stamps tmpPath with the source mtime, renames it to rec.Path and
// records it in the index. Index failures are logged; the artifact stays in
// place.
func (s *Store) Commit(ctx context.Context, rec Record, tmpPath string) error {
	if !within(s.root, rec.Path) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, rec.Path)
	}

	// The artifact carries the source mtime it was converted from, so a source
	// rewritten during conversion compares newer than the artifact.
	if !rec.SourceModTime.IsZero() {
		if err := os.Chtimes(tmpPath, time.Now(), rec.SourceModTime); err != nil {
			return fmt.Errorf("failed to set artifact mtime %s: %w", tmpPath, err)
		}
	}

	if err := os.Rename(tmpPath, rec.Path); err != nil {
		return fmt.Errorf("failed to commit artifact %s: %w", rec.Path, err)
	}

	info, err := os.Stat(rec.Path)
	if err != nil {
		return fmt.Errorf("failed to stat artifact %s: %w", rec.Path, err)
	}
	rec.Size = info.Size()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.invalidateStats()

	if s.index != nil {
		if err := s.index.Put(ctx, rec); err != nil {
			metrics.CacheIndexErrors.WithLabelValues("put").Inc()
			logging.Warn("Failed to index artifact %s: %v", rec.Path, err)
		}
	}

	return nil
}

// Discard removes a temp file left by a failed conversion.
func (s *Store) Discard(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("failed to remove temp file %s: %v", tmpPath, err)
	}
}

// Remove deletes the artifact at p and its index record.
func (s *Store) Remove(ctx context.Context, p string) error {
	if !within(s.root, p) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.invalidateStats()
	if s.index != nil {
		if err := s.index.Delete(ctx, p); err != nil {
			metrics.CacheIndexErrors.WithLabelValues("delete").Inc()
			logging.Warn("Failed to delete index record %s: %v", p, err)
		}
	}
	return nil
}

// isArtifact reports whether a file name is a committed artifact.
func (s *Store) isArtifact(name string) bool {
	return strings.HasSuffix(name, s.suffix) && !strings.HasSuffix(name, tempSuffix)
}

// walk visits every regular file below the root.
func (s *Store) walk(ctx context.Context, fn func(p string, d fs.DirEntry) error) error {
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return fn(p, d)
	})
	return err
}

// Stats returns artifact counts and sizes, reusing a walk younger than two
// minutes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.statsMu.Lock()
	if s.stats != nil && time.Since(s.stats.UpdatedAt) < statsTTL {
		st := *s.stats
		s.statsMu.Unlock()
		return st, nil
	}
	s.statsMu.Unlock()

	st := Stats{Root: s.root}
	err := s.walk(ctx, func(p string, d fs.DirEntry) error {
		if !s.isArtifact(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st.Artifacts++
		st.SizeBytes += info.Size()
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to scan cache: %w", err)
	}

	if s.index != nil {
		if n, err := s.index.Count(ctx); err == nil {
			st.Indexed = n
		} else {
			logging.Warn("Failed to count indexed artifacts: %v", err)
		}
	}
	st.UpdatedAt = time.Now()

	s.statsMu.Lock()
	s.stats = &st
	s.statsMu.Unlock()

	return st, nil
}

// CacheStats implements metrics.StatsProvider.
func (s *Store) CacheStats(ctx context.Context) (metrics.CacheStats, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return metrics.CacheStats{}, err
	}
	return metrics.CacheStats{Artifacts: st.Artifacts, SizeBytes: st.SizeBytes}, nil
}

func (s *Store) invalidateStats() {
	s.statsMu.Lock()
	s.stats = nil
	s.statsMu.Unlock()
}

// Clear removes every artifact and temp file and empties the index. Other
// files in the root, such as the index database, are kept.
func (s *Store) Clear(ctx context.Context) (Stats, error) {
	freed := Stats{Root: s.root}
	err := s.walk(ctx, func(p string, d fs.DirEntry) error {
		name := d.Name()
		if !s.isArtifact(name) && !strings.HasSuffix(name, tempSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if err := os.Remove(p); err != nil {
			logging.Warn("failed to remove file %s: %v", p, err)
			return nil
		}
		if s.isArtifact(name) {
			freed.Artifacts++
		}
		freed.SizeBytes += info.Size()
		return nil
	})
	if err != nil {
		return freed, fmt.Errorf("failed to clear cache: %w", err)
	}

	removeEmptyDirs(s.root)
	s.invalidateStats()

	if s.index != nil {
		if err := s.index.Clear(ctx); err != nil {
			metrics.CacheIndexErrors.WithLabelValues("clear").Inc()
			return freed, fmt.Errorf("failed to clear artifact index: %w", err)
		}
	}

	freed.UpdatedAt = time.Now()
	logging.Info("Cleared WebP cache: removed %d artifacts, freed %d bytes", freed.Artifacts, freed.SizeBytes)
	return freed, nil
}

// removeEmptyDirs deletes empty directories below root, deepest first.
func removeEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		// Fails harmlessly on non-empty directories.
		_ = os.Remove(dirs[i])
	}
}

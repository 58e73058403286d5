package webp

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webp-gateway/internal/cache"
	"webp-gateway/internal/converter"
	"webp-gateway/internal/database"
	"webp-gateway/internal/metrics"
	"webp-gateway/internal/testutil"
)

const acceptWebP = "image/avif,image/webp,image/apng,*/*;q=0.8"

type testEnv struct {
	pub      string
	cacheDir string
	fake     *testutil.FakeCWebP
	cfg      Config
	mw       *Middleware
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	fake := testutil.NewFakeCWebP(t)
	e := &testEnv{
		pub:      t.TempDir(),
		cacheDir: filepath.Join(t.TempDir(), "cache"),
		fake:     fake,
	}
	cfg := DefaultConfig()
	cfg.CachePath = e.cacheDir
	cfg.CWebPPath = fake.Path
	cfg.Timeout = 5 * time.Second
	cfg.Workers = 2
	if mutate != nil {
		mutate(&cfg)
	}
	e.cfg = cfg
	e.mw = New(e.pub, cfg)
	return e
}

// source writes an image below the public dir with an mtime in the past.
func (e *testEnv) source(t *testing.T, urlPath string) string {
	t.Helper()
	p := filepath.Join(e.pub, filepath.FromSlash(urlPath))
	testutil.WriteImage(t, p)
	testutil.Touch(t, p, time.Now().Add(-time.Hour))
	return p
}

// recordingNext records the requests it receives.
type recordingNext struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (n *recordingNext) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	n.requests = append(n.requests, r)
	n.mu.Unlock()
	w.WriteHeader(http.StatusTeapot)
}

func (n *recordingNext) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.requests)
}

func (n *recordingNext) last() *http.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.requests) == 0 {
		return nil
	}
	return n.requests[len(n.requests)-1]
}

func do(h http.Handler, method, target, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPassthrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		accept string
	}{
		{"no accept header", http.MethodGet, "/img/a.png", ""},
		{"accept without webp", http.MethodGet, "/img/a.png", "image/png,*/*"},
		{"ineligible gif", http.MethodGet, "/img/a.gif", acceptWebP},
		{"ineligible text", http.MethodGet, "/notes.txt", acceptWebP},
		{"no extension", http.MethodGet, "/img/a", acceptWebP},
		{"already webp", http.MethodGet, "/img/a.webp", acceptWebP},
		{"post request", http.MethodPost, "/img/a.png", acceptWebP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			e.source(t, "/img/a.png")
			next := &recordingNext{}

			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			e.mw.Handler(next).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusTeapot, rec.Code)
			require.Equal(t, 1, next.count())
			assert.Same(t, req, next.last(), "request must reach next unmodified")
			assert.Equal(t, tt.target, next.last().URL.Path)
			assert.Empty(t, rec.Header().Get(CacheHeader))
			assert.Equal(t, 0, e.fake.Count())
			assert.NoDirExists(t, e.cacheDir)
		})
	}
}

func TestPassthroughSetsVaryForEligiblePaths(t *testing.T) {
	e := newTestEnv(t, nil)
	next := &recordingNext{}

	rec := do(e.mw.Handler(next), http.MethodGet, "/a.jpg", "image/jpeg")
	assert.Equal(t, "Accept", rec.Header().Get("Vary"))

	rec = do(e.mw.Handler(next), http.MethodGet, "/a.txt", "image/jpeg")
	assert.Empty(t, rec.Header().Get("Vary"))
}

func TestIdempotentCaching(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/img/a.png")
	h := e.mw.Handler(&recordingNext{})

	first := do(h, http.MethodGet, "/img/a.png", acceptWebP)
	second := do(h, http.MethodGet, "/img/a.png", acceptWebP)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, e.fake.Count())
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, testutil.MinimalWebP, first.Body.Bytes())
	assert.Equal(t, "converted", first.Header().Get(CacheHeader))
	assert.Equal(t, "hit", second.Header().Get(CacheHeader))
}

func TestDeterministicCachePath(t *testing.T) {
	e := newTestEnv(t, nil)

	for range 2 {
		p, err := e.mw.Store().Path("/a/b.jpg")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(e.cacheDir, "a", "b.jpg.webp"), p)
	}

	e.source(t, "/a/b.jpg")
	rec := do(e.mw.Handler(&recordingNext{}), http.MethodGet, "/a/b.jpg", acceptWebP)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.FileExists(t, filepath.Join(e.cacheDir, "a", "b.jpg.webp"))
}

func TestDirectServeExistingArtifact(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/img/a.png")

	dst := filepath.Join(e.cacheDir, "img", "a.png.webp")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, testutil.MinimalWebP, 0o644))
	info, err := os.Stat(dst)
	require.NoError(t, err)

	next := &recordingNext{}
	rec := do(e.mw.Handler(next), http.MethodGet, "/img/a.png", acceptWebP)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, strconv.FormatInt(info.Size(), 10), rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, info.ModTime().UTC().Format(http.TimeFormat), rec.Header().Get("Last-Modified"))
	assert.Equal(t, DefaultServerName, rec.Header().Get("Server"))
	assert.Equal(t, "Accept", rec.Header().Get("Vary"))
	assert.Equal(t, "hit", rec.Header().Get(CacheHeader))
	assert.Equal(t, 0, e.fake.Count())
	assert.Equal(t, 0, next.count())
}

func TestDirectServeRangeHeadAndConditional(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.ServerName = "itpeople" })
	e.source(t, "/a.png")
	h := e.mw.Handler(&recordingNext{})

	first := do(h, http.MethodGet, "/a.png", acceptWebP)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "itpeople", first.Header().Get("Server"))

	req := httptest.NewRequest(http.MethodGet, "/a.png", nil)
	req.Header.Set("Accept", acceptWebP)
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "RIFF", rec.Body.String())

	head := do(h, http.MethodHead, "/a.png", acceptWebP)
	assert.Equal(t, http.StatusOK, head.Code)
	assert.Equal(t, strconv.Itoa(len(testutil.MinimalWebP)), head.Header().Get("Content-Length"))
	assert.Zero(t, head.Body.Len())

	req = httptest.NewRequest(http.MethodGet, "/a.png", nil)
	req.Header.Set("Accept", acceptWebP)
	req.Header.Set("If-Modified-Since", first.Header().Get("Last-Modified"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	assert.Equal(t, 1, e.fake.Count())
}

func TestDelegateMode(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.Delegate = true })
	e.source(t, "/img/a.png")
	next := &recordingNext{}

	req := httptest.NewRequest(http.MethodGet, "/img/a.png?v=3", nil)
	req.Header.Set("Accept", acceptWebP)
	rec := httptest.NewRecorder()
	e.mw.Handler(next).ServeHTTP(rec, req)

	require.Equal(t, 1, next.count())
	got := next.last()
	assert.Equal(t, "/img/a.png.webp", got.URL.Path)
	assert.Equal(t, "v=3", got.URL.RawQuery)
	assert.Equal(t, "/img/a.png", req.URL.Path, "caller's request is not mutated")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "converted", rec.Header().Get(CacheHeader))
	assert.FileExists(t, filepath.Join(e.cacheDir, "img", "a.png.webp"))

	rec = do(e.mw.Handler(next), http.MethodGet, "/img/a.png", acceptWebP)
	assert.Equal(t, "/img/a.png.webp", next.last().URL.Path)
	assert.Equal(t, "hit", rec.Header().Get(CacheHeader))
	assert.Equal(t, 1, e.fake.Count())
}

func TestMissingSourceFails(t *testing.T) {
	e := newTestEnv(t, nil)
	next := &recordingNext{}

	rec := do(e.mw.Handler(next), http.MethodGet, "/img/missing.png", acceptWebP)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, next.count(), "failures never pass through")
	assert.NoFileExists(t, filepath.Join(e.cacheDir, "img", "missing.png.webp"))

	_, err := e.mw.Ensure(context.Background(), "/img/missing.png")
	assert.ErrorIs(t, err, converter.ErrConversionFailed)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestConverterFailure(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/a.png")
	e.fake.Fail(t)
	next := &recordingNext{}

	rec := do(e.mw.Handler(next), http.MethodGet, "/a.png", acceptWebP)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, next.count())
	assert.Equal(t, 1, e.fake.Count())
	assertNoTempFiles(t, e.cacheDir)
	assert.NoFileExists(t, filepath.Join(e.cacheDir, "a.png.webp"))
}

func TestInvalidOutput(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/a.png")
	e.fake.Garbage(t)

	rec := do(e.mw.Handler(&recordingNext{}), http.MethodGet, "/a.png", acceptWebP)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, err := e.mw.Ensure(context.Background(), "/a.png")
	assert.ErrorIs(t, err, converter.ErrInvalidOutput)
	assertNoTempFiles(t, e.cacheDir)
	assert.NoFileExists(t, filepath.Join(e.cacheDir, "a.png.webp"))
}

func TestConcurrentRequestsShareConversion(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.Workers = 4 })
	e.source(t, "/big.jpg")
	e.fake.Sleep(t, 300*time.Millisecond)
	h := e.mw.Handler(&recordingNext{})

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	bodies := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := do(h, http.MethodGet, "/big.jpg", acceptWebP)
			codes[i] = rec.Code
			bodies[i] = rec.Body.String()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, e.fake.Count())
	for i := range n {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.Equal(t, string(testutil.MinimalWebP), bodies[i])
	}
}

func TestStaleSourceIsReconverted(t *testing.T) {
	e := newTestEnv(t, nil)
	src := e.source(t, "/a.png")
	h := e.mw.Handler(&recordingNext{})

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/a.png", acceptWebP).Code)
	require.Equal(t, 1, e.fake.Count())

	testutil.Touch(t, src, time.Now().Add(time.Hour))

	rec := do(h, http.MethodGet, "/a.png", acceptWebP)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "converted", rec.Header().Get(CacheHeader))
	assert.Equal(t, 2, e.fake.Count())
}

func TestChangedArgsAreReconvertedWithIndex(t *testing.T) {
	fake := testutil.NewFakeCWebP(t)
	pub := t.TempDir()
	cacheDir := t.TempDir()
	testutil.WriteImage(t, filepath.Join(pub, "a.png"))

	idx, err := database.New(context.Background(), filepath.Join(cacheDir, ".webp-index.db"))
	require.NoError(t, err)
	defer idx.Close()

	newMW := func(args ...string) http.Handler {
		cfg := DefaultConfig()
		cfg.CachePath = cacheDir
		cfg.CWebPPath = fake.Path
		cfg.ConverterArgs = args
		cfg.Index = idx
		return New(pub, cfg).Handler(&recordingNext{})
	}

	steps := []struct {
		args    []string
		outcome string
		calls   int
	}{
		{[]string{"-q", "80"}, "converted", 1},
		{[]string{"-q", "80"}, "hit", 1},
		{[]string{"-q", "90"}, "converted", 2},
		{[]string{"-q", "90"}, "hit", 2},
	}
	for i, s := range steps {
		rec := do(newMW(s.args...), http.MethodGet, "/a.png", acceptWebP)
		require.Equal(t, http.StatusOK, rec.Code, "step %d", i)
		assert.Equal(t, s.outcome, rec.Header().Get(CacheHeader), "step %d", i)
		assert.Equal(t, s.calls, fake.Count(), "step %d", i)
	}

	calls := fake.Calls()
	assert.True(t, strings.HasPrefix(calls[1], "-q 90 "), "args precede the source: %q", calls[1])
}

func TestConversionTimeout(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.Timeout = 100 * time.Millisecond })
	e.source(t, "/slow.png")
	e.fake.Sleep(t, 5*time.Second)

	start := time.Now()
	rec := do(e.mw.Handler(&recordingNext{}), http.MethodGet, "/slow.png", acceptWebP)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.NoFileExists(t, filepath.Join(e.cacheDir, "slow.png.webp"))
}

func TestConversionTimeoutExcludesQueueWait(t *testing.T) {
	e := newTestEnv(t, func(c *Config) {
		c.Workers = 1
		c.Timeout = 700 * time.Millisecond
	})
	e.source(t, "/a.png")
	e.source(t, "/b.png")
	e.fake.Sleep(t, 500*time.Millisecond)
	h := e.mw.Handler(&recordingNext{})

	var wg sync.WaitGroup
	codes := map[string]int{}
	var mu sync.Mutex
	for _, p := range []string{"/a.png", "/b.png"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := do(h, http.MethodGet, p, acceptWebP)
			mu.Lock()
			codes[p] = rec.Code
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"/a.png": http.StatusOK, "/b.png": http.StatusOK}, codes)
	assert.Equal(t, 2, e.fake.Count())
}

func TestQueuedConversionFindsFreshArtifact(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.Workers = 1 })
	srcA := e.source(t, "/a.png")
	e.source(t, "/b.png")
	e.fake.Sleep(t, 500*time.Millisecond)
	ctx := context.Background()

	// b holds the only worker while a waits for it.
	bDone := make(chan error, 1)
	go func() {
		_, err := e.mw.Ensure(ctx, "/b.png")
		bDone <- err
	}()
	require.Eventually(t, func() bool { return e.fake.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	type result struct {
		art Artifact
		err error
	}
	aDone := make(chan result, 1)
	go func() {
		art, err := e.mw.Ensure(ctx, "/a.png")
		aDone <- result{art, err}
	}()
	time.Sleep(100 * time.Millisecond)

	// Another writer completes a's artifact while a is queued.
	srcInfo, err := os.Stat(srcA)
	require.NoError(t, err)
	dst, err := e.mw.Store().Path("/a.png")
	require.NoError(t, err)
	require.NoError(t, e.mw.Store().Prepare(dst))
	tmp := e.mw.Store().TempPath(dst)
	require.NoError(t, os.WriteFile(tmp, testutil.MinimalWebP, 0o644))
	require.NoError(t, e.mw.Store().Commit(ctx, cache.Record{
		Path:          dst,
		Source:        srcA,
		SourceSize:    srcInfo.Size(),
		SourceModTime: srcInfo.ModTime(),
	}, tmp))

	require.NoError(t, <-bDone)
	res := <-aDone
	require.NoError(t, res.err)
	assert.Equal(t, metrics.OutcomeHit, res.art.Outcome)
	assert.Equal(t, 1, e.fake.Count(), "a must not be converted again")
}

func TestClientCancelDoesNotAbortConversion(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/a.png")
	e.fake.Sleep(t, 300*time.Millisecond)
	next := &recordingNext{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/a.png", nil).WithContext(ctx)
	req.Header.Set("Accept", acceptWebP)
	rec := httptest.NewRecorder()

	e.mw.Handler(next).ServeHTTP(rec, req)

	assert.Zero(t, rec.Body.Len())
	assert.False(t, rec.Flushed)
	assert.Empty(t, rec.Header().Get(CacheHeader))
	assert.Equal(t, 0, next.count())

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(e.cacheDir, "a.png.webp"))
		return err == nil
	}, 3*time.Second, 20*time.Millisecond, "conversion should finish for later requests")
}

func TestPathTraversalStaysInRoots(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/a.png")

	art, err := e.mw.Ensure(context.Background(), "/../../a.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.pub, "a.png"), art.Source)
	assert.Equal(t, filepath.Join(e.cacheDir, "a.png.webp"), art.Path)
	assert.Equal(t, "/a.png.webp", art.URLPath)
}

func TestEnsureNotEligible(t *testing.T) {
	e := newTestEnv(t, nil)
	_, err := e.mw.Ensure(context.Background(), "/a.gif")
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.False(t, e.mw.Eligible("/a.gif"))
	assert.True(t, e.mw.Eligible("/A.JPEG"))
	assert.True(t, e.mw.Eligible("/scan.tif"))
}

func TestCustomMimeTypes(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.MimeTypes = []string{"image/gif"} })
	assert.True(t, e.mw.Eligible("/a.gif"))
	assert.False(t, e.mw.Eligible("/a.png"))
}

func TestCleanupKillsConversions(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/a.png")
	e.fake.Sleep(t, 10*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := e.mw.Ensure(context.Background(), "/a.png")
		done <- err
	}()

	cw, ok := e.mw.Converter().(*converter.CWebP)
	require.True(t, ok)
	require.Eventually(t, func() bool { return cw.Running() == 1 }, 3*time.Second, 10*time.Millisecond)

	e.mw.Cleanup()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, converter.ErrConversionFailed)
	case <-time.After(5 * time.Second):
		t.Fatal("Cleanup did not stop the conversion")
	}
}

func TestNewDefaults(t *testing.T) {
	mw := New("public", Config{})

	assert.True(t, filepath.IsAbs(mw.PublicPath()))
	cfg := mw.Config()
	assert.ElementsMatch(t, []string{"image/jpeg", "image/png", "image/tiff"}, cfg.MimeTypes)
	assert.False(t, cfg.Delegate, "zero Config serves artifacts directly")
	assert.Equal(t, DefaultServerName, cfg.ServerName)
	assert.Equal(t, DefaultTimeout, mw.Pool().Timeout())
	assert.Equal(t, "cwebp", mw.Converter().Name())
	wd, _ := os.Getwd()
	assert.Equal(t, filepath.Join(wd, "cache"), mw.Store().Root())

	assert.False(t, DefaultConfig().Delegate)

	noLimit := New("public", Config{Timeout: -1, Workers: 3})
	assert.Equal(t, time.Duration(0), noLimit.Pool().Timeout())
	assert.Equal(t, 3, noLimit.Pool().Size())
}

func TestWrap(t *testing.T) {
	e := newTestEnv(t, nil)
	e.source(t, "/a.png")

	h := Wrap(e.pub, e.cfg)(&recordingNext{})
	rec := do(h, http.MethodGet, "/a.png", acceptWebP)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusNotFound, statusFor(fs.ErrNotExist))
	assert.Equal(t, StatusNotFound, statusFor(&fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}))
	assert.Equal(t, StatusInternalError, statusFor(fs.ErrPermission))
	assert.Equal(t, StatusInternalError, statusFor(errors.New("io error")))
}

func TestServeMissingArtifactHeadersOnly(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	rec.Header().Set(CacheHeader, "hit")
	req := httptest.NewRequest(http.MethodGet, "/gone.png", nil)

	e.mw.serve(rec, req, Artifact{Path: filepath.Join(e.cacheDir, "gone.png.webp")})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, DefaultServerName, rec.Header().Get("Server"))
	assert.Empty(t, rec.Header().Get(CacheHeader))
	assert.Zero(t, rec.Body.Len())
}

func TestResponseBuilder(t *testing.T) {
	rec := httptest.NewRecorder()
	newResponse(StatusInternalError).set("Server", "x").set("Server", "y").writeHeader(rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"y"}, rec.Header().Values("Server"))
	assert.Zero(t, rec.Body.Len())
}

func assertNoTempFiles(t *testing.T, root string) {
	t.Helper()
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && strings.HasSuffix(p, ".tmp") {
			t.Errorf("temp file left behind: %s", p)
		}
		return nil
	})
}

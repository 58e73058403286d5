package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
)

// MinimalWebP is the smallest lossless WebP image: a 1x1 VP8L bitstream.
var MinimalWebP = []byte{
	'R', 'I', 'F', 'F', 0x12, 0x00, 0x00, 0x00,
	'W', 'E', 'B', 'P',
	'V', 'P', '8', 'L', 0x05, 0x00, 0x00, 0x00,
	0x2f, 0x00, 0x00, 0x00, 0x00,
	0x00,
}

const fakeScript = `#!/bin/sh
dir=$(dirname "$0")
if [ "$1" = "-version" ]; then
	echo "1.4.0"
	exit 0
fi
echo "$*" >> "$dir/calls.log"
if [ -f "$dir/sleep" ]; then
	sleep "$(cat "$dir/sleep")"
fi
if [ -f "$dir/fail" ]; then
	echo "cwebp: cannot decode input" >&2
	exit 1
fi
prev=""
src=""
dst=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then
		src="$prev"
		dst="$2"
		shift 2
		continue
	fi
	prev="$1"
	shift
done
if [ ! -f "$src" ]; then
	echo "cwebp: cannot open input file $src" >&2
	exit 255
fi
if [ -f "$dir/garbage" ]; then
	echo "not a webp" > "$dst"
	exit 0
fi
cp "$dir/output.webp" "$dst"
`

// FakeCWebP is a shell script standing in for cwebp. It copies MinimalWebP to
// the -o destination and records every conversion's arguments.
type FakeCWebP struct {
	Path string
	dir  string
}

// NewFakeCWebP installs a fake cwebp in a temp dir. Tests are skipped on
// platforms without /bin/sh.
func NewFakeCWebP(t testing.TB) *FakeCWebP {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake cwebp requires /bin/sh")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "cwebp")
	if err := os.WriteFile(path, []byte(fakeScript), 0o755); err != nil {
		t.Fatalf("write fake cwebp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "output.webp"), MinimalWebP, 0o644); err != nil {
		t.Fatalf("write fake output: %v", err)
	}
	return &FakeCWebP{Path: path, dir: dir}
}

// Calls returns the argument lines of every conversion run so far.
func (f *FakeCWebP) Calls() []string {
	data, err := os.ReadFile(filepath.Join(f.dir, "calls.log"))
	if err != nil {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

// Count returns the number of conversions run so far.
func (f *FakeCWebP) Count() int {
	return len(f.Calls())
}

// Fail makes subsequent conversions exit non-zero.
func (f *FakeCWebP) Fail(t testing.TB) {
	f.flag(t, "fail", "")
}

// Garbage makes subsequent conversions write output that is not WebP.
func (f *FakeCWebP) Garbage(t testing.TB) {
	f.flag(t, "garbage", "")
}

// Sleep makes subsequent conversions take at least d.
func (f *FakeCWebP) Sleep(t testing.TB, d time.Duration) {
	f.flag(t, "sleep", fmt.Sprintf("%.3f", d.Seconds()))
}

func (f *FakeCWebP) flag(t testing.TB, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s flag: %v", name, err)
	}
}

// WriteImage draws a small solid image and saves it at path in the format
// implied by its extension.
func WriteImage(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := imaging.New(8, 8, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

// EncodePNG returns an 8x8 PNG.
func EncodePNG(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	var img image.Image = imaging.New(8, 8, color.NRGBA{G: 128, A: 255})
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// Touch sets a file's modification time.
func Touch(t testing.TB, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

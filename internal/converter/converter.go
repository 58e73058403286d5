package converter

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/image/webp"

	"webp-gateway/internal/filesystem"
)

var (
	// ErrConversionFailed is returned when the converter exits unsuccessfully.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrInvalidOutput is returned when a converted file is not a valid WebP.
	ErrInvalidOutput = errors.New("invalid webp output")
)

// Converter converts the image at src into a WebP file at dst.
type Converter interface {
	// Name identifies the implementation, used as a metrics label.
	Name() string

	// Fingerprint changes whenever the converter would produce different
	// output for the same input.
	Fingerprint() string

	Convert(ctx context.Context, src, dst string) error
}

// Checker is implemented by converters that can report whether they are
// able to run.
type Checker interface {
	Ready(ctx context.Context) error
}

// Info describes a verified WebP file.
type Info struct {
	Width  int
	Height int
}

// Verify decodes the WebP header of the file at path.
func Verify(path string) (Info, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	cfg, err := webp.DecodeConfig(f)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, path, err)
	}
	return Info{Width: cfg.Width, Height: cfg.Height}, nil
}

package mediatypes

import (
	"mime"
	"path"
	"strings"
)

// Media types handled by the gateway.
const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	TIFF = "image/tiff"
	GIF  = "image/gif"
	BMP  = "image/bmp"
	WebP = "image/webp"
)

// WebPSuffix is appended to a source path to name its converted artifact.
const WebPSuffix = ".webp"

// DefaultConvertible lists the source media types converted when no explicit
// list is configured.
var DefaultConvertible = []string{JPEG, PNG, TIFF}

// MimeTypes maps lowercase file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".jpe":  JPEG,
	".png":  PNG,
	".gif":  GIF,
	".bmp":  BMP,
	".webp": WebP,
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".tiff": TIFF,
	".tif":  TIFF,
	".heic": "image/heic",
	".heif": "image/heif",
	".avif": "image/avif",
}

// ForPath returns the media type for a path based on its extension, or an
// empty string when it cannot be determined.
func ForPath(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return ""
	}
	if mt, ok := MimeTypes[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(mt); err == nil {
		return mediaType
	}
	return mt
}

// Accepts reports whether an Accept header value mentions mediaType.
func Accepts(accept, mediaType string) bool {
	return accept != "" && strings.Contains(accept, mediaType)
}

// Set is a lookup table of media types.
type Set map[string]bool

// NewSet builds a Set from a list, normalising case and whitespace.
func NewSet(types []string) Set {
	s := make(Set, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			s[t] = true
		}
	}
	return s
}

// Contains reports whether mediaType is a member of the set.
func (s Set) Contains(mediaType string) bool {
	return mediaType != "" && s[mediaType]
}

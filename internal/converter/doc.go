// Package converter turns raster images into WebP files.
//
// The default Converter is CWebP, which runs an external cwebp binary as
//
//	cwebp [args...] <src> -o <dst>
//
// and tracks running processes so they can be killed on shutdown. Verify checks
// that a produced file carries a decodable WebP header.
package converter

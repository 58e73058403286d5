// Package mediatypes provides media type inference and content negotiation
// helpers shared by the webp-gateway packages.
//
// This package exists as a dependency-free foundation that can be imported by other
// packages without creating import cycles. It contains constants and pure utility
// functions with no external dependencies beyond the standard library.
//
// # Media Types
//
// ForPath infers a media type from a request path or file name using its
// extension. Known raster formats come from a fixed table; anything else falls
// back to the system MIME registry:
//
//	mediatypes.ForPath("/img/photo.JPG") // "image/jpeg"
//	mediatypes.ForPath("/img/photo")     // "" (no extension)
//
// # Negotiation
//
// Accepts reports whether an Accept header mentions a media type token. It is a
// plain substring check, matching how browsers advertise WebP support:
//
//	if mediatypes.Accepts(r.Header.Get("Accept"), mediatypes.WebP) {
//	    // client can decode WebP
//	}
package mediatypes

// Package testutil provides fixtures shared by the gateway's tests: a fake
// cwebp executable, a minimal valid WebP file and small raster images.
package testutil

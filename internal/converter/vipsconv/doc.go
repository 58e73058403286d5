// Package vipsconv provides an in-process WebP converter backed by libvips.
//
// It is selected with webp.converter=vips and avoids spawning a cwebp process
// per image. Startup must be called once before the first conversion and
// Shutdown once at exit; govips cannot be restarted within a process.
package vipsconv

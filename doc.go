// Package main provides the webp-gateway command.
//
// webp-gateway serves a directory of images over HTTP and answers clients that
// accept image/webp with a WebP rendition of the requested image. Renditions
// are produced on first request by cwebp or libvips and kept in a cache
// directory, tracked by a SQLite index.
//
// # Commands
//
//	webp-gateway serve                  run the HTTP gateway and metrics server
//	webp-gateway convert [path...]      convert images ahead of the first request
//	webp-gateway cache stats            print artifact counts and sizes
//	webp-gateway cache clear            remove every artifact
//	webp-gateway cache prune [--verify] remove orphaned and stale artifacts
//
// # Serve Lifecycle
//
//  1. Memory Configuration: sets GOMEMLIMIT from MEMORY_LIMIT when present
//  2. Configuration: flags, WEBP_* environment, config.yaml and defaults
//  3. Directories: the cache directory must exist or be created, and be writable
//  4. Gateway: converter, artifact index and WebP middleware
//  5. HTTP Server Setup: probes, admin API and the static file handler
//  6. Graceful Shutdown: on SIGINT/SIGTERM the collector stops, the HTTP
//     server drains, leftover conversions are killed, the metrics server stops
//     and the index is closed
//
// See package startup for the configuration keys.
package main

// Package handlers provides the HTTP handlers of the gateway that sit around
// the WebP middleware.
//
// It includes handlers for:
//   - Health, liveness and readiness probes
//   - Build information
//   - Cache administration (stats, clear, prune) and on-demand conversion
//   - Static files from the public directory, and artifacts from the cache
//     directory when the middleware delegates serving
package handlers

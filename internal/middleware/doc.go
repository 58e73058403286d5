// Package middleware provides HTTP middleware for the gateway server.
//
// It includes:
//   - Request logging in W3C Extended Log Format, with the WebP cache outcome
//   - Prometheus request metrics with bounded path cardinality
//   - Configurable filtering for static files and health checks
package middleware

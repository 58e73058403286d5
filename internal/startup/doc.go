// Package startup handles configuration loading and startup/shutdown logging.
//
// # Configuration
//
// Configuration is layered with viper by [ReadConfig] and decoded and
// validated by [Load]. Sources, highest precedence first:
//
//  1. Command-line flags that were explicitly set
//  2. Environment variables prefixed with WEBP_ (dots become underscores,
//     so webp.cache_path is WEBP_WEBP_CACHE_PATH and log.level is
//     WEBP_LOG_LEVEL)
//  3. A config file (--config, or ./config.yaml when present)
//  4. Defaults from [SetDefaults]
//
// Keys:
//
//   - server.port: HTTP port (default: 8080)
//   - server.metrics_port: Prometheus port (default: 9090)
//   - server.metrics_enabled: Run the metrics server (default: true)
//   - public_dir: Directory of source images (default: ./public)
//   - webp.mime_types: Source media types to convert (default: jpeg, png, tiff)
//   - webp.serve_images: Serve artifacts directly instead of delegating (default: true)
//   - webp.cache_path: Artifact directory (default: ./cache)
//   - webp.converter: cwebp or vips (default: cwebp)
//   - webp.cwebp_path: cwebp binary (default: cwebp from PATH)
//   - webp.converter_args: Extra cwebp arguments placed before the input file
//   - webp.quality, webp.lossless: vips encoder settings (default: 75, false)
//   - webp.timeout: Per-conversion limit, negative for none (default: 60s)
//   - webp.workers: Concurrent conversions, 0 for one per CPU
//   - webp.server_name: Server header on served artifacts
//   - index.enabled, index.path: SQLite artifact index (default: on,
//     <cache_path>/.webp-index.db)
//   - log.level, log.format: debug|info|warn|error and text|json
//   - log.static_files, log.health_checks: Access log filters
//
// # Directory Setup
//
// [PrepareDirectories] checks the public directory (warning only) and creates
// the cache directory, which must be writable.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//   - Version: Application version
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
//
// # Lifecycle Logging
//
//   - [LogConfiguration]: Banner, system information and resolved settings
//   - [LogIndexInit], [LogIndexDisabled]: Artifact index state
//   - [LogConverterInit]: Converter choice and cwebp availability
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownComplete]: Graceful shutdown
package startup

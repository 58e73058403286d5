// Package logging provides a simple leveled logging interface for
// webp-gateway.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// Messages are formatted printf-style and emitted through log/slog. The text
// format uses a tint handler for readable terminal output; the json format
// writes one JSON object per line.
//
// The initial level comes from the DEBUG or LOG_LEVEL environment variables
// and can be replaced at runtime with Setup once configuration is loaded.
package logging

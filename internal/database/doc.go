// Package database provides the SQLite artifact index for the WebP cache.
//
// Each committed artifact is stored with the identity of the source it was
// converted from and the fingerprint of that conversion, which lets the cache
// detect edited sources and changed converter settings without re-reading
// files. A small metadata table holds key/value settings such as the schema
// version and the last converter fingerprint.
//
// The database uses WAL mode for concurrent readers and includes automatic
// schema initialization.
package database

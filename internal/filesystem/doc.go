/*
Package filesystem provides filesystem operations with automatic retry logic
for NFS stale file handle errors.

Public image roots and cache directories are frequently NFS mounts. When the
server side replaces a file, clients can observe ESTALE until the handle is
refreshed. StatWithRetry and OpenWithRetry retry only that error, with capped
exponential backoff; every other error is returned immediately.

# Usage

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
	    return err
	}
	defer f.Close()

# Metrics

Operations are labelled with a volume name resolved from the path (for
example "public" or "cache") and reported to the package Observer. The metrics
package provides the Prometheus implementation; without one, recording is
skipped.
*/
package filesystem

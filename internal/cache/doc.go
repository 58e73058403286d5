/*
Package cache manages converted artifacts on disk.

An artifact for the URL path /img/a.png lives at <root>/img/a.png.webp.
Artifacts are written to a temp file in the same directory and renamed into
place, so readers never observe partial output.

# Freshness

With an Index, an artifact is fresh when its recorded fingerprint matches

	xxhash64(source path, source size, source mtime, converter fingerprint, suffix)

so edits to the source and changes of converter arguments both invalidate it.
Without an index, an artifact is fresh when it is not older than its source.

There is no eviction. Clear removes everything; Prune removes artifacts whose
source is gone or that are stale, and with verification also those that do not
decode as WebP.
*/
package cache

/*
Package webp implements the WebP conversion middleware.

For every GET or HEAD request whose Accept header mentions image/webp and whose
path has a convertible media type, the middleware makes sure a converted copy
exists in the cache directory and then either serves it directly or passes the
request on with ".webp" appended to its path. All other requests pass through
untouched.

	mw := webp.New("./public", webp.DefaultConfig())
	defer mw.Cleanup()
	http.Handle("/", mw.Handler(http.FileServer(http.Dir("./public"))))

Conversions run on a bounded worker pool. Concurrent requests for the same
artifact share one conversion, and each conversion is bounded by
Config.Timeout independently of the requests waiting for it. Cache freshness
follows the rules of package cache.

Responses set X-Webp-Cache to hit, converted or shared, and Vary: Accept on
every response for a convertible path.
*/
package webp

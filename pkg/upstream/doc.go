// Package upstream implements the upstream HTTP client and the
// read-through proxy-cache: on a miss for a
// locally-unhosted package, fetch its listing and archives from a
// configured upstream Hosted Pub Repository, persist them, and mark
// the package is_upstream_cache.
//
// Concurrent requests for the same listing or archive are coalesced
// through golang.org/x/sync/singleflight so at most one upstream fetch
// for a given key is ever in flight; a stale-while-revalidate window
// (DefaultListingTTL) lets a cached listing keep serving while one
// background refresh runs.
package upstream

// Package origin is the HTTP fetcher that the cache gateway calls on misses
// and revalidations. It owns the shared transport, strips hop-by-hop headers
// and retries idempotent requests on network failures with capped
// exponential backoff.
package origin

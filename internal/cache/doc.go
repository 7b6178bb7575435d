// Package cache implements the read-through asset cache that sits between an
// HTTP client and the origin.
//
// A request flows through the Gateway: the bypass switch is consulted, the
// Classifier decides whether the URL is a static asset, and the Store is
// queried. Hits are answered from a deep copy of the stored Entry while the
// Ledger is touched and the entry is revalidated in the background. Misses
// are fetched synchronously, checked by the Validator and persisted. After a
// write the Evictor may run a pass that trims the store back to MaxItems,
// oldest entries first, in PruneChunk-sized batches.
//
// Entries and the recency ledger live in two kv namespaces:
//
//	quicksilver-assets-v1   canonical URL -> HTTP/1.1 response bytes
//	quicksilver-ledger      quicksilver-lru-metadata -> {"<url>": <millis>}
package cache

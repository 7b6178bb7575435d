package cache

import (
	"context"
	"time"
)

// StatusReport 描述单个 URL 在缓存中的状态。
type StatusReport struct {
	Key         Key       `json:"key"`
	Cacheable   bool      `json:"cacheable"`
	Cached      bool      `json:"cached"`
	Bypassed    bool      `json:"bypassed"`
	Status      int       `json:"status,omitempty"`
	StoredAt    time.Time `json:"stored_at,omitzero"`
	LastTouched time.Time `json:"last_touched,omitzero"`
}

// Status 查询 rawURL 的缓存状态，URL 无法规范化时返回 ErrMalformedRequest。
func (g *Gateway) Status(ctx context.Context, rawURL string) (StatusReport, error) {
	key, err := ParseKey(rawURL)
	if err != nil {
		return StatusReport{}, err
	}
	report := StatusReport{
		Key:       key,
		Cacheable: g.classifier.IsCacheableKey(key),
		Bypassed:  g.bypassed(),
	}
	if entry, ok := g.store.Get(ctx, key); ok {
		report.Cached = true
		report.Status = entry.Status
		report.StoredAt = entry.StoredAt
	}
	if ts, ok := g.ledger.Lookup(key); ok {
		report.LastTouched = time.UnixMilli(ts).UTC()
	}
	return report, nil
}

// Stats 是网关运行期计数。
type Stats struct {
	Hits               int64 `json:"hits"`
	Misses             int64 `json:"misses"`
	PassThrough        int64 `json:"pass_through"`
	Fallbacks          int64 `json:"fallbacks"`
	Stored             int64 `json:"stored"`
	Rejected           int64 `json:"rejected"`
	Revalidations      int64 `json:"revalidations"`
	RevalidateFailures int64 `json:"revalidate_failures"`
	DegradedWrites     int64 `json:"degraded_writes"`
	EvictionPasses     int64 `json:"eviction_passes"`
	Evicted            int64 `json:"evicted"`
	Tracked            int   `json:"tracked"`
	Bypassed           bool  `json:"bypassed"`
}

func (g *Gateway) Stats() Stats {
	return Stats{
		Hits:               g.counters.hits.Load(),
		Misses:             g.counters.misses.Load(),
		PassThrough:        g.counters.passThrough.Load(),
		Fallbacks:          g.counters.fallbacks.Load(),
		Stored:             g.counters.stored.Load(),
		Rejected:           g.counters.rejected.Load(),
		Revalidations:      g.counters.revalidations.Load(),
		RevalidateFailures: g.counters.revalidateFailures.Load(),
		DegradedWrites:     g.store.Degraded() + g.ledger.Degraded(),
		EvictionPasses:     g.evictor.Passes(),
		Evicted:            g.evictor.Evicted(),
		Tracked:            g.ledger.Len(),
		Bypassed:           g.bypassed(),
	}
}

package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxItems     = 1000
	DefaultPruneChunk   = 50
	DefaultIdleInterval = 5 * time.Second
)

// Evictor 把 Store 修剪回 MaxItems 以内，最久未访问的条目优先，按 PruneChunk 成批删除。
type Evictor struct {
	store    *Store
	ledger   *Ledger
	logger   *logrus.Logger
	maxItems int
	chunk    int

	mu      sync.Mutex
	passes  atomic.Int64
	evicted atomic.Int64
}

func NewEvictor(store *Store, ledger *Ledger, logger *logrus.Logger, maxItems, chunk int) *Evictor {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if chunk <= 0 {
		chunk = DefaultPruneChunk
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evictor{
		store:    store,
		ledger:   ledger,
		logger:   logger,
		maxItems: maxItems,
		chunk:    chunk,
	}
}

// Maintain 执行一次淘汰。多个并发调用串行执行，后到者会重新读取条目数。
//
// 超出部分向上取整到 PruneChunk 的整数倍后删除；没有账本记录的条目时间戳按 0 处理，
// 同时间戳按 Key 字典序。protect 中的 key 不会成为本次的淘汰对象。
// 每个 key 先删正文，成功后立即删账本记录；账本中没有正文的记录在每次执行时清理。
func (e *Evictor) Maintain(ctx context.Context, protect ...Key) []Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passes.Add(1)

	// 这份账本快照先于条目列表读取：其中有而列表里没有的 key 已经没有正文。
	tracked := e.ledger.Snapshot()
	keys, err := e.store.Keys(ctx)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"action": "cache_evict"}).WithError(err).Warn("cache_evict_list_failed")
		return nil
	}
	e.dropOrphans(ctx, tracked, keys)
	if len(keys) <= e.maxItems {
		return nil
	}
	recency := e.ledger.Snapshot()

	protected := make(map[Key]struct{}, len(protect))
	for _, k := range protect {
		protected[k] = struct{}{}
	}
	candidates := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, skip := protected[k]; !skip {
			candidates = append(candidates, k)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := recency[candidates[i]], recency[candidates[j]]
		if ti != tj {
			return ti < tj
		}
		return candidates[i] < candidates[j]
	})

	excess := len(keys) - e.maxItems
	n := ((excess + e.chunk - 1) / e.chunk) * e.chunk
	if n > len(candidates) {
		n = len(candidates)
	}

	evicted := make([]Key, 0, n)
	for _, key := range candidates[:n] {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.WithFields(logrus.Fields{
				"action": "cache_evict",
				"key":    string(key),
			}).WithError(err).Warn("cache_evict_delete_failed")
			continue
		}
		e.ledger.Remove(ctx, key)
		evicted = append(evicted, key)
	}
	e.evicted.Add(int64(len(evicted)))

	e.logger.WithFields(logrus.Fields{
		"action":  "cache_evict",
		"before":  len(keys),
		"evicted": len(evicted),
		"limit":   e.maxItems,
	}).Info("cache_evict")
	return evicted
}

// dropOrphans 删除正文已不存在的账本记录，例如清空或淘汰与后台刷新交错留下的记录。
func (e *Evictor) dropOrphans(ctx context.Context, recency map[Key]int64, keys []Key) {
	present := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}
	var orphans []Key
	for k := range recency {
		if _, ok := present[k]; !ok {
			orphans = append(orphans, k)
		}
	}
	if len(orphans) == 0 {
		return
	}
	e.ledger.Remove(ctx, orphans...)
	e.logger.WithFields(logrus.Fields{
		"action":  "cache_evict",
		"orphans": len(orphans),
	}).Debug("ledger_orphans_dropped")
}

// RunIdle 每隔 interval 检查一次，busy 返回 false 时执行一次淘汰，直到 ctx 结束。
func (e *Evictor) RunIdle(ctx context.Context, interval time.Duration, busy func() bool) {
	if interval <= 0 {
		interval = DefaultIdleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if busy != nil && busy() {
				continue
			}
			e.Maintain(ctx)
		}
	}
}

func (e *Evictor) Passes() int64  { return e.passes.Load() }
func (e *Evictor) Evicted() int64 { return e.evicted.Load() }

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/quicksilver/internal/kv"
)

const (
	// LedgerNamespace 是账本所在的 kv 命名空间。
	LedgerNamespace = "quicksilver-ledger"
	// LedgerKey 是账本 JSON 对象的固定 key。
	LedgerKey = "quicksilver-lru-metadata"
)

// Ledger 记录每个 Key 最近一次访问的毫秒时间戳。
//
// 内存中的 map 是权威视图；每次变更后整体序列化写回 kv。并发写回按版本号
// 去重，过期快照直接丢弃，因此持久化结果总是最新一次变更之后的状态。
type Ledger struct {
	backend kv.Store
	logger  *logrus.Logger
	now     func() time.Time

	mu      sync.Mutex
	records map[Key]int64
	version uint64

	writeMu  sync.Mutex
	written  uint64
	degraded atomic.Int64
}

// NewLedger 从 backend 载入账本；数据缺失、损坏或后端不可用时以空账本启动。
func NewLedger(ctx context.Context, backend kv.Store, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Ledger{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		records: make(map[Key]int64),
	}
	l.load(ctx)
	return l
}

func (l *Ledger) load(ctx context.Context) {
	raw, err := l.backend.Get(ctx, LedgerKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			l.logger.WithFields(logrus.Fields{"action": "ledger_load"}).WithError(err).Warn("ledger_load_failed")
		}
		return
	}
	var stored map[string]int64
	if err := json.Unmarshal(raw, &stored); err != nil {
		l.logger.WithFields(logrus.Fields{"action": "ledger_load"}).WithError(err).Warn("ledger_corrupt")
		return
	}
	for k, ts := range stored {
		l.records[Key(k)] = ts
	}
}

// Touch 把 key 的时间戳推进到当前时刻，时钟回拨时保持原值，返回写入后的时间戳。
func (l *Ledger) Touch(ctx context.Context, key Key) int64 {
	l.mu.Lock()
	ts := l.now().UnixMilli()
	if prev, ok := l.records[key]; ok && prev > ts {
		ts = prev
	}
	l.records[key] = ts
	version, data := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, version, data)
	return ts
}

// Lookup 返回 key 的时间戳。
func (l *Ledger) Lookup(key Key) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.records[key]
	return ts, ok
}

// Snapshot 返回账本的独立副本。
func (l *Ledger) Snapshot() map[Key]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Key]int64, len(l.records))
	for k, ts := range l.records {
		out[k] = ts
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Remove 删除一组记录并写回一次。
func (l *Ledger) Remove(ctx context.Context, keys ...Key) {
	if len(keys) == 0 {
		return
	}
	l.mu.Lock()
	for _, key := range keys {
		delete(l.records, key)
	}
	version, data := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, version, data)
}

func (l *Ledger) Clear(ctx context.Context) {
	l.mu.Lock()
	l.records = make(map[Key]int64)
	version, data := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, version, data)
}

// Degraded 返回写回失败的累计次数。
func (l *Ledger) Degraded() int64 {
	return l.degraded.Load()
}

func (l *Ledger) snapshotLocked() (uint64, []byte) {
	l.version++
	stored := make(map[string]int64, len(l.records))
	for k, ts := range l.records {
		stored[string(k)] = ts
	}
	data, _ := json.Marshal(stored)
	return l.version, data
}

func (l *Ledger) persist(ctx context.Context, version uint64, data []byte) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if version <= l.written {
		return
	}
	if err := l.backend.Put(ctx, LedgerKey, data); err != nil {
		l.degraded.Add(1)
		l.logger.WithFields(logrus.Fields{
			"action":      "ledger_persist",
			"unavailable": kv.IsUnavailable(err),
		}).WithError(err).Warn("ledger_persist_failed")
		return
	}
	l.written = version
}

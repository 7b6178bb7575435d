package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/quicksilver/internal/kv"
)

// StoreNamespace 是缓存正文所在的 kv 命名空间。
const StoreNamespace = "quicksilver-assets-v1"

// Store 把 Entry 以 HTTP 报文格式持久化到 kv 后端。
//
// 后端不可用（kv.IsUnavailable）时读写降级为 no-op 并计数，不会打断请求；
// 其他错误按原样返回给调用方。
type Store struct {
	backend  kv.Store
	logger   *logrus.Logger
	degraded atomic.Int64
}

// NewStore 包装一个 kv 命名空间。
func NewStore(backend kv.Store, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{backend: backend, logger: logger}
}

// Get 返回 key 对应的条目。读取失败或记录损坏都按未命中处理，损坏记录会被顺手删除。
func (s *Store) Get(ctx context.Context, key Key) (Entry, bool) {
	raw, err := s.backend.Get(ctx, string(key))
	if err != nil {
		if kv.IsUnavailable(err) {
			s.degrade("get", key, err)
		} else if !errors.Is(err, kv.ErrNotFound) {
			s.logger.WithFields(logrus.Fields{"action": "cache_get_failed", "key": string(key)}).
				WithError(err).Debug("cache_get_failed")
		}
		return Entry{}, false
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": "cache_entry_corrupt",
			"key":    string(key),
		}).WithError(err).Warn("cache_entry_corrupt")
		_ = s.backend.Delete(ctx, string(key))
		return Entry{}, false
	}
	return entry, true
}

// Put 整体替换 key 对应的条目。
func (s *Store) Put(ctx context.Context, key Key, entry Entry) error {
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, string(key), raw); err != nil {
		if kv.IsUnavailable(err) {
			s.degrade("put", key, err)
			return nil
		}
		return err
	}
	return nil
}

// Delete 删除条目；失败时返回错误，调用方据此保留账本记录。
func (s *Store) Delete(ctx context.Context, key Key) error {
	return s.backend.Delete(ctx, string(key))
}

// Keys 返回当前所有条目 key 的快照。
func (s *Store) Keys(ctx context.Context) ([]Key, error) {
	raw, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]Key, len(raw))
	for i, k := range raw {
		keys[i] = Key(k)
	}
	return keys, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// Degraded 返回累计降级次数。
func (s *Store) Degraded() int64 {
	return s.degraded.Load()
}

func (s *Store) degrade(op string, key Key, err error) {
	s.degraded.Add(1)
	s.logger.WithFields(logrus.Fields{
		"action": "cache_store_degraded",
		"op":     op,
		"key":    string(key),
	}).WithError(err).Warn("cache_store_degraded")
}

package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	perrors "github.com/jmgilman/go/errors"
)

// Store 是按命名空间隔离的持久化键值存储，缓存正文与 LRU 账本都落在它之上。
//
// 实现必须并发安全；单个 key 的 Put 需要是原子的（读者要么看到旧值，要么看到新值）。
type Store interface {
	// Get 返回 key 对应的值。不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put 以覆盖语义写入 key。
	Put(ctx context.Context, key string, value []byte) error

	// Delete 删除 key；key 不存在不视为错误。
	Delete(ctx context.Context, key string) error

	// Keys 列出命名空间内全部 key，顺序不保证。
	Keys(ctx context.Context) ([]string, error)

	// Clear 清空命名空间。
	Clear(ctx context.Context) error

	Close() error
}

// ErrNotFound 表示 key 不存在。
var ErrNotFound = errors.New("kv entry not found")

const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Options 描述 Open 所需的驱动与位置。
type Options struct {
	Driver    string
	Path      string
	Namespace string
}

// Open 根据 Driver 打开一个命名空间。fs 与 sqlite 需要 Path，memory 忽略它。
func Open(opts Options) (Store, error) {
	if strings.TrimSpace(opts.Namespace) == "" {
		return nil, errors.New("kv namespace required")
	}
	switch strings.ToLower(opts.Driver) {
	case "", DriverFS:
		return NewFSStore(opts.Path, opts.Namespace)
	case DriverSQLite:
		return NewSQLiteStore(opts.Path, opts.Namespace)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported kv driver %q", opts.Driver)
	}
}

// IsUnavailable 判断错误是否来自底层存储不可用（磁盘、数据库故障等）。
// 上层据此决定降级而不是中断请求。
func IsUnavailable(err error) bool {
	return err != nil && perrors.GetCode(err) == perrors.CodeUnavailable
}

// Unavailable 把后端错误标记为不可用，附带命名空间与 key 以便日志排查。
func Unavailable(err error, op, namespace, key string) error {
	if err == nil {
		return nil
	}
	wrapped := perrors.Wrap(err, perrors.CodeUnavailable, "kv "+op+" failed")
	return perrors.WithContextMap(wrapped, map[string]interface{}{
		"namespace": namespace,
		"key":       key,
	})
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

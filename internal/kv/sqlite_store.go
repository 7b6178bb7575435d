package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore 把一个命名空间放进单个 SQLite 文件。
// 读走连接池，写操作由 writeMu 串行化以避开 SQLITE_BUSY。
type SQLiteStore struct {
	db        *sql.DB
	namespace string
	writeMu   sync.Mutex
}

// NewSQLiteStore 打开（必要时创建）<basePath>/<namespace>.db。
func NewSQLiteStore(basePath, namespace string) (*SQLiteStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	dsn := "file:" + filepath.Join(basePath, namespace+".db") +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, namespace: namespace}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, Unavailable(err, "get", s.namespace, key)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().UnixMilli())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return Unavailable(err, "put", s.namespace, key)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return Unavailable(err, "delete", s.namespace, key)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv")
	if err != nil {
		return nil, Unavailable(err, "keys", s.namespace, "")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, Unavailable(err, "keys", s.namespace, "")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(err, "keys", s.namespace, "")
	}
	return keys, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv"); err != nil {
		return Unavailable(err, "clear", s.namespace, "")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

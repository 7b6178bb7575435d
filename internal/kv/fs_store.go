package kv

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fsEntrySuffix = ".kv"

// NewFSStore 以 basePath/namespace 为根目录构建磁盘后端，同一命名空间整站复用一份实例。
func NewFSStore(basePath, namespace string) (*FSStore, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	root := filepath.Join(abs, namespace)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &FSStore{
		root:      root,
		namespace: namespace,
		locks:     make(map[string]*entryLock),
	}, nil
}

// FSStore 通过 entryLock 避免同一 key 并发写入；写入走临时文件 + rename。
type FSStore struct {
	root      string
	namespace string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	filePath := s.entryPath(key)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, Unavailable(err, "get", s.namespace, key)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, Unavailable(err, "get", s.namespace, key)
	}

	storedKey, value, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok || string(storedKey) != key {
		// 哈希碰撞或残缺文件，按不存在处理。
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *FSStore) Put(ctx context.Context, key string, value []byte) error {
	if strings.ContainsRune(key, '\n') {
		return fmt.Errorf("kv key must not contain newline: %q", key)
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	filePath := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return Unavailable(err, "put", s.namespace, key)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return Unavailable(err, "put", s.namespace, key)
	}
	tempName := tempFile.Name()

	w := bufio.NewWriter(tempFile)
	_, err = w.WriteString(key + "\n")
	if err == nil {
		_, err = w.Write(value)
	}
	if err == nil {
		err = w.Flush()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return Unavailable(err, "put", s.namespace, key)
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return Unavailable(err, "put", s.namespace, key)
	}
	return nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.Remove(s.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Unavailable(err, "delete", s.namespace, key)
	}
	return nil
}

// Keys 遍历命名空间目录，读取每个条目文件的首行还原 key。
func (s *FSStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := checkContext(ctx); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fsEntrySuffix) {
			return nil
		}
		key, err := readKeyLine(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if key != "" {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, Unavailable(err, "keys", s.namespace, "")
	}
	return keys, nil
}

func (s *FSStore) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return Unavailable(err, "clear", s.namespace, "")
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return Unavailable(err, "clear", s.namespace, "")
		}
	}
	return nil
}

func (s *FSStore) Close() error { return nil }

func (s *FSStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *FSStore) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.root, name[:2], name+fsEntrySuffix)
}

func readKeyLine(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		// 没有换行说明文件残缺，忽略。
		return "", nil
	}
	return strings.TrimSuffix(line, "\n"), nil
}

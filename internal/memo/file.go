package memo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/fsroute/internal/response"
)

const fileSuffix = ".memo"

// FileStore 把序列化后的响应写入磁盘，进程重启后记忆仍然有效。
// 文件的 ModTime 记录过期时间，读取时发现已过期即删除。
type FileStore struct {
	basePath   string
	defaultTTL time.Duration
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewFileStore 以 basePath 为根目录构建磁盘后端。
func NewFileStore(basePath string, defaultTTL time.Duration) (*FileStore, error) {
	if basePath == "" {
		return nil, errors.New("memo directory required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve memo directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create memo directory: %w", err)
	}
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Second
	}
	return &FileStore{
		basePath:   abs,
		defaultTTL: defaultTTL,
		now:        time.Now,
		locks:      make(map[string]*entryLock),
	}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (*response.Envelope, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, false, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if info.IsDir() {
		return nil, false, nil
	}
	if !info.ModTime().After(s.now()) {
		_ = os.Remove(filePath)
		return nil, false, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, false, err
	}
	return env, true, nil
}

// Put 先写临时文件再 rename，失败时清理临时文件。
func (s *FileStore) Put(ctx context.Context, key string, env *response.Envelope, ttl time.Duration) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".memo-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = bytes.NewReader(data).WriteTo(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	expires := s.now().Add(ttl)
	if err := os.Chtimes(tempName, expires, expires); err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) lockEntry(key string) func() {
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

// entryPath 把记忆键映射为 basePath 下的文件，键中的 / 形成子目录。
func (s *FileStore) entryPath(key string) (string, error) {
	if key == "" {
		return "", errors.New("memo key required")
	}
	rel := strings.TrimPrefix(path.Clean("/"+key), "/")
	if rel == "" {
		rel = "root"
	}
	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel)) + fileSuffix
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid memo key")
	}
	return filePath, nil
}

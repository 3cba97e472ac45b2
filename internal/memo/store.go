// Package memo 保存 CacheControl 记忆的响应，提供内存、Redis 与磁盘三种后端。
package memo

import (
	"context"
	"errors"
	"time"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/response"
)

// ErrUncacheable 表示响应无法被记忆（例如流式正文）。
var ErrUncacheable = errors.New("response is not cacheable")

// Store 负责保存跨请求复用的响应。实现需保证读取到的 Envelope 与存储副本互不影响。
type Store interface {
	// Get 返回记忆的响应；不存在或已过期时 ok 为 false。
	Get(ctx context.Context, key string) (env *response.Envelope, ok bool, err error)

	// Put 写入响应，ttl ≤ 0 时使用实现的默认 TTL。流式响应返回 ErrUncacheable。
	Put(ctx context.Context, key string, env *response.Envelope, ttl time.Duration) error

	// Remove 删除记忆，不存在时忽略。
	Remove(ctx context.Context, key string) error

	// Close 释放底层资源。
	Close() error
}

// MemoryStore 基于进程内 TTL 缓存实现 Store。
type MemoryStore struct {
	entries    *cache.Cache[*response.Envelope]
	defaultTTL time.Duration
}

// NewMemoryStore 创建内存后端；条目在各自 TTL 到期后失效，读取不会顺延过期时间。
func NewMemoryStore(defaultTTL time.Duration, maxEntries int) (*MemoryStore, error) {
	if defaultTTL <= 0 {
		defaultTTL = cache.DefaultExpiry
	}
	entries, err := cache.New[*response.Envelope](cache.Options{
		Expiry:           defaultTTL,
		MaxEntries:       maxEntries,
		CloneValues:      cache.Bool(true),
		UpdateExpiration: cache.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries, defaultTTL: defaultTTL}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*response.Envelope, bool, error) {
	env, ok := s.entries.Get(key)
	return env, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, env *response.Envelope, ttl time.Duration) error {
	if env == nil || env.Kind == response.KindStream {
		return ErrUncacheable
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.entries.Set(key, env, ttl)
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.entries.Close()
	return nil
}

// Len 返回驻留条目数，供诊断接口使用。
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}

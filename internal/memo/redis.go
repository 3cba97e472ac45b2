package memo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/response"
)

// RedisOptions 配置 Redis 后端。
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
	// MaxTries 控制启动时 PING 的重试次数，0 表示 5 次。
	MaxTries uint
	Logger   *logrus.Logger
}

// RedisStore 将响应序列化后写入 Redis，适合多实例共享记忆。
type RedisStore struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisStore 连接 Redis 并以指数退避重试 PING，全部失败时返回错误。
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 15 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 5
	}
	if opts.Prefix == "" {
		opts.Prefix = "fsroute:memo:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	_, err := backoff.Retry(ctx, func() (string, error) {
		pong, err := client.Ping(ctx).Result()
		if err != nil && opts.Logger != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action": "memo_redis_ping",
				"addr":   opts.Addr,
			}).Warn(err.Error())
		}
		return pong, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(opts.MaxTries))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis 不可用: %w", err)
	}

	return &RedisStore{client: client, prefix: opts.Prefix, defaultTTL: opts.DefaultTTL}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*response.Envelope, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, false, err
	}
	return env, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, env *response.Envelope, ttl time.Duration) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

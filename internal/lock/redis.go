package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// Compare-and-delete so a holder never releases a lock that expired and was
// taken by someone else.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Redis is a Locker shared by every service replica using the same server.
type Redis struct {
	client *backend.Client
	prefix string
}

type Option func(*Redis)

// WithPrefix sets the key prefix for locks.
func WithPrefix(prefix string) Option {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a Redis locker connected to address.
func NewRedis(address, password string, db int, opts ...Option) *Redis {
	return NewRedisFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisFromClient creates a Redis locker from an existing client.
func NewRedisFromClient(client *backend.Client, opts ...Option) *Redis {
	r := &Redis{client: client, prefix: "artreport:export:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := r.prefix + "lock:" + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		return r.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
	}, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another runner is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// extendScript resets the TTL only while the key still holds our token.
const extendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// redisClient is the subset of *redis.Client used by Redis.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a Locker shared by every process pointing at the same Redis.
type Redis struct {
	client redisClient
	prefix string
}

// NewRedis creates a Redis locker. Keys are stored as "voc:lock:<name>".
func NewRedis(client redisClient) *Redis {
	return &Redis{client: client, prefix: "voc:lock:"}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "lock: ping redis %s", addr)
	}
	return rdb, nil
}

func (r *Redis) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "lock: acquire %s", key)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, token, ttl, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(rctx, releaseScript, []string{key}, token).Err(); err != nil {
				zap.L().Warn("lock: release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive extends the lease every ttl/3 until stop is closed or the key
// no longer holds token.
func (r *Redis) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := ttl / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := r.client.Eval(ctx, extendScript, []string{key}, token, ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			zap.L().Warn("lock: renew failed", zap.String("key", key), zap.Error(err))
		case n == 0:
			zap.L().Error("lock: lease lost", zap.String("key", key))
			return
		}
	}
}

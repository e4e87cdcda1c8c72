package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldops/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockPoll = 50 * time.Millisecond

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while the key holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLockRepository hands out redis locks that are renewed every ttl/3 while
// held, so a long sheet rewrite keeps exclusivity. ttl only bounds how long a
// crashed holder blocks others.
type RedisLockRepository struct {
	client *redis.Client
	ttl    time.Duration
	renew  time.Duration
	poll   time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

func NewRedisLockRepository(client *redis.Client, ttl time.Duration) *RedisLockRepository {
	return &RedisLockRepository{
		client: client,
		ttl:    ttl,
		renew:  ttl / 3,
		poll:   defaultLockPoll,
	}
}

// Acquire blocks until the lock is taken or ctx is done. The lock is kept
// alive until released and expires after ttl if the holder dies.
func (r *RedisLockRepository) Acquire(ctx context.Context, key string) (func(), error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return r.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s is busy: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *RedisLockRepository) releaser(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		})
	}
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (r *RedisLockRepository) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if r.renew <= 0 {
		<-stop
		return
	}

	ticker := time.NewTicker(r.renew)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.renew)
			n, err := extendScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
			cancel()
			// ключ истек или перехвачен: продлевать больше нечего
			if err == nil && n == 0 {
				<-stop
				return
			}
		}
	}
}

// IsContextError reports whether err comes from the caller's context rather
// than from the lock backend.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

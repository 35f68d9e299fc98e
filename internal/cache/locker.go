package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrLockLost is the cause of a held context once the lock can no longer
	// be vouched for.
	ErrLockLost = errors.New("lock lease lost")
)

// Locker serializes work on a key. Work done under the lock must use the
// returned context, which is canceled with ErrLockLost if the lock ends
// before unlock. The returned func releases the lock and is safe to call more
// than once.
type Locker interface {
	Lock(ctx context.Context, key string) (context.Context, func(), error)
}

type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock returns ctx unchanged; an in-process lock cannot expire under its holder.
func (l *LocalLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}

	var once sync.Once
	return ctx, func() {
		once.Do(func() { <-ch })
	}, nil
}

const lockKeyPrefix = "poos:lock:"

// RedisLocker is a single-instance SET NX lock with a lease, for running more
// than one API replica against the same database. The lease is renewed in the
// background for as long as the lock is held.
type RedisLocker struct {
	client *redis.Client
	lease  time.Duration
	poll   time.Duration
}

func (r *Redis) Locker(lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = 15 * time.Second
	}
	return &RedisLocker{client: r.client, lease: lease, poll: 20 * time.Millisecond}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l *RedisLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
			}
			return nil, nil, err
		}
		if acquired {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	interval := max(l.lease/3, time.Millisecond)

	renew := func() (bool, error) {
		renewCtx, renewCancel := context.WithTimeout(context.Background(), interval)
		defer renewCancel()
		n, err := renewScript.Run(renewCtx, l.client, []string{redisKey}, token, l.lease.Milliseconds()).Int()
		return n == 1, err
	}
	lost := func(err error) {
		log.Warn().Err(err).Str("component", "locker").Str("key", key).Msg("lock released early, aborting holder")
		cancel(err)
	}
	go holdLease(stop, interval, l.lease, renew, lost)

	var once sync.Once
	return held, func() {
		once.Do(func() {
			close(stop)
			cancel(nil)
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer releaseCancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		})
	}, nil
}

// holdLease renews a lease every interval until stop is closed. It calls lost
// once and returns when the key is no longer ours, or when renewals kept
// failing long enough that the lease may already have run out.
func holdLease(stop <-chan struct{}, interval time.Duration, lease time.Duration, renew func() (bool, error), lost func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	renewedAt := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ok, err := renew()
		switch {
		case err == nil && ok:
			renewedAt = time.Now()
		case err == nil:
			lost(ErrLockLost)
			return
		case time.Since(renewedAt)+interval >= lease:
			lost(fmt.Errorf("%w: %w", ErrLockLost, err))
			return
		}
	}
}

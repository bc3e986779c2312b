// Package lock implements the distributed lock manager (C3): a Redis
// SET-NX-EX acquire with Lua compare-and-delete release and
// compare-and-expire refresh, plus a Hold helper that owns the full
// acquire/refresh/release lifecycle for scoped callers like the debounce
// scheduler, which runs dispatch while holding the lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"centurion/internal/apperr"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`

const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("expire", KEYS[1], tonumber(ARGV[2]))
end
return 0
`

// ErrEmptyName is returned when a lock name is blank or all-whitespace.
var ErrEmptyName = errors.New("lock name is required")

// Manager is a Redis-backed distributed lock manager.
type Manager struct {
	client  redis.UniversalClient
	prefix  string
	release *redis.Script
	refresh *redis.Script
}

// New wraps a Redis client as a Manager. prefix namespaces lock keys
// ("locks:" when empty).
func New(client redis.UniversalClient, prefix string) *Manager {
	if prefix == "" {
		prefix = "locks:"
	}
	return &Manager{
		client:  client,
		prefix:  prefix,
		release: redis.NewScript(releaseScript),
		refresh: redis.NewScript(refreshScript),
	}
}

func (m *Manager) key(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return m.prefix + name, nil
}

// Acquire sets the lock key if absent with the given TTL, returning a
// unique token the caller must present to Release/Refresh. Returns ("",
// nil) when another holder already has the lock.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	key, err := m.key(name)
	if err != nil {
		return "", err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", apperr.New(apperr.TransientIO, "lock.Acquire", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Release deletes the lock only if it still holds the given token,
// returning whether it actually released it.
func (m *Manager) Release(ctx context.Context, name, token string) (bool, error) {
	key, err := m.key(name)
	if err != nil {
		return false, err
	}
	res, err := m.release.Run(ctx, m.client, []string{key}, token).Int64()
	if err != nil {
		return false, apperr.New(apperr.TransientIO, "lock.Release", err)
	}
	return res != 0, nil
}

// Refresh extends the TTL of a lock only if it still holds the given token.
func (m *Manager) Refresh(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	key, err := m.key(name)
	if err != nil {
		return false, err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	res, err := m.refresh.Run(ctx, m.client, []string{key}, token, fmt.Sprintf("%d", int64(ttl.Seconds()))).Int64()
	if err != nil {
		return false, apperr.New(apperr.TransientIO, "lock.Refresh", err)
	}
	return res != 0, nil
}

// Hold acquires name for ttl and invokes fn only while held, guaranteeing
// release on every exit path. If acquired is false, the lock was already
// held elsewhere and fn is not invoked. When refreshEvery > 0, a background
// goroutine re-extends the TTL until release; refresh errors are swallowed
// since the TTL still bounds the blast radius of a dead refresher.
func (m *Manager) Hold(ctx context.Context, name string, ttl time.Duration, refreshEvery time.Duration, fn func(ctx context.Context) error) (acquired bool, err error) {
	token, err := m.Acquire(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	if refreshEvery > 0 {
		go func() {
			defer close(done)
			ticker := time.NewTicker(refreshEvery)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					_, _ = m.Refresh(ctx, name, token, ttl)
				}
			}
		}()
	} else {
		close(done)
	}

	defer func() {
		close(stop)
		<-done
		_, _ = m.Release(context.WithoutCancel(ctx), name, token)
	}()

	return true, fn(ctx)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"arogyabot/internal/domain"
)

// Registry serializes message handling per identity and hands out the
// identity's current conversation token. Tokens expire after the idle
// window and a fresh one is minted on the next message.
type Registry struct {
	cache TokenCache
	idle  time.Duration

	mu    sync.Mutex
	locks map[string]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry(cache TokenCache, idle time.Duration) *Registry {
	return &Registry{
		cache: cache,
		idle:  idle,
		locks: make(map[string]*identityLock),
	}
}

// Acquire takes the identity's lock and returns the release function.
// Messages from the same identity are processed one at a time, other
// identities proceed in parallel.
func (r *Registry) Acquire(identity string) func() {
	r.mu.Lock()
	lock, ok := r.locks[identity]
	if !ok {
		lock = &identityLock{}
		r.locks[identity] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, identity)
		}
		r.mu.Unlock()
	}
}

// Current returns the identity's active session token, minting a new
// one when none exists or the previous conversation went idle. Every
// call refreshes the idle window.
func (r *Registry) Current(ctx context.Context, identity string) (string, error) {
	token, err := r.cache.Get(ctx, identity)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		token = uuid.NewString()
	default:
		return "", fmt.Errorf("cannot look up session token: %w", err)
	}

	if err := r.cache.Set(ctx, identity, token, r.idle); err != nil {
		return "", fmt.Errorf("cannot refresh session token: %w", err)
	}
	return token, nil
}

// Drop discards the identity's token, ending the current conversation.
func (r *Registry) Drop(ctx context.Context, identity string) error {
	return r.cache.Delete(ctx, identity)
}

package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquire_SerializesSameIdentity(t *testing.T) {
	r := NewRegistry(NewMemoryCache(), time.Minute)

	var mu sync.Mutex
	var order []int
	release := r.Acquire("alice")

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		rel := r.Acquire("alice")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		rel()
		close(done)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded")
	}

	if order[0] != 1 || order[1] != 2 {
		t.Fatalf("holder must finish before waiter, got %v", order)
	}
}

func TestAcquire_IndependentIdentitiesDoNotBlock(t *testing.T) {
	r := NewRegistry(NewMemoryCache(), time.Minute)

	release := r.Acquire("alice")
	defer release()

	done := make(chan struct{})
	go func() {
		rel := r.Acquire("bob")
		rel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different identity blocked by alice's lock")
	}
}

func TestCurrent_ReusesTokenWithinIdleWindow(t *testing.T) {
	r := NewRegistry(NewMemoryCache(), time.Minute)
	ctx := context.Background()

	first, err := r.Current(ctx, "alice")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if first == "" {
		t.Fatal("empty token")
	}

	second, err := r.Current(ctx, "alice")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if second != first {
		t.Fatalf("token changed within idle window: %q vs %q", first, second)
	}

	other, _ := r.Current(ctx, "bob")
	if other == first {
		t.Fatal("identities must not share tokens")
	}
}

func TestCurrent_ReissuesAfterIdleExpiry(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Now()
	cache.now = func() time.Time { return now }
	r := NewRegistry(cache, 30*time.Minute)
	ctx := context.Background()

	first, err := r.Current(ctx, "alice")
	if err != nil {
		t.Fatalf("current: %v", err)
	}

	now = now.Add(31 * time.Minute)

	second, err := r.Current(ctx, "alice")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if second == first {
		t.Fatal("idle conversation must get a fresh token")
	}
}

func TestDrop_EndsConversation(t *testing.T) {
	r := NewRegistry(NewMemoryCache(), time.Minute)
	ctx := context.Background()

	first, _ := r.Current(ctx, "alice")
	if err := r.Drop(ctx, "alice"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	second, _ := r.Current(ctx, "alice")
	if second == first {
		t.Fatal("dropped token must not be reused")
	}
}

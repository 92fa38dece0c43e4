package oauth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kuitang/project-os/internal/testdb"
)

func newPendingStoreForTest(t *testing.T) *PendingStore {
	t.Helper()
	return NewPendingStore(testdb.New(t))
}

func TestPendingStore_ConsumeOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newPendingStoreForTest(t)

	p := PendingAuthorization{
		State:        "state-1",
		CodeVerifier: "verifier-1",
		UserID:       "user-1",
		Provider:     ProviderGranola,
		ReturnPath:   "/projects/42",
	}
	if err := store.Store(ctx, p); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, ok, err := store.Consume(ctx, "state-1")
	if err != nil || !ok {
		t.Fatalf("first Consume: ok=%v err=%v", ok, err)
	}
	if got.CodeVerifier != "verifier-1" || got.UserID != "user-1" || got.Provider != ProviderGranola || got.ReturnPath != "/projects/42" {
		t.Fatalf("consumed record mismatch: %+v", got)
	}

	_, ok, err = store.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("second Consume errored: %v", err)
	}
	if ok {
		t.Fatal("second Consume returned a record; state must be one-shot")
	}
}

func TestPendingStore_ConsumeUnknownState(t *testing.T) {
	t.Parallel()
	store := newPendingStoreForTest(t)
	_, ok, err := store.Consume(context.Background(), "never-stored")
	if err != nil {
		t.Fatalf("Consume errored: %v", err)
	}
	if ok {
		t.Fatal("unknown state returned a record")
	}
}

func TestPendingStore_ConcurrentConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newPendingStoreForTest(t)

	if err := store.Store(ctx, PendingAuthorization{
		State:        "race-state",
		CodeVerifier: "v",
		UserID:       "user-1",
		Provider:     ProviderGranola,
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Consume(ctx, "race-state")
			if err != nil {
				t.Errorf("Consume errored: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("exactly one caller should observe the record, got %d", winners.Load())
	}
}

func TestPendingStore_LazyExpiryOnConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newPendingStoreForTest(t)

	now := time.Now()
	store.now = func() time.Time { return now }
	if err := store.Store(ctx, PendingAuthorization{
		State:        "old-state",
		CodeVerifier: "v",
		UserID:       "user-1",
		Provider:     ProviderGranola,
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	store.now = func() time.Time { return now.Add(PendingTTL + time.Minute) }
	_, ok, err := store.Consume(ctx, "old-state")
	if err != nil {
		t.Fatalf("Consume errored: %v", err)
	}
	if ok {
		t.Fatal("expired state must not be redeemable")
	}

	// The expired row is also burned, not just hidden.
	var count int
	if err := store.db.SQL().QueryRow(
		"SELECT COUNT(*) FROM pending_authorizations WHERE state = 'old-state'").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 0 {
		t.Fatal("expired row should be deleted on consume")
	}
}

func TestPendingStore_DeleteExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newPendingStoreForTest(t)

	now := time.Now()
	store.now = func() time.Time { return now }
	for _, state := range []string{"old-1", "old-2"} {
		if err := store.Store(ctx, PendingAuthorization{
			State: state, CodeVerifier: "v", UserID: "u", Provider: ProviderGranola,
		}); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	store.now = func() time.Time { return now.Add(PendingTTL + time.Second) }
	if err := store.Store(ctx, PendingAuthorization{
		State: "fresh", CodeVerifier: "v", UserID: "u", Provider: ProviderGranola,
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	n, err := store.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d rows, want 2", n)
	}

	_, ok, err := store.Consume(ctx, "fresh")
	if err != nil || !ok {
		t.Fatalf("fresh state should survive sweep: ok=%v err=%v", ok, err)
	}
}

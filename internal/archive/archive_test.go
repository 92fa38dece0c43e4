package archive

import (
	"context"
	"errors"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := TestStore(t, "transcripts-test")

	key, err := store.Archive(ctx, "user-1", "meeting-1", "Alice: hi\nBob: hello")
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if key != "transcripts/user-1/meeting-1.txt" {
		t.Fatalf("key = %q", key)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "Alice: hi\nBob: hello" {
		t.Fatalf("content = %q", data)
	}
}

func TestArchiveOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := TestStore(t, "transcripts-test")

	if _, err := store.Archive(ctx, "user-1", "meeting-1", "first"); err != nil {
		t.Fatalf("first Archive failed: %v", err)
	}
	key, err := store.Archive(ctx, "user-1", "meeting-1", "second")
	if err != nil {
		t.Fatalf("second Archive failed: %v", err)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("re-archive did not overwrite: %q", data)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	store := TestStore(t, "transcripts-test")

	_, err := store.Get(context.Background(), "transcripts/ghost/ghost.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := TestStore(t, "transcripts-test")

	key, err := store.Archive(ctx, "user-1", "meeting-1", "content")
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted object still readable: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("deleting a missing key errored: %v", err)
	}
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type stubStore struct {
	snapshot      domain.Snapshot
	boards        []domain.Board
	snapshotCalls int
	boardsCalls   int
	batchErr      error
	batchCalls    int
}

func (s *stubStore) InsertBoard(ctx context.Context, b domain.Board) error { return nil }

func (s *stubStore) BoardMeta(ctx context.Context, boardID string) (domain.Board, error) {
	return s.snapshot.Board, nil
}

func (s *stubStore) BoardSnapshot(ctx context.Context, boardID string) (domain.Snapshot, error) {
	s.snapshotCalls++
	return s.snapshot, nil
}

func (s *stubStore) OwnerBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	s.boardsCalls++
	return s.boards, nil
}

func (s *stubStore) RenameBoard(ctx context.Context, boardID, title string) error { return nil }

func (s *stubStore) DeleteBoardTree(ctx context.Context, b domain.Board) error { return nil }

func (s *stubStore) ResolveRef(ctx context.Context, entityID string) (domain.Ref, error) {
	return domain.Ref{}, domain.ErrNotFound
}

func (s *stubStore) ApplyBatch(ctx context.Context, boardID string, batch domain.Batch) error {
	s.batchCalls++
	return s.batchErr
}

func newTestCache(t *testing.T, base domain.Store) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(base, client, time.Minute), mr
}

func sampleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Board:   domain.Board{ID: "b1", OwnerID: "u1", Title: "Project", CreatedAt: time.Unix(1735689600, 0).UTC()},
		Version: "W/\"0\"",
		Lists: []domain.VersionedList{
			{List: domain.List{ID: "l1", BoardID: "b1", Title: "Todo", Position: 0}, Versioned: domain.Versioned{ETag: "W/\"1\""}},
		},
		Cards: []domain.VersionedCard{
			{Card: domain.Card{ID: "c1", ListID: "l1", Title: "Fix", Position: 0}, Versioned: domain.Versioned{ETag: "W/\"2\""}},
		},
	}
}

func TestCacheSnapshotRoundTrip(t *testing.T) {
	base := &stubStore{snapshot: sampleSnapshot()}
	cache, _ := newTestCache(t, base)
	ctx := context.Background()

	first, err := cache.BoardSnapshot(ctx, "b1")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := cache.BoardSnapshot(ctx, "b1")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if base.snapshotCalls != 1 {
		t.Fatalf("backing store hit %d times, want 1", base.snapshotCalls)
	}
	if second.Board.OwnerID != first.Board.OwnerID || second.Board.OwnerID != "u1" {
		t.Fatalf("owner id lost in cache: %+v", second.Board)
	}
	if second.Version != "W/\"0\"" {
		t.Fatalf("board version token lost: %q", second.Version)
	}
	if len(second.Lists) != 1 || second.Lists[0].ETag != "W/\"1\"" {
		t.Fatalf("list version token lost: %+v", second.Lists)
	}
	if len(second.Cards) != 1 || second.Cards[0].ETag != "W/\"2\"" {
		t.Fatalf("card version token lost: %+v", second.Cards)
	}
}

func TestCacheApplyBatchEvictsBeforeWrite(t *testing.T) {
	base := &stubStore{snapshot: sampleSnapshot(), batchErr: domain.ErrConcurrencyConflict}
	cache, mr := newTestCache(t, base)
	ctx := context.Background()

	if _, err := cache.BoardSnapshot(ctx, "b1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if !mr.Exists("board:b1") {
		t.Fatal("snapshot not cached")
	}
	if err := cache.ApplyBatch(ctx, "b1", domain.Batch{InsertLists: []domain.List{{ID: "x"}}}); err != domain.ErrConcurrencyConflict {
		t.Fatalf("want conflict passthrough, got %v", err)
	}
	// Even a failed batch must leave no stale snapshot behind.
	if mr.Exists("board:b1") {
		t.Fatal("stale snapshot survived a conflicted batch")
	}
	if _, err := cache.BoardSnapshot(ctx, "b1"); err != nil {
		t.Fatalf("reread: %v", err)
	}
	if base.snapshotCalls != 2 {
		t.Fatalf("retry read served from cache; store hit %d times", base.snapshotCalls)
	}
}

func TestCacheOwnerBoards(t *testing.T) {
	base := &stubStore{boards: []domain.Board{{ID: "b1", OwnerID: "u1", Title: "One"}}}
	cache, _ := newTestCache(t, base)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		boards, err := cache.OwnerBoards(ctx, "u1")
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(boards) != 1 || boards[0].OwnerID != "u1" {
			t.Fatalf("read %d: %+v", i, boards)
		}
	}
	if base.boardsCalls != 1 {
		t.Fatalf("backing store hit %d times, want 1", base.boardsCalls)
	}
}

func TestCacheInsertBoardEvictsListing(t *testing.T) {
	base := &stubStore{boards: []domain.Board{{ID: "b1", OwnerID: "u1"}}}
	cache, mr := newTestCache(t, base)
	ctx := context.Background()

	if _, err := cache.OwnerBoards(ctx, "u1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if !mr.Exists("boards:u1") {
		t.Fatal("listing not cached")
	}
	if err := cache.InsertBoard(ctx, domain.Board{ID: "b2", OwnerID: "u1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if mr.Exists("boards:u1") {
		t.Fatal("listing not evicted after insert")
	}
}

func TestCacheDisabledWithoutRedis(t *testing.T) {
	base := &stubStore{snapshot: sampleSnapshot()}
	cache := NewCache(base, nil, time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := cache.BoardSnapshot(ctx, "b1"); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if base.snapshotCalls != 2 {
		t.Fatalf("nil client must pass through, store hit %d times", base.snapshotCalls)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	base := &stubStore{snapshot: sampleSnapshot()}
	cache, mr := newTestCache(t, base)
	ctx := context.Background()

	mr.Set("board:b1", "not json")
	snap, err := cache.BoardSnapshot(ctx, "b1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.Board.ID != "b1" {
		t.Fatalf("fallback read broken: %+v", snap.Board)
	}
	if base.snapshotCalls != 1 {
		t.Fatalf("store hit %d times, want 1", base.snapshotCalls)
	}
}

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

// Cache wraps a Store with Redis-backed caching for the two hot reads:
// board snapshots and per-owner board listings. Snapshots are cached with
// their version tokens; any mutation against a board evicts its snapshot
// before touching the backing store, so a conflicted retry always re-reads
// fresh data.
type Cache struct {
	base  domain.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client
// and TTL. A nil client or zero TTL disables caching.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// Cache wire formats: domain types hide owner ids and version tokens from
// API responses, so snapshots round-trip through explicit envelopes.

type cachedBoard struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type cachedList struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	ETag     string `json:"etag"`
}

type cachedCard struct {
	ID       string `json:"id"`
	ListID   string `json:"listId"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Position int    `json:"position"`
	ETag     string `json:"etag"`
}

type cachedSnapshot struct {
	Board   cachedBoard  `json:"board"`
	Version string       `json:"version"`
	Lists   []cachedList `json:"lists"`
	Cards   []cachedCard `json:"cards"`
}

func (c *Cache) InsertBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.InsertBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardsCacheKey(b.OwnerID))
	return nil
}

func (c *Cache) BoardMeta(ctx context.Context, boardID string) (domain.Board, error) {
	return c.base.BoardMeta(ctx, boardID)
}

func (c *Cache) BoardSnapshot(ctx context.Context, boardID string) (domain.Snapshot, error) {
	if snap, ok := c.loadSnapshot(ctx, boardID); ok {
		return snap, nil
	}
	snap, err := c.base.BoardSnapshot(ctx, boardID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	c.storeSnapshot(ctx, boardID, snap)
	return snap, nil
}

func (c *Cache) OwnerBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	if boards, ok := c.loadBoards(ctx, ownerID); ok {
		return boards, nil
	}
	boards, err := c.base.OwnerBoards(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.storeBoards(ctx, ownerID, boards)
	return boards, nil
}

func (c *Cache) RenameBoard(ctx context.Context, boardID, title string) error {
	meta, err := c.base.BoardMeta(ctx, boardID)
	if err != nil {
		return err
	}
	if err := c.base.RenameBoard(ctx, boardID, title); err != nil {
		return err
	}
	c.evict(ctx, snapshotCacheKey(boardID), boardsCacheKey(meta.OwnerID))
	return nil
}

func (c *Cache) DeleteBoardTree(ctx context.Context, b domain.Board) error {
	c.evict(ctx, snapshotCacheKey(b.ID), boardsCacheKey(b.OwnerID))
	return c.base.DeleteBoardTree(ctx, b)
}

func (c *Cache) ResolveRef(ctx context.Context, entityID string) (domain.Ref, error) {
	return c.base.ResolveRef(ctx, entityID)
}

func (c *Cache) ApplyBatch(ctx context.Context, boardID string, batch domain.Batch) error {
	// Evict before the write: a batch built from a stale cached snapshot
	// fails its version checks, and the retry must read through.
	c.evict(ctx, snapshotCacheKey(boardID))
	if err := c.base.ApplyBatch(ctx, boardID, batch); err != nil {
		return err
	}
	c.evict(ctx, snapshotCacheKey(boardID))
	return nil
}

func (c *Cache) loadSnapshot(ctx context.Context, boardID string) (domain.Snapshot, bool) {
	if c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		}
		return domain.Snapshot{}, false
	}
	var env cachedSnapshot
	if err := json.Unmarshal(data, &env); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		return domain.Snapshot{}, false
	}
	snap := domain.Snapshot{
		Board: domain.Board{
			ID:        env.Board.ID,
			OwnerID:   env.Board.OwnerID,
			Title:     env.Board.Title,
			CreatedAt: env.Board.CreatedAt,
		},
		Version: env.Version,
	}
	for _, l := range env.Lists {
		snap.Lists = append(snap.Lists, domain.VersionedList{
			List:      domain.List{ID: l.ID, BoardID: env.Board.ID, Title: l.Title, Position: l.Position},
			Versioned: domain.Versioned{ETag: l.ETag},
		})
	}
	for _, card := range env.Cards {
		snap.Cards = append(snap.Cards, domain.VersionedCard{
			Card:      domain.Card{ID: card.ID, ListID: card.ListID, Title: card.Title, Body: card.Body, Position: card.Position},
			Versioned: domain.Versioned{ETag: card.ETag},
		})
	}
	return snap, true
}

func (c *Cache) storeSnapshot(ctx context.Context, boardID string, snap domain.Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	env := cachedSnapshot{
		Board: cachedBoard{
			ID:        snap.Board.ID,
			OwnerID:   snap.Board.OwnerID,
			Title:     snap.Board.Title,
			CreatedAt: snap.Board.CreatedAt,
		},
		Version: snap.Version,
	}
	for _, l := range snap.Lists {
		env.Lists = append(env.Lists, cachedList{ID: l.ID, Title: l.Title, Position: l.Position, ETag: l.ETag})
	}
	for _, card := range snap.Cards {
		env.Cards = append(env.Cards, cachedCard{ID: card.ID, ListID: card.ListID, Title: card.Title, Body: card.Body, Position: card.Position, ETag: card.ETag})
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) loadBoards(ctx context.Context, ownerID string) ([]domain.Board, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardsCacheKey(ownerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, boardsCacheKey(ownerID)).Err()
		}
		return nil, false
	}
	var env []cachedBoard
	if err := json.Unmarshal(data, &env); err != nil {
		_ = c.redis.Del(ctx, boardsCacheKey(ownerID)).Err()
		return nil, false
	}
	boards := make([]domain.Board, 0, len(env))
	for _, b := range env {
		boards = append(boards, domain.Board{ID: b.ID, OwnerID: b.OwnerID, Title: b.Title, CreatedAt: b.CreatedAt})
	}
	return boards, true
}

func (c *Cache) storeBoards(ctx context.Context, ownerID string, boards []domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	env := make([]cachedBoard, 0, len(boards))
	for _, b := range boards {
		env = append(env, cachedBoard{ID: b.ID, OwnerID: b.OwnerID, Title: b.Title, CreatedAt: b.CreatedAt})
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardsCacheKey(ownerID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func snapshotCacheKey(boardID string) string {
	return "board:" + boardID
}

func boardsCacheKey(ownerID string) string {
	return "boards:" + ownerID
}

package domain

import "context"

// Versioned carries the storage concurrency token for an entity read from
// the store. Implementations reject batch writes whose token is stale.
type Versioned struct {
	ETag string `json:"-"`
}

// VersionedList pairs a list with its concurrency token.
type VersionedList struct {
	List
	Versioned
}

// VersionedCard pairs a card with its concurrency token.
type VersionedCard struct {
	Card
	Versioned
}

// Snapshot is one board partition as read for a mutation: every list and
// card with its version token, unordered. Version is the board's own
// concurrency token; every batch planned from the snapshot is anchored on
// it, so per-entity ETags alone never decide a commit.
type Snapshot struct {
	Board   Board
	Version string
	Lists   []VersionedList
	Cards   []VersionedCard
}

// Batch is one atomic mutation against a single board partition. Inserts,
// updates and deletes are applied together or not at all. Base carries the
// board version the batch was planned against; implementations verify it
// and advance it atomically with the rest of the batch, so two writers that
// read the same snapshot cannot both commit — even when their row sets are
// disjoint, as with concurrent inserts. Implementations return
// ErrConcurrencyConflict when any check fails.
type Batch struct {
	Base        string
	InsertLists []List
	UpdateLists []VersionedList
	DeleteLists []VersionedList
	InsertCards []Card
	UpdateCards []VersionedCard
	DeleteCards []VersionedCard
}

// Empty reports whether the batch carries no operations.
func (b Batch) Empty() bool {
	return len(b.InsertLists) == 0 && len(b.UpdateLists) == 0 && len(b.DeleteLists) == 0 &&
		len(b.InsertCards) == 0 && len(b.UpdateCards) == 0 && len(b.DeleteCards) == 0
}

// Store abstracts the document store underneath the hierarchy. One board is
// one partition; ApplyBatch must be atomic within it. Lookups return
// ErrNotFound for unknown ids.
type Store interface {
	InsertBoard(ctx context.Context, b Board) error
	BoardMeta(ctx context.Context, boardID string) (Board, error)
	BoardSnapshot(ctx context.Context, boardID string) (Snapshot, error)
	OwnerBoards(ctx context.Context, ownerID string) ([]Board, error)
	RenameBoard(ctx context.Context, boardID, title string) error
	// DeleteBoardTree removes the board and everything under it. The board
	// must become unreachable before any child rows disappear.
	DeleteBoardTree(ctx context.Context, b Board) error
	// ResolveRef maps a bare list or card id to its owning board.
	ResolveRef(ctx context.Context, entityID string) (Ref, error)
	ApplyBatch(ctx context.Context, boardID string, batch Batch) error
}

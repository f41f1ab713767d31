package domain

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// fakeStore is an in-memory Store with the same atomicity and versioning
// behaviour as the table-backed one: batches apply all-or-nothing and
// reject stale version tokens.
type fakeStore struct {
	boards    map[string]Board
	boardTags map[string]string
	lists     map[string]map[string]VersionedList
	cards     map[string]map[string]VersionedCard
	refs      map[string]Ref

	version     int
	failBatches int
	batchCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		boards:    map[string]Board{},
		boardTags: map[string]string{},
		lists:     map[string]map[string]VersionedList{},
		cards:     map[string]map[string]VersionedCard{},
		refs:      map[string]Ref{},
	}
}

func (f *fakeStore) nextETag() string {
	f.version++
	return strconv.Itoa(f.version)
}

func (f *fakeStore) InsertBoard(ctx context.Context, b Board) error {
	if _, exists := f.boards[b.ID]; exists {
		return fmt.Errorf("board %s already exists", b.ID)
	}
	f.boards[b.ID] = b
	f.boardTags[b.ID] = f.nextETag()
	f.lists[b.ID] = map[string]VersionedList{}
	f.cards[b.ID] = map[string]VersionedCard{}
	return nil
}

func (f *fakeStore) BoardMeta(ctx context.Context, boardID string) (Board, error) {
	b, ok := f.boards[boardID]
	if !ok {
		return Board{}, ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) BoardSnapshot(ctx context.Context, boardID string) (Snapshot, error) {
	b, ok := f.boards[boardID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap := Snapshot{Board: b, Version: f.boardTags[boardID]}
	for _, l := range f.lists[boardID] {
		snap.Lists = append(snap.Lists, l)
	}
	for _, c := range f.cards[boardID] {
		snap.Cards = append(snap.Cards, c)
	}
	return snap, nil
}

func (f *fakeStore) OwnerBoards(ctx context.Context, ownerID string) ([]Board, error) {
	var out []Board
	for _, b := range f.boards {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) RenameBoard(ctx context.Context, boardID, title string) error {
	b, ok := f.boards[boardID]
	if !ok {
		return ErrNotFound
	}
	b.Title = title
	f.boards[boardID] = b
	f.boardTags[boardID] = f.nextETag()
	return nil
}

func (f *fakeStore) DeleteBoardTree(ctx context.Context, b Board) error {
	if _, ok := f.boards[b.ID]; !ok {
		return ErrNotFound
	}
	delete(f.boards, b.ID)
	delete(f.boardTags, b.ID)
	for id := range f.lists[b.ID] {
		delete(f.refs, id)
	}
	for id := range f.cards[b.ID] {
		delete(f.refs, id)
	}
	delete(f.lists, b.ID)
	delete(f.cards, b.ID)
	return nil
}

func (f *fakeStore) ResolveRef(ctx context.Context, entityID string) (Ref, error) {
	ref, ok := f.refs[entityID]
	if !ok {
		return Ref{}, ErrNotFound
	}
	return ref, nil
}

func (f *fakeStore) ApplyBatch(ctx context.Context, boardID string, batch Batch) error {
	f.batchCalls++
	if f.failBatches > 0 {
		f.failBatches--
		return ErrConcurrencyConflict
	}
	lists, ok := f.lists[boardID]
	if !ok {
		return ErrNotFound
	}
	cards := f.cards[boardID]

	// Version checks before any write so failed batches change nothing.
	// The board tag check mirrors the meta-row anchor: a batch planned
	// against a superseded snapshot fails even if it only inserts.
	if batch.Base != f.boardTags[boardID] {
		return ErrConcurrencyConflict
	}
	for _, l := range batch.UpdateLists {
		cur, ok := lists[l.ID]
		if !ok || cur.ETag != l.ETag {
			return ErrConcurrencyConflict
		}
	}
	for _, l := range batch.DeleteLists {
		cur, ok := lists[l.ID]
		if !ok || cur.ETag != l.ETag {
			return ErrConcurrencyConflict
		}
	}
	for _, c := range batch.UpdateCards {
		cur, ok := cards[c.ID]
		if !ok || cur.ETag != c.ETag {
			return ErrConcurrencyConflict
		}
	}
	for _, c := range batch.DeleteCards {
		cur, ok := cards[c.ID]
		if !ok || cur.ETag != c.ETag {
			return ErrConcurrencyConflict
		}
	}

	for _, l := range batch.InsertLists {
		lists[l.ID] = VersionedList{List: l, Versioned: Versioned{ETag: f.nextETag()}}
		f.refs[l.ID] = Ref{EntityID: l.ID, BoardID: boardID, Kind: KindList}
	}
	for _, l := range batch.UpdateLists {
		l.Versioned = Versioned{ETag: f.nextETag()}
		lists[l.ID] = l
	}
	for _, l := range batch.DeleteLists {
		delete(lists, l.ID)
		delete(f.refs, l.ID)
	}
	for _, c := range batch.InsertCards {
		cards[c.ID] = VersionedCard{Card: c, Versioned: Versioned{ETag: f.nextETag()}}
		f.refs[c.ID] = Ref{EntityID: c.ID, BoardID: boardID, Kind: KindCard}
	}
	for _, c := range batch.UpdateCards {
		c.Versioned = Versioned{ETag: f.nextETag()}
		cards[c.ID] = c
	}
	for _, c := range batch.DeleteCards {
		delete(cards, c.ID)
		delete(f.refs, c.ID)
	}
	f.boardTags[boardID] = f.nextETag()
	return nil
}

package domain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// A sibling set is capped so every renumbering fits a single storage
	// transaction (Azure table batches max out at 100 actions).
	defaultMaxSiblings = 64
	defaultRetries     = 3
)

// Hierarchy is the single authority for board/list/card state transitions.
// Every structural mutation reads one board partition, plans a dense
// renumbering in memory and submits it as one version-checked batch; stale
// reads are retried transparently.
type Hierarchy struct {
	store       Store
	maxSiblings int
	retries     int
}

func NewHierarchy(store Store) *Hierarchy {
	return &Hierarchy{store: store, maxSiblings: defaultMaxSiblings, retries: defaultRetries}
}

// CreateBoard creates an empty board for owner.
func (h *Hierarchy) CreateBoard(ctx context.Context, ownerID, title string) (Board, error) {
	b := Board{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.InsertBoard(ctx, b); err != nil {
		return Board{}, err
	}
	return b, nil
}

// Boards lists the boards owned by ownerID.
func (h *Hierarchy) Boards(ctx context.Context, ownerID string) ([]Board, error) {
	return h.store.OwnerBoards(ctx, ownerID)
}

// Board returns the full tree snapshot of one board, lists and cards ordered
// by position.
func (h *Hierarchy) Board(ctx context.Context, boardID string) (BoardTree, error) {
	snap, err := h.store.BoardSnapshot(ctx, boardID)
	if err != nil {
		return BoardTree{}, err
	}
	return treeFromSnapshot(snap), nil
}

// RenameBoard updates the board title.
func (h *Hierarchy) RenameBoard(ctx context.Context, boardID, title string) error {
	return h.store.RenameBoard(ctx, boardID, title)
}

// DeleteBoard removes the board and cascades to every list and card in it.
func (h *Hierarchy) DeleteBoard(ctx context.Context, boardID string) error {
	meta, err := h.store.BoardMeta(ctx, boardID)
	if err != nil {
		return err
	}
	return h.store.DeleteBoardTree(ctx, meta)
}

// CreateList appends a list at the end of the board's ordering.
func (h *Hierarchy) CreateList(ctx context.Context, boardID, title string) (List, error) {
	var created List
	err := h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, boardID)
		if err != nil {
			return err
		}
		lists := orderedLists(snap)
		if len(lists) >= h.maxSiblings {
			return ErrLimitExceeded
		}
		created = List{
			ID:       uuid.NewString(),
			BoardID:  boardID,
			Title:    title,
			Position: len(lists),
		}
		return h.store.ApplyBatch(ctx, boardID, Batch{Base: snap.Version, InsertLists: []List{created}})
	})
	if err != nil {
		return List{}, err
	}
	return created, nil
}

// RenameList updates the list title, leaving its position untouched.
func (h *Hierarchy) RenameList(ctx context.Context, listID, title string) error {
	ref, err := h.resolve(ctx, listID, KindList)
	if err != nil {
		return err
	}
	return h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		l, ok := findList(snap, listID)
		if !ok {
			return ErrNotFound
		}
		l.Title = title
		return h.store.ApplyBatch(ctx, ref.BoardID, Batch{Base: snap.Version, UpdateLists: []VersionedList{l}})
	})
}

// MoveList relocates a list within its board. The target position is
// clamped to the valid range; moving to the current position is a no-op.
func (h *Hierarchy) MoveList(ctx context.Context, boardID, listID string, target int) error {
	return h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, boardID)
		if err != nil {
			return err
		}
		lists := orderedLists(snap)
		ids := listIDs(lists)
		if indexOf(ids, listID) < 0 {
			return ErrNotFound
		}
		changes := planMove(ids, listID, target)
		if len(changes) == 0 {
			return nil
		}
		batch := Batch{Base: snap.Version, UpdateLists: applyListChanges(lists, changes)}
		return h.store.ApplyBatch(ctx, boardID, batch)
	})
}

// DeleteList removes a list, cascades to its cards and recompacts the
// surviving list positions.
func (h *Hierarchy) DeleteList(ctx context.Context, listID string) error {
	ref, err := h.resolve(ctx, listID, KindList)
	if err != nil {
		return err
	}
	return h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		victim, ok := findList(snap, listID)
		if !ok {
			return ErrNotFound
		}
		lists := orderedLists(snap)
		batch := Batch{
			Base:        snap.Version,
			DeleteLists: []VersionedList{victim},
			DeleteCards: cardsOfList(snap, listID),
			UpdateLists: applyListChanges(lists, planRemove(listIDs(lists), listID)),
		}
		return h.store.ApplyBatch(ctx, ref.BoardID, batch)
	})
}

// CreateCard appends a card at the end of the list's ordering.
func (h *Hierarchy) CreateCard(ctx context.Context, listID, title, body string) (Card, error) {
	ref, err := h.resolve(ctx, listID, KindList)
	if err != nil {
		return Card{}, err
	}
	var created Card
	err = h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		if _, ok := findList(snap, listID); !ok {
			return ErrNotFound
		}
		cards := cardsOfList(snap, listID)
		if len(cards) >= h.maxSiblings {
			return ErrLimitExceeded
		}
		created = Card{
			ID:       uuid.NewString(),
			ListID:   listID,
			Title:    title,
			Body:     body,
			Position: len(cards),
		}
		return h.store.ApplyBatch(ctx, ref.BoardID, Batch{Base: snap.Version, InsertCards: []Card{created}})
	})
	if err != nil {
		return Card{}, err
	}
	return created, nil
}

// UpdateCard overwrites the card title and/or body. Nil fields are left as
// they are.
func (h *Hierarchy) UpdateCard(ctx context.Context, cardID string, title, body *string) error {
	ref, err := h.resolve(ctx, cardID, KindCard)
	if err != nil {
		return err
	}
	return h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		c, ok := findCard(snap, cardID)
		if !ok {
			return ErrNotFound
		}
		if title != nil {
			c.Title = *title
		}
		if body != nil {
			c.Body = *body
		}
		return h.store.ApplyBatch(ctx, ref.BoardID, Batch{Base: snap.Version, UpdateCards: []VersionedCard{c}})
	})
}

// MoveCard relocates a card inside its list or into another list of the
// same board. Cross-board targets are rejected with ErrCrossBoardMove.
func (h *Hierarchy) MoveCard(ctx context.Context, cardID, targetListID string, target int) error {
	cardRef, err := h.resolve(ctx, cardID, KindCard)
	if err != nil {
		return err
	}
	listRef, err := h.resolve(ctx, targetListID, KindList)
	if err != nil {
		return err
	}
	if cardRef.BoardID != listRef.BoardID {
		return ErrCrossBoardMove
	}
	return h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, cardRef.BoardID)
		if err != nil {
			return err
		}
		card, ok := findCard(snap, cardID)
		if !ok {
			return ErrNotFound
		}
		if _, ok := findList(snap, targetListID); !ok {
			return ErrNotFound
		}
		if card.ListID == targetListID {
			cards := cardsOfList(snap, targetListID)
			changes := planMove(cardIDs(cards), cardID, target)
			if len(changes) == 0 {
				return nil
			}
			return h.store.ApplyBatch(ctx, cardRef.BoardID, Batch{
				Base:        snap.Version,
				UpdateCards: applyCardChanges(cards, changes),
			})
		}

		source := cardsOfList(snap, card.ListID)
		dest := cardsOfList(snap, targetListID)
		if len(dest) >= h.maxSiblings {
			return ErrLimitExceeded
		}
		pos, destChanges := planInsert(cardIDs(dest), cardID, target)
		card.ListID = targetListID
		card.Position = pos
		updates := []VersionedCard{card}
		updates = append(updates, applyCardChanges(source, planRemove(cardIDs(source), cardID))...)
		updates = append(updates, applyCardChanges(dest, destChanges)...)
		return h.store.ApplyBatch(ctx, cardRef.BoardID, Batch{Base: snap.Version, UpdateCards: updates})
	})
}

// DeleteCard removes a card and recompacts its list's ordering.
func (h *Hierarchy) DeleteCard(ctx context.Context, cardID string) error {
	ref, err := h.resolve(ctx, cardID, KindCard)
	if err != nil {
		return err
	}
	return h.withRetry(ctx, func() error {
		snap, err := h.store.BoardSnapshot(ctx, ref.BoardID)
		if err != nil {
			return err
		}
		victim, ok := findCard(snap, cardID)
		if !ok {
			return ErrNotFound
		}
		cards := cardsOfList(snap, victim.ListID)
		batch := Batch{
			Base:        snap.Version,
			DeleteCards: []VersionedCard{victim},
			UpdateCards: applyCardChanges(cards, planRemove(cardIDs(cards), cardID)),
		}
		return h.store.ApplyBatch(ctx, ref.BoardID, batch)
	})
}

func (h *Hierarchy) resolve(ctx context.Context, entityID string, kind EntityKind) (Ref, error) {
	ref, err := h.store.ResolveRef(ctx, entityID)
	if err != nil {
		return Ref{}, err
	}
	if ref.Kind != kind {
		return Ref{}, ErrNotFound
	}
	return ref, nil
}

// withRetry re-runs fn while the store keeps reporting version conflicts,
// then gives up with ErrConflict.
func (h *Hierarchy) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= h.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return ErrConflict
}

func orderedLists(snap Snapshot) []VersionedList {
	lists := make([]VersionedList, len(snap.Lists))
	copy(lists, snap.Lists)
	sort.Slice(lists, func(i, j int) bool {
		if lists[i].Position != lists[j].Position {
			return lists[i].Position < lists[j].Position
		}
		return lists[i].ID < lists[j].ID
	})
	return lists
}

func cardsOfList(snap Snapshot, listID string) []VersionedCard {
	var cards []VersionedCard
	for _, c := range snap.Cards {
		if c.ListID == listID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].Position != cards[j].Position {
			return cards[i].Position < cards[j].Position
		}
		return cards[i].ID < cards[j].ID
	})
	return cards
}

func findList(snap Snapshot, id string) (VersionedList, bool) {
	for _, l := range snap.Lists {
		if l.ID == id {
			return l, true
		}
	}
	return VersionedList{}, false
}

func findCard(snap Snapshot, id string) (VersionedCard, bool) {
	for _, c := range snap.Cards {
		if c.ID == id {
			return c, true
		}
	}
	return VersionedCard{}, false
}

func listIDs(lists []VersionedList) []string {
	ids := make([]string, len(lists))
	for i, l := range lists {
		ids[i] = l.ID
	}
	return ids
}

func cardIDs(cards []VersionedCard) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

func applyListChanges(lists []VersionedList, changes []PosChange) []VersionedList {
	byID := make(map[string]VersionedList, len(lists))
	for _, l := range lists {
		byID[l.ID] = l
	}
	out := make([]VersionedList, 0, len(changes))
	for _, ch := range changes {
		l, ok := byID[ch.ID]
		if !ok {
			continue
		}
		l.Position = ch.Position
		out = append(out, l)
	}
	return out
}

func applyCardChanges(cards []VersionedCard, changes []PosChange) []VersionedCard {
	byID := make(map[string]VersionedCard, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
	}
	out := make([]VersionedCard, 0, len(changes))
	for _, ch := range changes {
		c, ok := byID[ch.ID]
		if !ok {
			continue
		}
		c.Position = ch.Position
		out = append(out, c)
	}
	return out
}

func treeFromSnapshot(snap Snapshot) BoardTree {
	tree := BoardTree{Board: snap.Board, Lists: []ListTree{}}
	for _, l := range orderedLists(snap) {
		lt := ListTree{List: l.List, Cards: []Card{}}
		for _, c := range cardsOfList(snap, l.ID) {
			lt.Cards = append(lt.Cards, c.Card)
		}
		tree.Lists = append(tree.Lists, lt)
	}
	return tree
}

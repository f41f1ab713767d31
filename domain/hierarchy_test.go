package domain

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
)

func assertDense(t *testing.T, f *fakeStore, boardID string) {
	t.Helper()
	snap, err := f.BoardSnapshot(context.Background(), boardID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var listPositions []int
	for _, l := range snap.Lists {
		listPositions = append(listPositions, l.Position)
	}
	assertPermutation(t, "lists", listPositions)
	byList := map[string][]int{}
	for _, c := range snap.Cards {
		byList[c.ListID] = append(byList[c.ListID], c.Position)
	}
	for listID, positions := range byList {
		assertPermutation(t, "cards of "+listID, positions)
	}
}

func assertPermutation(t *testing.T, label string, positions []int) {
	t.Helper()
	sort.Ints(positions)
	for i, p := range positions {
		if p != i {
			t.Fatalf("%s positions not dense: %v", label, positions)
		}
	}
}

func setup(t *testing.T) (*fakeStore, *Hierarchy, Board) {
	t.Helper()
	f := newFakeStore()
	h := NewHierarchy(f)
	b, err := h.CreateBoard(context.Background(), "owner", "project")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return f, h, b
}

func mustList(t *testing.T, h *Hierarchy, boardID, title string) List {
	t.Helper()
	l, err := h.CreateList(context.Background(), boardID, title)
	if err != nil {
		t.Fatalf("create list %s: %v", title, err)
	}
	return l
}

func mustCard(t *testing.T, h *Hierarchy, listID, title string) Card {
	t.Helper()
	c, err := h.CreateCard(context.Background(), listID, title, "")
	if err != nil {
		t.Fatalf("create card %s: %v", title, err)
	}
	return c
}

func orderedListIDs(t *testing.T, h *Hierarchy, boardID string) []string {
	t.Helper()
	tree, err := h.Board(context.Background(), boardID)
	if err != nil {
		t.Fatalf("board tree: %v", err)
	}
	ids := make([]string, len(tree.Lists))
	for i, lt := range tree.Lists {
		if lt.List.Position != i {
			t.Fatalf("list %s at index %d has position %d", lt.List.ID, i, lt.List.Position)
		}
		ids[i] = lt.List.ID
	}
	return ids
}

func orderedCardIDs(t *testing.T, h *Hierarchy, boardID, listID string) []string {
	t.Helper()
	tree, err := h.Board(context.Background(), boardID)
	if err != nil {
		t.Fatalf("board tree: %v", err)
	}
	for _, lt := range tree.Lists {
		if lt.List.ID != listID {
			continue
		}
		ids := make([]string, len(lt.Cards))
		for i, c := range lt.Cards {
			if c.Position != i {
				t.Fatalf("card %s at index %d has position %d", c.ID, i, c.Position)
			}
			ids[i] = c.ID
		}
		return ids
	}
	t.Fatalf("list %s not in tree", listID)
	return nil
}

func TestCreateListAppends(t *testing.T) {
	f, h, b := setup(t)
	l0 := mustList(t, h, b.ID, "todo")
	l1 := mustList(t, h, b.ID, "doing")
	l2 := mustList(t, h, b.ID, "done")
	if l0.Position != 0 || l1.Position != 1 || l2.Position != 2 {
		t.Fatalf("append positions = %d,%d,%d", l0.Position, l1.Position, l2.Position)
	}
	assertDense(t, f, b.ID)
}

func TestCreateListUnknownBoard(t *testing.T) {
	_, h, _ := setup(t)
	if _, err := h.CreateList(context.Background(), "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMoveListToFront(t *testing.T) {
	f, h, b := setup(t)
	l0 := mustList(t, h, b.ID, "L0")
	l1 := mustList(t, h, b.ID, "L1")
	l2 := mustList(t, h, b.ID, "L2")

	if err := h.MoveList(context.Background(), b.ID, l2.ID, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	got := orderedListIDs(t, h, b.ID)
	want := []string{l2.ID, l0.ID, l1.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	assertDense(t, f, b.ID)
}

func TestMoveListToOwnPositionIsNoop(t *testing.T) {
	f, h, b := setup(t)
	mustList(t, h, b.ID, "L0")
	l1 := mustList(t, h, b.ID, "L1")
	before := f.batchCalls
	if err := h.MoveList(context.Background(), b.ID, l1.ID, 1); err != nil {
		t.Fatalf("noop move should succeed: %v", err)
	}
	if f.batchCalls != before {
		t.Fatalf("noop move submitted a batch")
	}
}

func TestMoveListClampsTarget(t *testing.T) {
	_, h, b := setup(t)
	l0 := mustList(t, h, b.ID, "L0")
	mustList(t, h, b.ID, "L1")
	l2 := mustList(t, h, b.ID, "L2")
	if err := h.MoveList(context.Background(), b.ID, l0.ID, 99); err != nil {
		t.Fatalf("clamped move: %v", err)
	}
	ids := orderedListIDs(t, h, b.ID)
	if ids[2] != l0.ID {
		t.Fatalf("clamped move should land last, order %v (l2=%s)", ids, l2.ID)
	}
}

func TestMoveCardAcrossLists(t *testing.T) {
	f, h, b := setup(t)
	listA := mustList(t, h, b.ID, "A")
	listB := mustList(t, h, b.ID, "B")
	c1 := mustCard(t, h, listA.ID, "c1")
	c2 := mustCard(t, h, listA.ID, "c2")
	c3 := mustCard(t, h, listA.ID, "c3")
	c4 := mustCard(t, h, listB.ID, "c4")

	if err := h.MoveCard(context.Background(), c2.ID, listB.ID, 0); err != nil {
		t.Fatalf("move card: %v", err)
	}
	gotA := orderedCardIDs(t, h, b.ID, listA.ID)
	gotB := orderedCardIDs(t, h, b.ID, listB.ID)
	wantA := []string{c1.ID, c3.ID}
	wantB := []string{c2.ID, c4.ID}
	for i := range wantA {
		if gotA[i] != wantA[i] {
			t.Fatalf("source list = %v, want %v", gotA, wantA)
		}
	}
	for i := range wantB {
		if gotB[i] != wantB[i] {
			t.Fatalf("target list = %v, want %v", gotB, wantB)
		}
	}
	assertDense(t, f, b.ID)
}

func TestMoveCardWithinList(t *testing.T) {
	f, h, b := setup(t)
	l := mustList(t, h, b.ID, "A")
	c1 := mustCard(t, h, l.ID, "c1")
	c2 := mustCard(t, h, l.ID, "c2")
	c3 := mustCard(t, h, l.ID, "c3")
	if err := h.MoveCard(context.Background(), c3.ID, l.ID, 0); err != nil {
		t.Fatalf("move card: %v", err)
	}
	got := orderedCardIDs(t, h, b.ID, l.ID)
	want := []string{c3.ID, c1.ID, c2.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	assertDense(t, f, b.ID)
}

func TestMoveCardAcrossBoardsRejected(t *testing.T) {
	f, h, b := setup(t)
	other, err := h.CreateBoard(context.Background(), "owner", "second")
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	listA := mustList(t, h, b.ID, "A")
	listB := mustList(t, h, other.ID, "B")
	c1 := mustCard(t, h, listA.ID, "c1")
	mustCard(t, h, listB.ID, "c2")

	beforeA := orderedCardIDs(t, h, b.ID, listA.ID)
	beforeB := orderedCardIDs(t, h, other.ID, listB.ID)

	if err := h.MoveCard(context.Background(), c1.ID, listB.ID, 0); !errors.Is(err, ErrCrossBoardMove) {
		t.Fatalf("want ErrCrossBoardMove, got %v", err)
	}

	afterA := orderedCardIDs(t, h, b.ID, listA.ID)
	afterB := orderedCardIDs(t, h, other.ID, listB.ID)
	if len(afterA) != len(beforeA) || len(afterB) != len(beforeB) {
		t.Fatalf("rejected move must leave both orderings unchanged")
	}
	for i := range beforeA {
		if afterA[i] != beforeA[i] {
			t.Fatalf("source ordering changed: %v vs %v", afterA, beforeA)
		}
	}
	for i := range beforeB {
		if afterB[i] != beforeB[i] {
			t.Fatalf("target ordering changed: %v vs %v", afterB, beforeB)
		}
	}
	assertDense(t, f, b.ID)
	assertDense(t, f, other.ID)
}

func TestDeleteListRecompacts(t *testing.T) {
	f, h, b := setup(t)
	l0 := mustList(t, h, b.ID, "L0")
	l1 := mustList(t, h, b.ID, "L1")
	l2 := mustList(t, h, b.ID, "L2")
	mustCard(t, h, l1.ID, "orphan-to-be")

	if err := h.DeleteList(context.Background(), l1.ID); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	got := orderedListIDs(t, h, b.ID)
	want := []string{l0.ID, l2.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	snap, _ := f.BoardSnapshot(context.Background(), b.ID)
	for _, c := range snap.Cards {
		if c.ListID == l1.ID {
			t.Fatalf("card %s survived its list", c.ID)
		}
	}
	if _, err := f.ResolveRef(context.Background(), l1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted list still resolvable")
	}
	assertDense(t, f, b.ID)
}

func TestDeleteCardRecompacts(t *testing.T) {
	f, h, b := setup(t)
	l := mustList(t, h, b.ID, "A")
	c1 := mustCard(t, h, l.ID, "c1")
	c2 := mustCard(t, h, l.ID, "c2")
	c3 := mustCard(t, h, l.ID, "c3")
	if err := h.DeleteCard(context.Background(), c2.ID); err != nil {
		t.Fatalf("delete card: %v", err)
	}
	got := orderedCardIDs(t, h, b.ID, l.ID)
	want := []string{c1.ID, c3.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	assertDense(t, f, b.ID)
}

func TestDeleteBoardCascades(t *testing.T) {
	f, h, b := setup(t)
	l0 := mustList(t, h, b.ID, "L0")
	l1 := mustList(t, h, b.ID, "L1")
	c := mustCard(t, h, l0.ID, "c")

	if err := h.DeleteBoard(context.Background(), b.ID); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if _, err := h.Board(context.Background(), b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("board still readable: %v", err)
	}
	for _, id := range []string{l0.ID, l1.ID, c.ID} {
		if _, err := f.ResolveRef(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("descendant %s survived the cascade", id)
		}
	}
}

func TestDeleteUnknownIDsReturnNotFound(t *testing.T) {
	_, h, b := setup(t)
	ctx := context.Background()
	if err := h.DeleteBoard(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete unknown board: %v", err)
	}
	if err := h.DeleteList(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete unknown list: %v", err)
	}
	if err := h.DeleteCard(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete unknown card: %v", err)
	}
	// A list id is not a card id: kind mismatch reads as absent.
	l := mustList(t, h, b.ID, "L")
	if err := h.DeleteCard(ctx, l.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("kind mismatch should read as absent: %v", err)
	}
}

func TestConflictRetryThenSuccess(t *testing.T) {
	f, h, b := setup(t)
	l0 := mustList(t, h, b.ID, "L0")
	mustList(t, h, b.ID, "L1")

	f.failBatches = 2
	if err := h.MoveList(context.Background(), b.ID, l0.ID, 1); err != nil {
		t.Fatalf("move should succeed after retries: %v", err)
	}
	assertDense(t, f, b.ID)
}

func TestConflictRetriesExhausted(t *testing.T) {
	f, h, b := setup(t)
	l0 := mustList(t, h, b.ID, "L0")
	mustList(t, h, b.ID, "L1")

	f.failBatches = 100
	if err := h.MoveList(context.Background(), b.ID, l0.ID, 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

// interleavingStore sneaks another mutation in between a caller's snapshot
// read and its batch commit, once.
type interleavingStore struct {
	*fakeStore
	interleave func()
}

func (s *interleavingStore) BoardSnapshot(ctx context.Context, boardID string) (Snapshot, error) {
	snap, err := s.fakeStore.BoardSnapshot(ctx, boardID)
	if s.interleave != nil {
		fn := s.interleave
		s.interleave = nil
		fn()
	}
	return snap, err
}

func TestInterleavedCreatesStayDense(t *testing.T) {
	f, inner, b := setup(t)

	outer := &interleavingStore{fakeStore: f}
	outer.interleave = func() {
		mustList(t, inner, b.ID, "slipped in")
	}
	h := NewHierarchy(outer)

	if _, err := h.CreateList(context.Background(), b.ID, "second"); err != nil {
		t.Fatalf("create after interleave: %v", err)
	}
	ids := orderedListIDs(t, h, b.ID)
	if len(ids) != 2 {
		t.Fatalf("expected both lists committed, got %v", ids)
	}
	assertDense(t, f, b.ID)
	// One batch for the interleaved create, one rejected stale batch, one
	// successful retry.
	if f.batchCalls != 3 {
		t.Fatalf("expected the stale insert to conflict and retry, saw %d batches", f.batchCalls)
	}
}

func TestInterleavedDeleteForcesCreateReplan(t *testing.T) {
	f, inner, b := setup(t)
	l0 := mustList(t, inner, b.ID, "L0")
	mustList(t, inner, b.ID, "L1")

	outer := &interleavingStore{fakeStore: f}
	outer.interleave = func() {
		if err := inner.DeleteList(context.Background(), l0.ID); err != nil {
			t.Fatalf("interleaved delete: %v", err)
		}
	}
	h := NewHierarchy(outer)

	created, err := h.CreateList(context.Background(), b.ID, "L2")
	if err != nil {
		t.Fatalf("create after interleaved delete: %v", err)
	}
	// The first plan appended at index 2; after the delete the dense tail
	// is index 1, and the retry must land there rather than leave a gap.
	if created.Position != 1 {
		t.Fatalf("created list at position %d, want 1", created.Position)
	}
	assertDense(t, f, b.ID)
}

func TestSiblingCap(t *testing.T) {
	f := newFakeStore()
	h := NewHierarchy(f)
	h.maxSiblings = 3
	b, _ := h.CreateBoard(context.Background(), "owner", "tight")
	for i := 0; i < 3; i++ {
		mustList(t, h, b.ID, "L")
	}
	if _, err := h.CreateList(context.Background(), b.ID, "extra"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("want ErrLimitExceeded, got %v", err)
	}
}

// TestRandomOperationSequenceStaysDense drives a random mix of creates,
// moves and deletes and checks the density invariant after every step.
func TestRandomOperationSequenceStaysDense(t *testing.T) {
	f, h, b := setup(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var lists []string
	cardsByList := map[string][]string{}

	for step := 0; step < 300; step++ {
		switch op := rng.Intn(6); {
		case op == 0 || len(lists) == 0:
			l, err := h.CreateList(ctx, b.ID, "list")
			if err != nil {
				t.Fatalf("step %d create list: %v", step, err)
			}
			lists = append(lists, l.ID)
		case op == 1:
			listID := lists[rng.Intn(len(lists))]
			c, err := h.CreateCard(ctx, listID, "card", "")
			if err != nil {
				t.Fatalf("step %d create card: %v", step, err)
			}
			cardsByList[listID] = append(cardsByList[listID], c.ID)
		case op == 2:
			listID := lists[rng.Intn(len(lists))]
			if err := h.MoveList(ctx, b.ID, listID, rng.Intn(len(lists)+2)-1); err != nil {
				t.Fatalf("step %d move list: %v", step, err)
			}
		case op == 3:
			src := lists[rng.Intn(len(lists))]
			if len(cardsByList[src]) == 0 {
				continue
			}
			cardID := cardsByList[src][rng.Intn(len(cardsByList[src]))]
			dst := lists[rng.Intn(len(lists))]
			if err := h.MoveCard(ctx, cardID, dst, rng.Intn(6)); err != nil {
				t.Fatalf("step %d move card: %v", step, err)
			}
			if src != dst {
				cardsByList[src] = remove(cardsByList[src], cardID)
				cardsByList[dst] = append(cardsByList[dst], cardID)
			}
		case op == 4:
			src := lists[rng.Intn(len(lists))]
			if len(cardsByList[src]) == 0 {
				continue
			}
			cardID := cardsByList[src][rng.Intn(len(cardsByList[src]))]
			if err := h.DeleteCard(ctx, cardID); err != nil {
				t.Fatalf("step %d delete card: %v", step, err)
			}
			cardsByList[src] = remove(cardsByList[src], cardID)
		case op == 5:
			if len(lists) < 2 {
				continue
			}
			listID := lists[rng.Intn(len(lists))]
			if err := h.DeleteList(ctx, listID); err != nil {
				t.Fatalf("step %d delete list: %v", step, err)
			}
			lists = remove(lists, listID)
			delete(cardsByList, listID)
		}
		assertDense(t, f, b.ID)
	}
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

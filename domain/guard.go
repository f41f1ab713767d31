package domain

import (
	"context"
	"errors"
)

// Guard authorizes hierarchy access by resolving the board that transitively
// owns a target entity and comparing its owner to the caller. Checks are
// evaluated on every call and never cached across requests.
type Guard struct {
	store Store
}

func NewGuard(store Store) Guard {
	return Guard{store: store}
}

// Authorize resolves the owning board of the target entity and verifies the
// caller owns it. It returns the board meta on success, ErrNotFound when the
// target does not exist, and ErrForbidden when it exists but belongs to
// someone else.
func (g Guard) Authorize(ctx context.Context, callerID, targetID string, kind EntityKind) (Board, error) {
	boardID := targetID
	if kind != KindBoard {
		ref, err := g.store.ResolveRef(ctx, targetID)
		if err != nil {
			return Board{}, err
		}
		if ref.Kind != kind {
			return Board{}, ErrNotFound
		}
		boardID = ref.BoardID
	}
	meta, err := g.store.BoardMeta(ctx, boardID)
	if err != nil {
		if errors.Is(err, ErrNotFound) && kind != KindBoard {
			// Stale ref: the board was cascaded away underneath it.
			return Board{}, ErrNotFound
		}
		return Board{}, err
	}
	if meta.OwnerID != callerID {
		return Board{}, ErrForbidden
	}
	return meta, nil
}

package api

import (
	"context"

	"kanban-api/authn"
	"kanban-api/domain"
	"kanban-api/session"
)

// Boards abstracts the hierarchy service for handlers.
type Boards interface {
	CreateBoard(ctx context.Context, ownerID, title string) (domain.Board, error)
	Boards(ctx context.Context, ownerID string) ([]domain.Board, error)
	Board(ctx context.Context, boardID string) (domain.BoardTree, error)
	RenameBoard(ctx context.Context, boardID, title string) error
	DeleteBoard(ctx context.Context, boardID string) error
	CreateList(ctx context.Context, boardID, title string) (domain.List, error)
	RenameList(ctx context.Context, listID, title string) error
	MoveList(ctx context.Context, boardID, listID string, target int) error
	DeleteList(ctx context.Context, listID string) error
	CreateCard(ctx context.Context, listID, title, body string) (domain.Card, error)
	UpdateCard(ctx context.Context, cardID string, title, body *string) error
	MoveCard(ctx context.Context, cardID, targetListID string, target int) error
	DeleteCard(ctx context.Context, cardID string) error
}

// Guard authorizes a caller against the board transitively owning a target.
// It is consulted on every request; results are never cached.
type Guard interface {
	Authorize(ctx context.Context, callerID, targetID string, kind domain.EntityKind) (domain.Board, error)
}

// Sessions abstracts the session token store.
type Sessions interface {
	Create(ctx context.Context, userID string) (string, error)
	Lookup(ctx context.Context, token string) (session.Session, error)
	Revoke(ctx context.Context, token string) error
}

// Identity abstracts credential verification and account creation.
type Identity interface {
	Register(ctx context.Context, email, password, displayName string) (domain.User, error)
	Verify(ctx context.Context, creds authn.Credentials) (domain.User, error)
	Lookup(ctx context.Context, id string) (domain.User, error)
}

// EventSink receives change events for downstream consumers.
type EventSink interface {
	EnqueueEvents(ctx context.Context, events []domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from
// Authorization headers. It backs the optional bearer token mode.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

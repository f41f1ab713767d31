package domain

import "time"

// User is an account able to own boards. PasswordHash is opaque to
// everything except the authn package.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Board is the top-level container, owned by exactly one user.
type Board struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// List is an ordered column within a board. Position is a dense zero-based
// rank among the board's lists.
type List struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Card is a leaf work item. Position is a dense zero-based rank among the
// cards of its list.
type Card struct {
	ID       string `json:"id"`
	ListID   string `json:"listId"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	Position int    `json:"position"`
}

// BoardTree is a full snapshot of one board. Lists are ordered by position,
// as are the cards within each list.
type BoardTree struct {
	Board Board      `json:"board"`
	Lists []ListTree `json:"lists"`
}

// ListTree is a list together with its ordered cards.
type ListTree struct {
	List  List   `json:"list"`
	Cards []Card `json:"cards"`
}

// EntityKind tags the target of an ownership check.
type EntityKind int

const (
	KindBoard EntityKind = iota
	KindList
	KindCard
)

func (k EntityKind) String() string {
	switch k {
	case KindBoard:
		return "board"
	case KindList:
		return "list"
	case KindCard:
		return "card"
	}
	return "unknown"
}

// Ref locates an entity's owning board from its bare id.
type Ref struct {
	EntityID string
	BoardID  string
	Kind     EntityKind
}

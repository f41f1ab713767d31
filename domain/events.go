package domain

import "encoding/json"

const (
	BoardCreated = "board-created"
	BoardRenamed = "board-renamed"
	BoardDeleted = "board-deleted"
	ListCreated  = "list-created"
	ListRenamed  = "list-renamed"
	ListMoved    = "list-moved"
	ListDeleted  = "list-deleted"
	CardCreated  = "card-created"
	CardUpdated  = "card-updated"
	CardMoved    = "card-moved"
	CardDeleted  = "card-deleted"
)

// Event describes one committed change to the hierarchy. Events feed the
// board activity queue; consumers are outside this service.
type Event struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	BoardID    string          `json:"boardId"`
	UserID     string          `json:"userId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Time       int64           `json:"time"`
}

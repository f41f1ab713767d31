package storage

// Table wire formats. Annotated the way the table service expects: int64
// values travel as strings with an Edm.Int64 marker, positions carry an
// explicit Edm.Int32 marker so they round-trip as integers.

const (
	edmInt32 = "Edm.Int32"
	edmInt64 = "Edm.Int64"
)

const (
	userPartition = "user"
	emailRowPfx   = "email#"
	idRowPfx      = "id#"

	metaRowKey = "meta"
	listRowPfx = "list#"
	cardRowPfx = "card#"
	refRowKey  = "ref"
)

type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`
}

// userEntity is the authority row for an account, keyed by email.
type userEntity struct {
	entity
	ID            string `json:"Id"`
	DisplayName   string `json:"DisplayName"`
	PasswordHash  string `json:"PasswordHash"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

// userIDEntity points an account id back at its email row.
type userIDEntity struct {
	entity
	Email string `json:"Email"`
}

// boardIndexEntity is one row in the per-owner board listing.
type boardIndexEntity struct {
	entity
	Title         string `json:"Title"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

// boardMetaEntity anchors a board partition; its absence means the whole
// partition is deleted.
type boardMetaEntity struct {
	entity
	OwnerID       string `json:"OwnerId"`
	Title         string `json:"Title"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type listEntity struct {
	entity
	Title        string `json:"Title"`
	Position     int    `json:"Position"`
	PositionType string `json:"Position@odata.type"`
}

type cardEntity struct {
	entity
	ListID       string `json:"ListId"`
	Title        string `json:"Title"`
	Body         string `json:"Body,omitempty"`
	Position     int    `json:"Position"`
	PositionType string `json:"Position@odata.type"`
}

// refEntity maps a bare list/card id to its owning board.
type refEntity struct {
	entity
	BoardID string `json:"BoardId"`
	Kind    string `json:"Kind"`
}

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kanban-api/domain"
)

func decodeUserEntity(data []byte) (domain.User, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:           ent.ID,
		Email:        strings.TrimPrefix(ent.RowKey, emailRowPfx),
		DisplayName:  ent.DisplayName,
		PasswordHash: ent.PasswordHash,
		CreatedAt:    time.Unix(ent.CreatedAt, 0).UTC(),
	}, nil
}

func decodeBoardMeta(data []byte) (domain.Board, error) {
	var ent boardMetaEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	return domain.Board{
		ID:        ent.PartitionKey,
		OwnerID:   ent.OwnerID,
		Title:     ent.Title,
		CreatedAt: time.Unix(ent.CreatedAt, 0).UTC(),
	}, nil
}

func decodeBoardIndex(data []byte, ownerID string) (domain.Board, error) {
	var ent boardIndexEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	return domain.Board{
		ID:        ent.RowKey,
		OwnerID:   ownerID,
		Title:     ent.Title,
		CreatedAt: time.Unix(ent.CreatedAt, 0).UTC(),
	}, nil
}

func decodeListEntity(data []byte) (domain.VersionedList, error) {
	var ent listEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.VersionedList{}, err
	}
	return domain.VersionedList{
		List: domain.List{
			ID:       strings.TrimPrefix(ent.RowKey, listRowPfx),
			BoardID:  ent.PartitionKey,
			Title:    ent.Title,
			Position: ent.Position,
		},
		Versioned: domain.Versioned{ETag: ent.ETag},
	}, nil
}

func decodeCardEntity(data []byte) (domain.VersionedCard, error) {
	var ent cardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.VersionedCard{}, err
	}
	return domain.VersionedCard{
		Card: domain.Card{
			ID:       strings.TrimPrefix(ent.RowKey, cardRowPfx),
			ListID:   ent.ListID,
			Title:    ent.Title,
			Body:     ent.Body,
			Position: ent.Position,
		},
		Versioned: domain.Versioned{ETag: ent.ETag},
	}, nil
}

func decodeRefEntity(data []byte) (domain.Ref, error) {
	var ent refEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Ref{}, err
	}
	ref := domain.Ref{EntityID: ent.PartitionKey, BoardID: ent.BoardID}
	switch ent.Kind {
	case domain.KindList.String():
		ref.Kind = domain.KindList
	case domain.KindCard.String():
		ref.Kind = domain.KindCard
	default:
		return domain.Ref{}, fmt.Errorf("unknown ref kind %q", ent.Kind)
	}
	return ref, nil
}

func encodeListEntity(boardID string, l domain.List, etag string) listEntity {
	return listEntity{
		entity:       entity{PartitionKey: boardID, RowKey: listRowPfx + l.ID, ETag: etag},
		Title:        l.Title,
		Position:     l.Position,
		PositionType: edmInt32,
	}
}

func encodeCardEntity(boardID string, c domain.Card, etag string) cardEntity {
	return cardEntity{
		entity:       entity{PartitionKey: boardID, RowKey: cardRowPfx + c.ID, ETag: etag},
		ListID:       c.ListID,
		Title:        c.Title,
		Body:         c.Body,
		Position:     c.Position,
		PositionType: edmInt32,
	}
}

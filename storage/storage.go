package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// batchLimit is the table service cap on actions per transaction.
const batchLimit = 100

// Storage persists the board hierarchy in Azure Table storage and feeds
// committed change events to a queue. One board is one partition of the
// nodes table, so every sibling mutation is a single transactional batch.
type Storage struct {
	usersTable  *aztables.Client
	boardsTable *aztables.Client
	nodesTable  *aztables.Client
	refsTable   *aztables.Client
	eventQueue  *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, usersTable, boardsTable, nodesTable, refsTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		usersTable:  svc.NewClient(usersTable),
		boardsTable: svc.NewClient(boardsTable),
		nodesTable:  svc.NewClient(nodesTable),
		refsTable:   svc.NewClient(refsTable),
		eventQueue:  eq,
	}, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// InsertUser writes the email authority row and the id pointer row in one
// transaction. A taken email surfaces as domain.ErrAlreadyExists.
func (s *Storage) InsertUser(ctx context.Context, u domain.User) error {
	email := normalizeEmail(u.Email)
	emailRow, err := json.Marshal(userEntity{
		entity:        entity{PartitionKey: userPartition, RowKey: emailRowPfx + email},
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		PasswordHash:  u.PasswordHash,
		CreatedAt:     u.CreatedAt.Unix(),
		CreatedAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	idRow, err := json.Marshal(userIDEntity{
		entity: entity{PartitionKey: userPartition, RowKey: idRowPfx + u.ID},
		Email:  email,
	})
	if err != nil {
		return err
	}
	_, err = s.usersTable.SubmitTransaction(ctx, []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeAdd, Entity: emailRow},
		{ActionType: aztables.TransactionTypeAdd, Entity: idRow},
	}, nil)
	if statusCode(err) == 409 {
		return domain.ErrAlreadyExists
	}
	return err
}

// GetUserByEmail retrieves an account by its login email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	resp, err := s.usersTable.GetEntity(ctx, userPartition, emailRowPfx+normalizeEmail(email), nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return decodeUserEntity(resp.Value)
}

// GetUserByID retrieves an account by id via the pointer row.
func (s *Storage) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	resp, err := s.usersTable.GetEntity(ctx, userPartition, idRowPfx+id, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	var ptr userIDEntity
	if err := json.Unmarshal(resp.Value, &ptr); err != nil {
		return domain.User{}, err
	}
	return s.GetUserByEmail(ctx, ptr.Email)
}

// InsertBoard writes the partition meta row first; the listing row follows.
// A listing row without a meta row reads as deleted.
func (s *Storage) InsertBoard(ctx context.Context, b domain.Board) error {
	meta, err := json.Marshal(boardMetaEntity{
		entity:        entity{PartitionKey: b.ID, RowKey: metaRowKey},
		OwnerID:       b.OwnerID,
		Title:         b.Title,
		CreatedAt:     b.CreatedAt.Unix(),
		CreatedAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	if _, err := s.nodesTable.AddEntity(ctx, meta, nil); err != nil {
		return err
	}
	index, err := json.Marshal(boardIndexEntity{
		entity:        entity{PartitionKey: b.OwnerID, RowKey: b.ID},
		Title:         b.Title,
		CreatedAt:     b.CreatedAt.Unix(),
		CreatedAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	_, err = s.boardsTable.AddEntity(ctx, index, nil)
	return err
}

// BoardMeta reads the ownership authority row of a board.
func (s *Storage) BoardMeta(ctx context.Context, boardID string) (domain.Board, error) {
	resp, err := s.nodesTable.GetEntity(ctx, boardID, metaRowKey, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.Board{}, domain.ErrNotFound
		}
		return domain.Board{}, err
	}
	return decodeBoardMeta(resp.Value)
}

// BoardSnapshot reads the whole board partition: meta plus every list and
// card row with its version token.
func (s *Storage) BoardSnapshot(ctx context.Context, boardID string) (domain.Snapshot, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", boardID)
	pager := s.nodesTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	snap := domain.Snapshot{}
	metaSeen := false
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Snapshot{}, err
		}
		for _, raw := range resp.Entities {
			var probe entity
			if err := json.Unmarshal(raw, &probe); err != nil {
				return domain.Snapshot{}, err
			}
			switch {
			case probe.RowKey == metaRowKey:
				b, err := decodeBoardMeta(raw)
				if err != nil {
					return domain.Snapshot{}, err
				}
				snap.Board = b
				snap.Version = probe.ETag
				metaSeen = true
			case strings.HasPrefix(probe.RowKey, listRowPfx):
				l, err := decodeListEntity(raw)
				if err != nil {
					return domain.Snapshot{}, err
				}
				snap.Lists = append(snap.Lists, l)
			case strings.HasPrefix(probe.RowKey, cardRowPfx):
				c, err := decodeCardEntity(raw)
				if err != nil {
					return domain.Snapshot{}, err
				}
				snap.Cards = append(snap.Cards, c)
			}
		}
	}
	if !metaSeen {
		// Partition without a meta row is a cascade in progress.
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// OwnerBoards lists the boards owned by ownerID.
func (s *Storage) OwnerBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", ownerID)
	pager := s.boardsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			b, err := decodeBoardIndex(raw, ownerID)
			if err != nil {
				return nil, err
			}
			boards = append(boards, b)
		}
	}
	return boards, nil
}

// RenameBoard updates the title on the meta row and the listing row.
func (s *Storage) RenameBoard(ctx context.Context, boardID, title string) error {
	meta, err := s.BoardMeta(ctx, boardID)
	if err != nil {
		return err
	}
	metaPatch, err := json.Marshal(map[string]string{
		"PartitionKey": boardID,
		"RowKey":       metaRowKey,
		"Title":        title,
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	opts := &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}
	if _, err := s.nodesTable.UpdateEntity(ctx, metaPatch, opts); err != nil {
		if statusCode(err) == 404 {
			return domain.ErrNotFound
		}
		return err
	}
	indexPatch, err := json.Marshal(map[string]string{
		"PartitionKey": meta.OwnerID,
		"RowKey":       boardID,
		"Title":        title,
	})
	if err != nil {
		return err
	}
	if _, err := s.boardsTable.UpdateEntity(ctx, indexPatch, opts); err != nil && statusCode(err) != 404 {
		return err
	}
	return nil
}

// DeleteBoardTree removes a board and everything beneath it. The meta row
// goes first so the board becomes unreachable in one step; children and
// refs are swept afterwards, and survivors of a crash are orphans that
// every read path already treats as deleted.
func (s *Storage) DeleteBoardTree(ctx context.Context, b domain.Board) error {
	if _, err := s.nodesTable.DeleteEntity(ctx, b.ID, metaRowKey, nil); err != nil {
		if statusCode(err) == 404 {
			return domain.ErrNotFound
		}
		return err
	}
	if _, err := s.boardsTable.DeleteEntity(ctx, b.OwnerID, b.ID, nil); err != nil && statusCode(err) != 404 {
		log.WithError(err).WithField("board", b.ID).Warn("board index row not removed")
	}

	filter := fmt.Sprintf("PartitionKey eq '%s'", b.ID)
	pager := s.nodesTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var rowKeys []string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, raw := range resp.Entities {
			var probe entity
			if err := json.Unmarshal(raw, &probe); err != nil {
				return err
			}
			rowKeys = append(rowKeys, probe.RowKey)
		}
	}
	for start := 0; start < len(rowKeys); start += batchLimit {
		end := start + batchLimit
		if end > len(rowKeys) {
			end = len(rowKeys)
		}
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, rk := range rowKeys[start:end] {
			payload, err := json.Marshal(entity{PartitionKey: b.ID, RowKey: rk})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeDelete,
				Entity:     payload,
			})
		}
		if _, err := s.nodesTable.SubmitTransaction(ctx, actions, nil); err != nil {
			return err
		}
	}
	for _, rk := range rowKeys {
		id := strings.TrimPrefix(strings.TrimPrefix(rk, listRowPfx), cardRowPfx)
		s.deleteRef(ctx, id)
	}
	return nil
}

// ResolveRef maps a bare list or card id to its owning board.
func (s *Storage) ResolveRef(ctx context.Context, entityID string) (domain.Ref, error) {
	resp, err := s.refsTable.GetEntity(ctx, entityID, refRowKey, nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.Ref{}, domain.ErrNotFound
		}
		return domain.Ref{}, err
	}
	return decodeRefEntity(resp.Value)
}

// ApplyBatch applies one version-checked transaction to a board partition.
// Every transaction carries an ETag-checked merge of the meta row against the
// snapshot's board version, so two writers planning from the same snapshot
// conflict even when their row sets are disjoint (concurrent inserts use
// distinct row keys and would otherwise both succeed). Ref rows for inserts
// are written beforehand (a ref without a node resolves to NotFound, which is
// harmless); refs of deleted entities are cleaned up after the commit.
func (s *Storage) ApplyBatch(ctx context.Context, boardID string, batch domain.Batch) error {
	if batch.Empty() {
		return nil
	}
	for _, l := range batch.InsertLists {
		if err := s.putRef(ctx, domain.Ref{EntityID: l.ID, BoardID: boardID, Kind: domain.KindList}); err != nil {
			return err
		}
	}
	for _, c := range batch.InsertCards {
		if err := s.putRef(ctx, domain.Ref{EntityID: c.ID, BoardID: boardID, Kind: domain.KindCard}); err != nil {
			return err
		}
	}

	actions, err := buildActions(boardID, batch)
	if err != nil {
		return err
	}
	if len(actions) > batchLimit {
		return fmt.Errorf("batch of %d actions exceeds the transaction limit", len(actions))
	}
	if _, err := s.nodesTable.SubmitTransaction(ctx, actions, nil); err != nil {
		switch statusCode(err) {
		case 409, 412:
			return domain.ErrConcurrencyConflict
		case 404:
			return domain.ErrNotFound
		}
		return err
	}

	for _, l := range batch.DeleteLists {
		s.deleteRef(ctx, l.ID)
	}
	for _, c := range batch.DeleteCards {
		s.deleteRef(ctx, c.ID)
	}
	return nil
}

func buildActions(boardID string, batch domain.Batch) ([]aztables.TransactionAction, error) {
	var actions []aztables.TransactionAction
	add := func(t aztables.TransactionType, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: t, Entity: payload})
		return nil
	}
	// The meta merge anchors the batch: it fails on a stale board version
	// and advances the version for everyone else.
	if err := add(aztables.TransactionTypeUpdateMerge, entity{PartitionKey: boardID, RowKey: metaRowKey, ETag: batch.Base}); err != nil {
		return nil, err
	}
	for _, l := range batch.InsertLists {
		if err := add(aztables.TransactionTypeAdd, encodeListEntity(boardID, l, "")); err != nil {
			return nil, err
		}
	}
	for _, l := range batch.UpdateLists {
		if err := add(aztables.TransactionTypeUpdateReplace, encodeListEntity(boardID, l.List, l.ETag)); err != nil {
			return nil, err
		}
	}
	for _, l := range batch.DeleteLists {
		if err := add(aztables.TransactionTypeDelete, entity{PartitionKey: boardID, RowKey: listRowPfx + l.ID, ETag: l.ETag}); err != nil {
			return nil, err
		}
	}
	for _, c := range batch.InsertCards {
		if err := add(aztables.TransactionTypeAdd, encodeCardEntity(boardID, c, "")); err != nil {
			return nil, err
		}
	}
	for _, c := range batch.UpdateCards {
		if err := add(aztables.TransactionTypeUpdateReplace, encodeCardEntity(boardID, c.Card, c.ETag)); err != nil {
			return nil, err
		}
	}
	for _, c := range batch.DeleteCards {
		if err := add(aztables.TransactionTypeDelete, entity{PartitionKey: boardID, RowKey: cardRowPfx + c.ID, ETag: c.ETag}); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

func (s *Storage) putRef(ctx context.Context, r domain.Ref) error {
	payload, err := json.Marshal(refEntity{
		entity:  entity{PartitionKey: r.EntityID, RowKey: refRowKey},
		BoardID: r.BoardID,
		Kind:    r.Kind.String(),
	})
	if err != nil {
		return err
	}
	_, err = s.refsTable.UpsertEntity(ctx, payload, nil)
	return err
}

func (s *Storage) deleteRef(ctx context.Context, entityID string) {
	if _, err := s.refsTable.DeleteEntity(ctx, entityID, refRowKey, nil); err != nil && statusCode(err) != 404 {
		log.WithError(err).WithField("entity", entityID).Warn("stale ref not removed")
	}
}

// EnqueueEvents sends committed change events to the activity queue.
func (s *Storage) EnqueueEvents(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

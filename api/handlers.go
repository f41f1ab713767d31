package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/authn"
	"kanban-api/domain"
	"kanban-api/session"
)

// Config carries the collaborators handlers need.
type Config struct {
	Boards   Boards
	Guard    Guard
	Sessions Sessions
	Identity Identity

	// Publisher forwards change events; nil disables publishing.
	Publisher *Publisher

	// Bearer enables JWT bearer auth alongside cookie sessions; nil
	// disables it.
	Bearer *BearerAuth

	Logger        *log.Logger
	SessionTTL    time.Duration
	SecureCookies bool

	// MaskForbidden reports authorization failures as 404.
	MaskForbidden bool
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, cfg Config) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}

	e.POST("/api/auth/register", registerUser(cfg))
	e.POST("/api/auth/login", login(cfg))
	e.POST("/api/auth/logout", logout(cfg))

	authed := e.Group("/api", requireUser(cfg.Sessions, cfg.Bearer))
	authed.GET("/auth/me", me(cfg))

	authed.GET("/boards", listBoards(cfg))
	authed.POST("/boards", createBoard(cfg))
	authed.GET("/boards/:boardID", getBoard(cfg))
	authed.PUT("/boards/:boardID", renameBoard(cfg))
	authed.DELETE("/boards/:boardID", deleteBoard(cfg))

	authed.POST("/boards/:boardID/lists", createList(cfg))
	authed.PUT("/lists/:listID", renameList(cfg))
	authed.PUT("/lists/:listID/move", moveList(cfg))
	authed.DELETE("/lists/:listID", deleteList(cfg))

	authed.POST("/lists/:listID/cards", createCard(cfg))
	authed.PUT("/cards/:cardID", updateCard(cfg))
	authed.PUT("/cards/:cardID/move", moveCard(cfg))
	authed.DELETE("/cards/:cardID", deleteCard(cfg))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
}

func registerUser(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var req registerRequest
		if err := decodeBody(c, &req); err != nil {
			return invalidBody(c)
		}
		user, err := cfg.Identity.Register(ctx, req.Email, req.Password, req.DisplayName)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		token, err := cfg.Sessions.Create(ctx, user.ID)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		setSessionCookie(c, token, cfg.SessionTTL, cfg.SecureCookies)
		return c.JSON(http.StatusCreated, userResponse{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName})
	}
}

func login(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var req loginRequest
		if err := decodeBody(c, &req); err != nil {
			return invalidBody(c)
		}
		user, err := cfg.Identity.Verify(ctx, authn.Credentials{Email: req.Email, Password: req.Password})
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		token, err := cfg.Sessions.Create(ctx, user.ID)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		setSessionCookie(c, token, cfg.SessionTTL, cfg.SecureCookies)
		return c.JSON(http.StatusOK, userResponse{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName})
	}
}

func logout(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		if cookie, err := c.Cookie(SessionCookie); err == nil && cookie.Value != "" {
			if err := cfg.Sessions.Revoke(c.Request().Context(), cookie.Value); err != nil {
				c.Logger().Error(err)
			}
		}
		clearSessionCookie(c, cfg.SecureCookies)
		return c.NoContent(http.StatusNoContent)
	}
}

func me(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := cfg.Identity.Lookup(c.Request().Context(), callerID(c))
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		return c.JSON(http.StatusOK, userResponse{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName})
	}
}

func listBoards(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		boards, err := cfg.Boards.Boards(c.Request().Context(), callerID(c))
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if boards == nil {
			boards = []domain.Board{}
		}
		return c.JSON(http.StatusOK, boardsResponse{Boards: boards})
	}
}

func createBoard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		var req titleRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" {
			return invalidBody(c)
		}
		board, err := cfg.Boards.CreateBoard(ctx, uid, req.Title)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.BoardCreated, domain.KindBoard, board.ID, board.ID, uid))
		return c.JSON(http.StatusCreated, board)
	}
}

func getBoard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, cfg.Logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, guardErr := cfg.Guard.Authorize(ctx, callerID(c), c.Param("boardID"), domain.KindBoard)
		metrics.ObserveAuthorize(time.Since(authStart))
		if guardErr != nil {
			metrics.SetErrorStage("authorize")
			err = writeDomainError(c, guardErr, cfg.MaskForbidden)
			return err
		}

		fetchStart := time.Now()
		tree, fetchErr := cfg.Boards.Board(ctx, c.Param("boardID"))
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = writeDomainError(c, fetchErr, cfg.MaskForbidden)
			return err
		}
		metrics.SetListsReturned(len(tree.Lists))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tree)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func renameBoard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		boardID := c.Param("boardID")
		var req titleRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" {
			return invalidBody(c)
		}
		if _, err := cfg.Guard.Authorize(ctx, uid, boardID, domain.KindBoard); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.RenameBoard(ctx, boardID, req.Title); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.BoardRenamed, domain.KindBoard, boardID, boardID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteBoard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		boardID := c.Param("boardID")
		if _, err := cfg.Guard.Authorize(ctx, uid, boardID, domain.KindBoard); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.DeleteBoard(ctx, boardID); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.BoardDeleted, domain.KindBoard, boardID, boardID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func createList(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		boardID := c.Param("boardID")
		var req titleRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" {
			return invalidBody(c)
		}
		if _, err := cfg.Guard.Authorize(ctx, uid, boardID, domain.KindBoard); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		list, err := cfg.Boards.CreateList(ctx, boardID, req.Title)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.ListCreated, domain.KindList, list.ID, boardID, uid))
		return c.JSON(http.StatusCreated, list)
	}
}

func renameList(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		listID := c.Param("listID")
		var req titleRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" {
			return invalidBody(c)
		}
		board, err := cfg.Guard.Authorize(ctx, uid, listID, domain.KindList)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.RenameList(ctx, listID, req.Title); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.ListRenamed, domain.KindList, listID, board.ID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func moveList(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		listID := c.Param("listID")
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return invalidBody(c)
		}
		if req.Position == nil {
			return writeDomainError(c, domain.ErrInvalidPosition, cfg.MaskForbidden)
		}
		board, err := cfg.Guard.Authorize(ctx, uid, listID, domain.KindList)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.MoveList(ctx, board.ID, listID, *req.Position); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.ListMoved, domain.KindList, listID, board.ID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteList(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		listID := c.Param("listID")
		board, err := cfg.Guard.Authorize(ctx, uid, listID, domain.KindList)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.DeleteList(ctx, listID); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.ListDeleted, domain.KindList, listID, board.ID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func createCard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		listID := c.Param("listID")
		var req createCardRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" {
			return invalidBody(c)
		}
		board, err := cfg.Guard.Authorize(ctx, uid, listID, domain.KindList)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		card, err := cfg.Boards.CreateCard(ctx, listID, req.Title, req.Body)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.CardCreated, domain.KindCard, card.ID, board.ID, uid))
		return c.JSON(http.StatusCreated, card)
	}
}

func updateCard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		cardID := c.Param("cardID")
		var req updateCardRequest
		if err := decodeBody(c, &req); err != nil {
			return invalidBody(c)
		}
		if req.Title == nil && req.Body == nil {
			return invalidBody(c)
		}
		if req.Title != nil && *req.Title == "" {
			return invalidBody(c)
		}
		board, err := cfg.Guard.Authorize(ctx, uid, cardID, domain.KindCard)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.UpdateCard(ctx, cardID, req.Title, req.Body); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.CardUpdated, domain.KindCard, cardID, board.ID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func moveCard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		cardID := c.Param("cardID")
		var req moveCardRequest
		if err := decodeBody(c, &req); err != nil || req.ListID == "" {
			return invalidBody(c)
		}
		if req.Position == nil {
			return writeDomainError(c, domain.ErrInvalidPosition, cfg.MaskForbidden)
		}
		board, err := cfg.Guard.Authorize(ctx, uid, cardID, domain.KindCard)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.MoveCard(ctx, cardID, req.ListID, *req.Position); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.CardMoved, domain.KindCard, cardID, board.ID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteCard(cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid := callerID(c)
		cardID := c.Param("cardID")
		board, err := cfg.Guard.Authorize(ctx, uid, cardID, domain.KindCard)
		if err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		if err := cfg.Boards.DeleteCard(ctx, cardID); err != nil {
			return writeDomainError(c, err, cfg.MaskForbidden)
		}
		cfg.Publisher.Publish(c, changeEvent(domain.CardDeleted, domain.KindCard, cardID, board.ID, uid))
		return c.NoContent(http.StatusNoContent)
	}
}

func changeEvent(eventType string, kind domain.EntityKind, entityID, boardID, userID string) domain.Event {
	return domain.Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: kind.String(),
		Type:       eventType,
		BoardID:    boardID,
		UserID:     userID,
		Time:       nextTimestamp(),
	}
}

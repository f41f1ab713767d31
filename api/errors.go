package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"kanban-api/authn"
	"kanban-api/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeDomainError maps service errors onto HTTP statuses. When
// maskForbidden is set, authorization failures are reported as 404 so
// probing for foreign entity ids reveals nothing.
func writeDomainError(c echo.Context, err error, maskForbidden bool) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrForbidden):
		if maskForbidden {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
		}
		return c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, domain.ErrInvalidPosition):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid position"})
	case errors.Is(err, domain.ErrCrossBoardMove):
		return c.JSON(http.StatusConflict, errorResponse{Error: "card cannot move across boards"})
	case errors.Is(err, domain.ErrLimitExceeded):
		return c.JSON(http.StatusConflict, errorResponse{Error: "too many siblings"})
	case errors.Is(err, domain.ErrAlreadyExists):
		return c.JSON(http.StatusConflict, errorResponse{Error: "already exists"})
	case errors.Is(err, domain.ErrConflict):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "concurrent modification, retry"})
	case errors.Is(err, authn.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid email or password"})
	case errors.Is(err, authn.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

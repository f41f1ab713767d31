package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"kanban-api/session"
)

// SessionCookie is the cookie carrying the opaque session token.
const SessionCookie = "kanban_session"

const userIDKey = "kanban.user_id"

// requireUser resolves the caller from the session cookie, or from a
// bearer token when a bearer validator is configured. Expired and unknown
// tokens fail before any storage access.
func requireUser(sessions Sessions, bearer Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if bearer != nil {
				if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
					uid, err := bearer.UserIDFromAuthHeader(h)
					if err != nil {
						return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
					}
					c.Set(userIDKey, uid)
					return next(c)
				}
			}

			cookie, err := c.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "not signed in"})
			}
			sess, err := sessions.Lookup(c.Request().Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, session.ErrNotFound) {
					return c.JSON(http.StatusUnauthorized, errorResponse{Error: "session expired"})
				}
				c.Logger().Error(err)
				return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
			}
			c.Set(userIDKey, sess.UserID)
			return next(c)
		}
	}
}

func callerID(c echo.Context) string {
	uid, _ := c.Get(userIDKey).(string)
	return uid
}

func setSessionCookie(c echo.Context, token string, ttl time.Duration, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

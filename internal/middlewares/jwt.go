package middlewares

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/onurcolak/messaging-bridge/pkg/response"
)

const (
	tokenContextKey  = "user"
	userIDContextKey = "userID"
)

// JWTAuth authenticates staff requests with an HS256 bearer token. The
// token's subject is the staff user id. Browsers cannot set headers on
// EventSource or WebSocket requests, so the token may also come in the
// access_token query parameter.
func JWTAuth(secret string) echo.MiddlewareFunc {
	if secret == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(c, fmt.Errorf("JWT secret is not configured"))
			}
		}
	}

	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    tokenContextKey,
		TokenLookup:   "header:Authorization:Bearer ,query:access_token",
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(jwt.RegisteredClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return response.Unauthorized(c, "")
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(func(c echo.Context) error {
			token, ok := c.Get(tokenContextKey).(*jwt.Token)
			if !ok {
				return response.Unauthorized(c, "")
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || strings.TrimSpace(subject) == "" {
				return response.Unauthorized(c, "token has no subject")
			}

			c.Set(userIDContextKey, subject)
			return next(c)
		})
	}
}

// UserID returns the authenticated staff user id, or "" outside JWTAuth.
func UserID(c echo.Context) string {
	userID, _ := c.Get(userIDContextKey).(string)
	return userID
}

// WithUserID marks c as authenticated for userID. Handler tests use it in place of JWTAuth.
func WithUserID(c echo.Context, userID string) {
	c.Set(userIDContextKey, userID)
}

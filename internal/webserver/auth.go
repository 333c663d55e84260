package webserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

const (
	HeaderApiKey = "x-api-key"
	QueryApiKey  = "api_key"
)

// Authenticate accepts either a bearer token signed with secret or the
// static api key, sent as the x-api-key header or the api_key query value.
// A bearer token that fails verification is answered with 403.
func Authenticate(apiKey, secret string) echo.MiddlewareFunc {
	jwtAuth := echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(secret),
		ErrorHandler: func(c echo.Context, err error) error {
			var missing *echojwt.TokenExtractionError
			if errors.As(err, &missing) {
				return Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required", nil)
			}
			return Fail(c, http.StatusForbidden, "FORBIDDEN", "Invalid or expired token", nil)
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := jwtAuth(next)
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ") {
				return withToken(c)
			}
			key := c.Request().Header.Get(HeaderApiKey)
			if key == "" {
				key = c.QueryParam(QueryApiKey)
			}
			if key == "" {
				return Fail(c, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authentication required - provide either Authorization header (Bearer token) or x-api-key header", nil)
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				return Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key", nil)
			}
			return next(c)
		}
	}
}

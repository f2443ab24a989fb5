package middleware

import (
	"net/http"
	"strings"
	"time"

	"event-coordinator/core/config"
	"event-coordinator/core/constants"
	"event-coordinator/core/errors"
	"event-coordinator/core/logger"
	"event-coordinator/core/utils"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Middleware bundles the echo middleware used by module routers.
type Middleware struct {
	cfg *config.Config
}

func NewMiddleware(cfg *config.Config) *Middleware {
	return &Middleware{cfg: cfg}
}

// Recover returns echo's panic recovery middleware.
func (m *Middleware) Recover() echo.MiddlewareFunc {
	return echomw.Recover()
}

// RequestLogger logs one line per request with latency and status.
func (m *Middleware) RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()
			logger.Info("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

// AuthMiddleware validates the Bearer token and stores its claims in the
// request context under constants.ContextTokenData.
func (m *Middleware) AuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized,
					errors.NewAppError(errors.ErrMissingAuthorizationHeader, "Missing Authorization header", nil))
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized,
					errors.NewAppError(errors.ErrInvalidTokenFormat, "Authorization header must be 'Bearer {token}'", nil))
			}

			claims, err := utils.ParseToken(parts[1], m.cfg.Auth.JWTSecret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized,
					errors.NewAppError(errors.ErrUnauthorized, "Invalid or expired token", err))
			}

			c.Set(constants.ContextTokenData, claims)
			return next(c)
		}
	}
}

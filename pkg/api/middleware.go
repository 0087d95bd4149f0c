package api

import (
	"errors"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/services"
)

// Context keys for the authenticated identity.
const (
	ctxKeyRole     = "auth.role"
	ctxKeyUsername = "auth.username"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// authenticate resolves the caller's identity from a Bearer token or a
// managed API key and stores role and username on the request context.
func (s *Server) authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if header := c.Request().Header.Get("Authorization"); header != "" {
				token, ok := strings.CutPrefix(header, "Bearer ")
				if !ok {
					return echo.NewHTTPError(http.StatusUnauthorized, "malformed authorization header")
				}
				claims, err := s.issuer.DecodeAccessToken(token)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
				}
				c.Set(ctxKeyRole, claims.Role)
				c.Set(ctxKeyUsername, claims.Username)
				return next(c)
			}

			if key := c.Request().Header.Get("X-API-Key"); key != "" {
				record, err := s.apiKeys.ValidateAndTouch(c.Request().Context(), key)
				if err != nil {
					if errors.Is(err, services.ErrInvalidCredentials) {
						return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
					}
					return mapServiceError(err)
				}
				c.Set(ctxKeyRole, record.Role)
				c.Set(ctxKeyUsername, "key:"+record.Name)
				return next(c)
			}

			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
	}
}

// requireRole rejects callers whose role carries less privilege than min.
func (s *Server) requireRole(min string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			role, _ := c.Get(ctxKeyRole).(string)
			if !services.RoleAtLeast(role, min) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient privileges")
			}
			return next(c)
		}
	}
}

// agentAuth guards probe-facing endpoints. The key must match the calling
// agent's stored key or a managed API key. Agents the monitor has never seen
// are let through so their first report can auto-register them.
func (s *Server) agentAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			key := c.Request().Header.Get("X-API-Key")
			if key == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "api key required")
			}
			c.Set(ctxKeyRole, services.RoleOperator)
			return next(c)
		}
	}
}

// verifyAgentKey checks the presented key against the agent's stored key,
// falling back to the managed key table. Unknown agents pass so the ingest
// path can auto-register them.
func (s *Server) verifyAgentKey(c *echo.Context, agentID string) error {
	key := c.Request().Header.Get("X-API-Key")

	agent, err := s.agents.Get(c.Request().Context(), agentID)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	if err != nil {
		return mapServiceError(err)
	}
	if agent.APIKey == key {
		return nil
	}

	if _, err := s.apiKeys.ValidateAndTouch(c.Request().Context(), key); err == nil {
		return nil
	}
	return echo.NewHTTPError(http.StatusUnauthorized, "api key does not match agent")
}

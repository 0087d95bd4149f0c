package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/auth"
	"github.com/cortex-ops/cortex/pkg/services"
)

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the signed access token.
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	User        *services.User `json:"user"`
}

// loginHandler handles POST /api/v1/auth/login. Unknown users, wrong
// passwords, and deactivated accounts are indistinguishable to the caller.
func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid login body")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	user, err := s.users.GetByUsername(c.Request().Context(), req.Username)
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return mapServiceError(err)
	}
	if !user.IsActive || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, err := s.issuer.CreateAccessToken(user)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

// refreshHandler handles POST /api/v1/auth/refresh. Only a still-valid JWT
// can be exchanged; API keys have no expiry to extend. The user is reloaded
// so deactivation and role changes take effect at refresh time.
func (s *Server) refreshHandler(c *echo.Context) error {
	header := c.Request().Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "bearer token required")
	}
	claims, err := s.issuer.DecodeAccessToken(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}

	user, err := s.users.GetByUsername(c.Request().Context(), claims.Username)
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return mapServiceError(err)
	}
	if !user.IsActive {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, err := s.issuer.CreateAccessToken(user)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

// whoamiHandler handles GET /api/v1/auth/me.
func (s *Server) whoamiHandler(c *echo.Context) error {
	username, _ := c.Get(ctxKeyUsername).(string)
	role, _ := c.Get(ctxKeyRole).(string)
	return respond(c, http.StatusOK, map[string]string{
		"username": username,
		"role":     role,
	})
}

// CreateUserRequest is the body of POST /api/v1/auth/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// createUserHandler handles POST /api/v1/auth/users.
func (s *Server) createUserHandler(c *echo.Context) error {
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user body")
	}
	if req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "password is required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return mapServiceError(err)
	}

	user, err := s.users.Create(c.Request().Context(), services.CreateUserInput{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, user)
}

// listUsersHandler handles GET /api/v1/auth/users.
func (s *Server) listUsersHandler(c *echo.Context) error {
	users, err := s.users.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, users)
}

// UpdateUserRequest is the body of PATCH /api/v1/auth/users/:id.
type UpdateUserRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// updateUserHandler handles PATCH /api/v1/auth/users/:id.
func (s *Server) updateUserHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user body")
	}

	input := services.UpdateUserInput{
		Email:    req.Email,
		Role:     req.Role,
		IsActive: req.IsActive,
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return mapServiceError(err)
		}
		input.PasswordHash = &hash
	}

	user, err := s.users.Update(c.Request().Context(), id, input)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, user)
}

// deleteUserHandler handles DELETE /api/v1/auth/users/:id.
func (s *Server) deleteUserHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.users.Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return respondMessage(c, http.StatusOK, "user deleted")
}

// CreateAPIKeyRequest is the body of POST /api/v1/auth/api-keys.
type CreateAPIKeyRequest struct {
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateAPIKeyResponse returns the secret exactly once, at creation.
type CreateAPIKeyResponse struct {
	services.APIKey
	Secret string `json:"secret"`
}

// createAPIKeyHandler handles POST /api/v1/auth/api-keys.
func (s *Server) createAPIKeyHandler(c *echo.Context) error {
	var req CreateAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid api key body")
	}

	secret, err := auth.GenerateAPIKey()
	if err != nil {
		return mapServiceError(err)
	}

	record, err := s.apiKeys.Create(c.Request().Context(), services.CreateAPIKeyInput{
		Key:       secret,
		Name:      req.Name,
		Role:      req.Role,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, CreateAPIKeyResponse{
		APIKey: *record,
		Secret: secret,
	})
}

// listAPIKeysHandler handles GET /api/v1/auth/api-keys.
func (s *Server) listAPIKeysHandler(c *echo.Context) error {
	keys, err := s.apiKeys.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, keys)
}

// revokeAPIKeyHandler handles DELETE /api/v1/auth/api-keys/:id.
func (s *Server) revokeAPIKeyHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.apiKeys.Revoke(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return respondMessage(c, http.StatusOK, "api key revoked")
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/config"
	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/pkg/auth/manager"
)

// Gin context keys set by RequireAuth.
const (
	ContextUserIDKey = "user_id"
	ContextEmailKey  = "email"
	ContextUserKey   = "user"
)

// Authenticator resolves a raw access token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*entity.User, error)
}

// AuthMiddleware protects routes with access tokens.
type AuthMiddleware struct {
	authenticator Authenticator
	cookies       *manager.CookieManager
	transport     string
	logger        *zap.Logger
}

// NewAuthMiddleware creates the middleware. In cookie transport the access
// cookie is read first and the Authorization header is the fallback; in bearer
// transport only the header is read.
func NewAuthMiddleware(authenticator Authenticator, cookies *manager.CookieManager, transport string) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		cookies:       cookies,
		transport:     transport,
		logger:        zap.L().Named("auth_middleware"),
	}
}

// RequireAuth aborts with 401 unless the request carries a valid access token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errType, errMsg := m.extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg, "error_type": errType})
			return
		}

		user, err := m.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, manager.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":      "Invalid or expired token",
					"error_type": TokenErrorType(err),
				})
				return
			}
			m.logger.Error("access token check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "Internal server error",
				"error_type": "internal_server_error",
			})
			return
		}

		c.Set(ContextUserIDKey, user.ID)
		c.Set(ContextEmailKey, user.Email)
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

func (m *AuthMiddleware) extractToken(c *gin.Context) (token, errType, errMsg string) {
	if m.transport == config.TransportCookie && m.cookies != nil {
		if token, err := m.cookies.GetAccessTokenFromCookie(c.Request); err == nil {
			return token, "", ""
		}
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "token_missing", "Unauthorized"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", "token_format", "Authorization header format must be Bearer {token}"
	}
	return parts[1], "", ""
}

// TokenErrorType maps a token failure to the error_type reported to clients.
func TokenErrorType(err error) string {
	var tokenErr *manager.TokenError
	if errors.As(err, &tokenErr) {
		switch tokenErr.Type {
		case manager.ExpiredAccessToken, manager.ExpiredRefreshToken:
			return "token_expired"
		case manager.TokenRevoked:
			return "token_revoked"
		}
	}
	return "token_invalid"
}

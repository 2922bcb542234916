package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/config"
	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/handler/dto"
	"github.com/yourusername/finance-api/internal/middleware"
	"github.com/yourusername/finance-api/internal/service"
	"github.com/yourusername/finance-api/pkg/auth/manager"
)

// AuthHandler serves the /api/v1/auth endpoints.
type AuthHandler struct {
	authService *service.AuthService
	cookies     *manager.CookieManager
	transport   string
	logger      *zap.Logger
}

// NewAuthHandler creates the handler. cookies is only used in cookie transport.
func NewAuthHandler(authService *service.AuthService, cookies *manager.CookieManager, transport string) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
		transport:   transport,
		logger:      zap.L().Named("auth_handler"),
	}
}

func (h *AuthHandler) cookieMode() bool {
	return h.transport == config.TransportCookie && h.cookies != nil
}

// RequestCode always answers {ok:true} so the response does not reveal anything about the address.
func (h *AuthHandler) RequestCode(c *gin.Context) {
	var req dto.EmailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.RequestCode(c.Request.Context(), req.Email); err != nil {
		h.handleAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req dto.VerifyCodeRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.VerifyCode(c.Request.Context(), req.Email, req.Code); err != nil {
		h.handleAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (h *AuthHandler) SetPassword(c *gin.Context) {
	var req dto.SetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.authService.SetPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}

	if h.cookieMode() {
		h.cookies.SetAccessTokenCookie(c.Writer, pair.AccessToken)
	}
	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout answers {ok:true} whatever the body holds.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req dto.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("logout body not usable", zap.Error(err))
	}

	if req.RefreshToken != "" {
		h.authService.Logout(c.Request.Context(), req.RefreshToken)
	}
	if h.cookieMode() {
		h.cookies.ClearAccessTokenCookie(c.Writer)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetMe returns the user resolved by RequireAuth.
func (h *AuthHandler) GetMe(c *gin.Context) {
	value, exists := c.Get(middleware.ContextUserKey)
	user, ok := value.(*entity.User)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "token_missing"})
		return
	}
	c.JSON(http.StatusOK, dto.UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	})
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Invalid request data",
			"error_type": "validation_error",
			"details":    err.Error(),
		})
		return false
	}
	return true
}

func (h *AuthHandler) handleAuthError(c *gin.Context, err error) {
	var invalidCode *service.InvalidCodeError

	switch {
	case errors.Is(err, service.ErrCodeNotRequested):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request the code first", "error_type": "code_not_requested"})
	case errors.Is(err, service.ErrCodeAlreadyUsed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code has already been used", "error_type": "code_already_used"})
	case errors.Is(err, service.ErrVerificationWindowExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Time to set password expired, verify again", "error_type": "verification_window_expired"})
	case errors.Is(err, service.ErrCodeExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "The code has expired", "error_type": "code_expired"})
	case errors.Is(err, service.ErrCodeAttemptsExhausted):
		c.JSON(http.StatusBadRequest, gin.H{"error": "The number of attempts has been exceeded", "error_type": "attempts_exhausted"})
	case errors.As(err, &invalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid code", "error_type": "invalid_code", "attempts_left": invalidCode.AttemptsLeft})
	case errors.Is(err, service.ErrEmailNotVerified):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Verify the email by code first", "error_type": "email_not_verified"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect credentials", "error_type": "invalid_credentials"})
	case errors.Is(err, service.ErrUnauthenticated):
		h.logger.Info("token rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "error_type": middleware.TokenErrorType(err)})
	default:
		h.logger.Error("auth request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_server_error"})
	}
}

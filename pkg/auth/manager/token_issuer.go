package manager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	"github.com/yourusername/finance-api/pkg/auth"
)

const (
	// TokenTypeBearer is the token_type reported to clients.
	TokenTypeBearer = "bearer"

	jtiBytes = 16
)

// TokenPair is the response of every operation that mints tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`

	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
	JTI              string    `json:"-"`
	UserID           uint      `json:"-"`
}

// TokenIssuer mints access/refresh pairs and records each refresh token in the ledger.
type TokenIssuer struct {
	jwtService       *auth.JWTService
	refreshTokenRepo repository.RefreshTokenRepository
	logger           *zap.Logger
}

// NewTokenIssuer creates the issuer.
func NewTokenIssuer(jwtService *auth.JWTService, refreshTokenRepo repository.RefreshTokenRepository) (*TokenIssuer, error) {
	if jwtService == nil {
		return nil, fmt.Errorf("JWTService is required for TokenIssuer")
	}
	if refreshTokenRepo == nil {
		return nil, fmt.Errorf("RefreshTokenRepository is required for TokenIssuer")
	}
	return &TokenIssuer{
		jwtService:       jwtService,
		refreshTokenRepo: refreshTokenRepo,
		logger:           zap.L().Named("token_issuer"),
	}, nil
}

func (t *TokenIssuer) CreateAccessToken(email string) (string, time.Time, error) {
	return t.jwtService.GenerateAccessToken(email)
}

func (t *TokenIssuer) CreateRefreshToken(email, jti string) (string, time.Time, error) {
	return t.jwtService.GenerateRefreshToken(email, jti)
}

// IssuePairAndStore mints a pair for the user and inserts its ledger row.
func (t *TokenIssuer) IssuePairAndStore(ctx context.Context, email string, userID uint) (*TokenPair, error) {
	return t.IssuePairAndStoreTx(ctx, t.refreshTokenRepo, email, userID)
}

// IssuePairAndStoreTx is IssuePairAndStore against a caller-supplied repository,
// typically one bound to an open transaction.
func (t *TokenIssuer) IssuePairAndStoreTx(ctx context.Context, repo repository.RefreshTokenRepository, email string, userID uint) (*TokenPair, error) {
	jti, err := NewJTI()
	if err != nil {
		return nil, NewTokenError(TokenGenerationFailed, "failed to generate jti", err)
	}

	accessToken, accessExp, err := t.CreateAccessToken(email)
	if err != nil {
		return nil, NewTokenError(TokenGenerationFailed, "failed to create access token", err)
	}
	refreshToken, refreshExp, err := t.CreateRefreshToken(email, jti)
	if err != nil {
		return nil, NewTokenError(TokenGenerationFailed, "failed to create refresh token", err)
	}

	row := entity.NewRefreshToken(userID, HashToken(refreshToken), jti, t.jwtService.Now(), refreshExp)
	if err := repo.Create(ctx, row); err != nil {
		return nil, NewTokenError(DatabaseError, "failed to store refresh token", err)
	}

	t.logger.Debug("token pair issued", zap.Uint("user_id", userID), zap.String("jti", jti))
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        TokenTypeBearer,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		JTI:              jti,
		UserID:           userID,
	}, nil
}

// NewJTI returns 16 random bytes encoded as unpadded base64url.
func NewJTI() (string, error) {
	b := make([]byte, jtiBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 digest stored in the ledger instead of the raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

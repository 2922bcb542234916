package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// issuedAtLeeway tolerates small clock skew between issuing instances.
const issuedAtLeeway = 30 * time.Second

var (
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token is expired")
	ErrTokenSignature = errors.New("signature is invalid")
	ErrTokenClaims    = errors.New("token claims are invalid")
	ErrTokenType      = errors.New("unexpected token type")
)

// Claims is the payload of both access and refresh tokens. Subject holds the
// normalized email; ID (jti) is set on refresh tokens only.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// JWTService signs and decodes HMAC tokens with one configured secret and algorithm.
type JWTService struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewJWTService creates the service. algorithm is one of HS256, HS384, HS512.
func NewJWTService(secret, algorithm string, accessTTL, refreshTTL time.Duration) (*JWTService, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required for JWTService")
	}
	method, ok := jwt.GetSigningMethod(strings.ToUpper(algorithm)).(*jwt.SigningMethodHMAC)
	if !ok || method == nil {
		return nil, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}
	return &JWTService{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     zap.L().Named("jwt"),
	}, nil
}

// SetClock replaces the time source used for issuing and validating tokens.
func (s *JWTService) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the current time of the service clock.
func (s *JWTService) Now() time.Time {
	return s.now()
}

// GenerateAccessToken signs {sub, type:"access", iat, exp}.
func (s *JWTService) GenerateAccessToken(email string) (string, time.Time, error) {
	return s.sign(email, TokenTypeAccess, "", s.accessTTL)
}

// GenerateRefreshToken signs {sub, type:"refresh", jti, iat, exp}.
func (s *JWTService) GenerateRefreshToken(email, jti string) (string, time.Time, error) {
	if jti == "" {
		return "", time.Time{}, fmt.Errorf("jti is required for refresh tokens")
	}
	return s.sign(email, TokenTypeRefresh, jti, s.refreshTTL)
}

func (s *JWTService) sign(email, tokenType, jti string, ttl time.Duration) (string, time.Time, error) {
	if email == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies signature, algorithm, exp, iat, sub and type=access.
func (s *JWTService) ParseAccess(tokenString string) (*Claims, error) {
	return s.parse(tokenString, TokenTypeAccess)
}

// ParseRefresh verifies like ParseAccess with type=refresh and additionally requires jti.
func (s *JWTService) ParseRefresh(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: jti is missing", ErrTokenClaims)
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString, wantType string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				return nil, ErrTokenMalformed
			case ve.Errors&(jwt.ValidationErrorSignatureInvalid|jwt.ValidationErrorUnverifiable) != 0:
				s.logger.Debug("token signature rejected", zap.Error(err))
				return nil, ErrTokenSignature
			}
		}
		s.logger.Debug("token parse failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	now := s.now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyIssuedAt(now.Add(issuedAtLeeway), true) {
		return nil, fmt.Errorf("%w: iat is missing or in the future", ErrTokenClaims)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub is missing", ErrTokenClaims)
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrTokenType, claims.Type, wantType)
	}
	return claims, nil
}

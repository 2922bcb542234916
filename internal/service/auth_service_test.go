package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yourusername/finance-api/internal/config"
	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	"github.com/yourusername/finance-api/internal/repository/postgres"
	"github.com/yourusername/finance-api/internal/testutil"
	"github.com/yourusername/finance-api/pkg/auth"
	"github.com/yourusername/finance-api/pkg/auth/manager"
)

// ============================================================================
// Mocks
// ============================================================================

type MockEmailService struct {
	mock.Mock
}

func (m *MockEmailService) SendVerificationCode(ctx context.Context, toEmail, code, idempotencyKey string) error {
	args := m.Called(ctx, toEmail, code, idempotencyKey)
	return args.Error(0)
}

type MockCacheRepository struct {
	mock.Mock
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockCacheRepository) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

func (m *MockUserRepository) UpsertPassword(ctx context.Context, email, passwordHash string) (*entity.User, error) {
	args := m.Called(ctx, email, passwordHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

// failingUpsertRepo fails the first failUpserts calls to Upsert.
type failingUpsertRepo struct {
	repository.EmailVerificationRepository
	failUpserts int
}

func (r *failingUpsertRepo) Upsert(ctx context.Context, record *entity.EmailVerification) error {
	if r.failUpserts > 0 {
		r.failUpserts--
		return errors.New("db blip")
	}
	return r.EmailVerificationRepository.Upsert(ctx, record)
}

type stubVerifier struct {
	err error
}

func (s stubVerifier) CheckVerifiedWindow(ctx context.Context, email string) error {
	return s.err
}

// ============================================================================
// Fixture over an in-memory database
// ============================================================================

type authFixture struct {
	db       *gorm.DB
	mailer   *testutil.CaptureMailer
	codes    *CodeIssuer
	creds    *CredentialStore
	jwt      *auth.JWTService
	sessions *SessionAuthenticator
	svc      *AuthService
	base     time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)

	userRepo, err := postgres.NewUserRepo(db)
	require.NoError(t, err)
	codeRepo, err := postgres.NewEmailVerificationRepo(db)
	require.NoError(t, err)
	tokenRepo, err := postgres.NewRefreshTokenRepo(db)
	require.NoError(t, err)

	mailer := testutil.NewCaptureMailer()
	codes, err := NewCodeIssuer(codeRepo, mailer, nil, CodeIssuerConfig{
		CodeTTL:      5 * time.Minute,
		MaxAttempts:  5,
		VerifyWindow: 5 * time.Minute,
		Pepper:       "pepper",
	})
	require.NoError(t, err)
	base := time.Now().UTC()
	codes.SetClock(func() time.Time { return base })

	creds, err := NewCredentialStore(userRepo, codes, bcrypt.MinCost)
	require.NoError(t, err)

	jwtService, err := auth.NewJWTService("test-secret", "HS256", 30*time.Minute, 14*24*time.Hour)
	require.NoError(t, err)
	issuer, err := manager.NewTokenIssuer(jwtService, tokenRepo)
	require.NoError(t, err)
	ledger, err := manager.NewRefreshLedger(jwtService, tokenRepo, issuer)
	require.NoError(t, err)
	sessions, err := NewSessionAuthenticator(jwtService, userRepo)
	require.NoError(t, err)

	svc, err := NewAuthService(codes, creds, issuer, ledger, sessions)
	require.NoError(t, err)

	return &authFixture{
		db:       db,
		mailer:   mailer,
		codes:    codes,
		creds:    creds,
		jwt:      jwtService,
		sessions: sessions,
		svc:      svc,
		base:     base,
	}
}

func (f *authFixture) at(d time.Duration) {
	f.codes.SetClock(func() time.Time { return f.base.Add(d) })
}

func (f *authFixture) verified(t *testing.T, email string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.RequestCode(ctx, email))
	require.NoError(t, f.svc.VerifyCode(ctx, email, f.mailer.Code(email)))
}

// ============================================================================
// CodeIssuer
// ============================================================================

func TestRequestCode_SingleRecordPerEmail(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestCode(ctx, "  A@Example.com "))
	first := f.mailer.Code("a@example.com")
	require.Len(t, first, 6)

	err := f.svc.VerifyCode(ctx, "a@example.com", testutil.WrongCode(first))
	require.ErrorIs(t, err, ErrInvalidCode)
	var before entity.EmailVerification
	require.NoError(t, f.db.First(&before, "email = ?", "a@example.com").Error)
	assert.Equal(t, 4, before.AttemptsLeft)

	require.NoError(t, f.svc.RequestCode(ctx, "a@example.com"))

	var rows []entity.EmailVerification
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "a@example.com", rows[0].Email)
	assert.Equal(t, 5, rows[0].AttemptsLeft, "a new request resets attempts")
	assert.False(t, rows[0].Used)
	assert.NotEqual(t, f.mailer.Code("a@example.com"), rows[0].CodeHash, "only the digest is stored")
}

func TestVerifyCode_WrongFiveTimesThenExhausted(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestCode(ctx, "a@x.com"))
	code := f.mailer.Code("a@x.com")
	wrong := testutil.WrongCode(code)

	for want := 4; want >= 0; want-- {
		err := f.svc.VerifyCode(ctx, "a@x.com", wrong)
		require.ErrorIs(t, err, ErrInvalidCode)
		var invalid *InvalidCodeError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, want, invalid.AttemptsLeft)
	}

	err := f.svc.VerifyCode(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, ErrCodeAttemptsExhausted)

	var rec entity.EmailVerification
	require.NoError(t, f.db.First(&rec, "email = ?", "a@x.com").Error)
	assert.Equal(t, 0, rec.AttemptsLeft)
	assert.False(t, rec.Used)
}

func TestVerifyCode_CheckOrder(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	err := f.svc.VerifyCode(ctx, "nobody@x.com", "123456")
	assert.ErrorIs(t, err, ErrCodeNotRequested)

	require.NoError(t, f.svc.RequestCode(ctx, "a@x.com"))
	code := f.mailer.Code("a@x.com")

	// Expired wins over a wrong code and does not consume an attempt.
	f.at(5*time.Minute + time.Second)
	err = f.svc.VerifyCode(ctx, "a@x.com", testutil.WrongCode(code))
	assert.ErrorIs(t, err, ErrCodeExpired)

	f.at(5 * time.Minute)
	require.NoError(t, f.svc.VerifyCode(ctx, "a@x.com", code), "the expiry instant is still valid")

	// Used wins over expired.
	f.at(time.Hour)
	err = f.svc.VerifyCode(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, ErrCodeAlreadyUsed)
}

func TestVerifyCode_SuccessThenAlreadyUsed(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestCode(ctx, "a@x.com"))
	code := f.mailer.Code("a@x.com")

	require.NoError(t, f.svc.VerifyCode(ctx, "A@X.com", code))

	var rec entity.EmailVerification
	require.NoError(t, f.db.First(&rec, "email = ?", "a@x.com").Error)
	assert.True(t, rec.Used)
	require.NotNil(t, rec.VerifiedAt)
	assert.WithinDuration(t, f.base, *rec.VerifiedAt, time.Millisecond)

	assert.ErrorIs(t, f.svc.VerifyCode(ctx, "a@x.com", code), ErrCodeAlreadyUsed)
}

func TestVerifyCode_ConcurrentWrongGuesses(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestCode(ctx, "a@x.com"))
	wrong := testutil.WrongCode(f.mailer.Code("a@x.com"))

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		invalid   int
		exhausted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.VerifyCode(ctx, "a@x.com", wrong)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvalidCode):
				invalid++
			case errors.Is(err, ErrCodeAttemptsExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, invalid)
	assert.Equal(t, callers-5, exhausted)

	var rec entity.EmailVerification
	require.NoError(t, f.db.First(&rec, "email = ?", "a@x.com").Error)
	assert.Equal(t, 0, rec.AttemptsLeft)
}

func TestRequestCode_SendFailureIsSwallowed(t *testing.T) {
	f := newAuthFixture(t)
	f.mailer.Err = errors.New("smtp down")

	err := f.svc.RequestCode(context.Background(), "a@x.com")

	assert.NoError(t, err)
	assert.Equal(t, 1, f.mailer.Sent())
	var count int64
	require.NoError(t, f.db.Model(&entity.EmailVerification{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRequestCode_ResendCooldown(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	codeRepo, err := postgres.NewEmailVerificationRepo(db)
	require.NoError(t, err)

	// Arrange
	mailer := new(MockEmailService)
	cache := new(MockCacheRepository)
	cache.On("SetNX", mock.Anything, "auth:code_cooldown:a@x.com", 1, time.Minute).Return(true, nil).Once()
	cache.On("SetNX", mock.Anything, "auth:code_cooldown:a@x.com", 1, time.Minute).Return(false, nil).Once()
	cache.On("SetNX", mock.Anything, "auth:code_cooldown:b@x.com", 1, time.Minute).Return(false, errors.New("redis down")).Once()
	mailer.On("SendVerificationCode", mock.Anything, "a@x.com", mock.AnythingOfType("string"), mock.AnythingOfType("string")).Return(nil).Once()
	mailer.On("SendVerificationCode", mock.Anything, "b@x.com", mock.AnythingOfType("string"), mock.AnythingOfType("string")).Return(nil).Once()

	codes, err := NewCodeIssuer(codeRepo, mailer, cache, CodeIssuerConfig{ResendCooldown: time.Minute})
	require.NoError(t, err)

	// Act
	require.NoError(t, codes.RequestCode(context.Background(), "a@x.com"))
	require.NoError(t, codes.RequestCode(context.Background(), "a@x.com"))
	require.NoError(t, codes.RequestCode(context.Background(), "b@x.com"))

	// Assert
	cache.AssertExpectations(t)
	mailer.AssertExpectations(t)
	mailer.AssertNumberOfCalls(t, "SendVerificationCode", 2)
}

func TestRequestCode_StoreFailureReleasesCooldown(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	codeRepo, err := postgres.NewEmailVerificationRepo(db)
	require.NoError(t, err)

	// Arrange
	repo := &failingUpsertRepo{EmailVerificationRepository: codeRepo, failUpserts: 1}
	mailer := testutil.NewCaptureMailer()
	cache := new(MockCacheRepository)
	cache.On("SetNX", mock.Anything, "auth:code_cooldown:a@x.com", 1, time.Minute).Return(true, nil).Twice()
	cache.On("Delete", mock.Anything, "auth:code_cooldown:a@x.com").Return(nil).Once()

	codes, err := NewCodeIssuer(repo, mailer, cache, CodeIssuerConfig{ResendCooldown: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	// Act
	first := codes.RequestCode(ctx, "a@x.com")
	second := codes.RequestCode(ctx, "a@x.com")

	// Assert
	require.Error(t, first)
	require.NoError(t, second)
	assert.Equal(t, 1, mailer.Sent())
	require.NoError(t, codes.VerifyCode(ctx, "a@x.com", mailer.Code("a@x.com")))
	cache.AssertExpectations(t)
}

// ============================================================================
// CredentialStore
// ============================================================================

func TestSetPassword_VerifyWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "immediately", elapsed: 0},
		{name: "at five minutes", elapsed: 5 * time.Minute},
		{name: "at six minutes", elapsed: 6 * time.Minute, wantErr: ErrCodeExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.verified(t, "a@x.com")
			f.at(tt.elapsed)

			pair, err := f.svc.SetPassword(context.Background(), "a@x.com", "password123")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrVerificationWindowExpired)
				assert.Nil(t, pair)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "bearer", pair.TokenType)
		})
	}
}

func TestSetPassword_RequiresVerification(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetPassword(ctx, "a@x.com", "password123")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	require.NoError(t, f.svc.RequestCode(ctx, "a@x.com"))
	_, err = f.svc.SetPassword(ctx, "a@x.com", "password123")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestSetPassword_UpdatesExistingUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.verified(t, "a@x.com")

	_, err := f.svc.SetPassword(ctx, "a@x.com", "first-password")
	require.NoError(t, err)
	_, err = f.svc.SetPassword(ctx, "a@x.com", "second-password")
	require.NoError(t, err)

	var users []entity.User
	require.NoError(t, f.db.Find(&users).Error)
	require.Len(t, users, 1)

	_, err = f.svc.Login(ctx, "a@x.com", "first-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "a@x.com", "second-password")
	assert.NoError(t, err)
}

func TestCredentialStore_LongPasswords(t *testing.T) {
	creds, err := NewCredentialStore(new(MockUserRepository), stubVerifier{}, bcrypt.MinCost)
	require.NoError(t, err)

	long := make([]byte, 128)
	for i := range long {
		long[i] = 'a'
	}
	other := append([]byte{}, long...)
	other[100] = 'b'

	hash, err := creds.HashPassword(string(long))
	require.NoError(t, err)
	assert.True(t, creds.VerifyPassword(hash, string(long)))
	assert.False(t, creds.VerifyPassword(hash, string(other)), "bytes past 72 still count")
}

func TestNewCredentialStore_Validation(t *testing.T) {
	_, err := NewCredentialStore(nil, stubVerifier{}, bcrypt.MinCost)
	assert.Error(t, err)
	_, err = NewCredentialStore(new(MockUserRepository), nil, bcrypt.MinCost)
	assert.Error(t, err)
	_, err = NewCredentialStore(new(MockUserRepository), stubVerifier{}, 3)
	assert.Error(t, err)
}

func TestCredentialStore_SetPasswordRepoFailure(t *testing.T) {
	// Arrange
	repo := new(MockUserRepository)
	repo.On("UpsertPassword", mock.Anything, "a@x.com", mock.AnythingOfType("string")).Return(nil, errors.New("connection reset"))
	creds, err := NewCredentialStore(repo, stubVerifier{}, bcrypt.MinCost)
	require.NoError(t, err)

	// Act
	user, err := creds.SetPassword(context.Background(), "A@x.com", "password123")

	// Assert
	assert.Nil(t, user)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	repo.AssertExpectations(t)
}

// ============================================================================
// Login / Refresh / Logout
// ============================================================================

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.verified(t, "a@x.com")
	_, err := f.svc.SetPassword(ctx, "a@x.com", "password123")
	require.NoError(t, err)
	testutil.CreateUser(t, f.db, "nopass@x.com", nil)

	_, errUnknown := f.svc.Login(ctx, "ghost@x.com", "password123")
	_, errWrong := f.svc.Login(ctx, "a@x.com", "wrong-password")
	_, errNoPass := f.svc.Login(ctx, "nopass@x.com", "password123")

	for _, err := range []error{errUnknown, errWrong, errNoPass} {
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, ErrInvalidCredentials.Error(), err.Error())
	}
}

func TestLogin_CreatesLedgerRow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.verified(t, "a@x.com")
	_, err := f.svc.SetPassword(ctx, "a@x.com", "password123")
	require.NoError(t, err)
	before := time.Now().UTC()

	pair, err := f.svc.Login(ctx, "A@x.com", "password123")

	require.NoError(t, err)
	var row entity.RefreshToken
	require.NoError(t, f.db.First(&row, "jti = ?", pair.JTI).Error)
	assert.False(t, row.Revoked)
	assert.WithinDuration(t, before.Add(14*24*time.Hour), row.ExpiresAt, 2*time.Second)

	user, err := f.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.verified(t, "a@x.com")
	pair, err := f.svc.SetPassword(ctx, "a@x.com", "password123")
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.JTI, next.JTI)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Refresh(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func TestLogout_AlwaysSucceeds(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.verified(t, "a@x.com")
	pair, err := f.svc.SetPassword(ctx, "a@x.com", "password123")
	require.NoError(t, err)

	f.svc.Logout(ctx, "garbage")
	f.svc.Logout(ctx, pair.RefreshToken)
	f.svc.Logout(ctx, pair.RefreshToken)

	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

// ============================================================================
// SessionAuthenticator
// ============================================================================

func TestSessionAuthenticator_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	testutil.CreateUser(t, f.db, "a@x.com", nil)

	access, _, err := f.jwt.GenerateAccessToken("a@x.com")
	require.NoError(t, err)
	refresh, _, err := f.jwt.GenerateRefreshToken("a@x.com", "jti")
	require.NoError(t, err)
	ghost, _, err := f.jwt.GenerateAccessToken("ghost@x.com")
	require.NoError(t, err)

	user, err := f.sessions.Authenticate(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)

	tests := []struct {
		name     string
		token    string
		wantType manager.TokenErrorType
	}{
		{"garbage", "garbage", manager.InvalidAccessToken},
		{"refresh token", refresh, manager.InvalidAccessToken},
		{"unknown subject", ghost, manager.UserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sessions.Authenticate(ctx, tt.token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			var tokenErr *manager.TokenError
			require.ErrorAs(t, err, &tokenErr)
			assert.Equal(t, tt.wantType, tokenErr.Type)
		})
	}

	f.jwt.SetClock(func() time.Time { return time.Now().UTC().Add(31 * time.Minute) })
	_, err = f.sessions.Authenticate(ctx, access)
	var tokenErr *manager.TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, manager.ExpiredAccessToken, tokenErr.Type)
}

func TestNewAuthService_MissingDependencies(t *testing.T) {
	f := newAuthFixture(t)
	_, err := NewAuthService(nil, f.creds, nil, nil, f.sessions)
	assert.Error(t, err)
}

func TestNewEmailService(t *testing.T) {
	svc, err := NewEmailService(emailConfig("noop"), 5*time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &NoopEmailService{}, svc)

	cfg := emailConfig("smtp")
	cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword = "smtp.example.com", 465, "user", "secret"
	svc, err = NewEmailService(cfg, 5*time.Minute)
	require.NoError(t, err)
	smtp, ok := svc.(*SMTPEmailService)
	require.True(t, ok)
	assert.True(t, smtp.dialer.SSL)
	assert.Equal(t, "user", smtp.from)

	_, err = NewEmailService(emailConfig("resend"), 5*time.Minute)
	assert.Error(t, err)

	_, err = NewEmailService(emailConfig("pigeon"), 5*time.Minute)
	assert.Error(t, err)

	assert.Contains(t, verificationHTML("123456", 5*time.Minute), "5 minutes")
	assert.Contains(t, verificationHTML("123456", 5*time.Minute), "123456")
}

func emailConfig(provider string) config.EmailConfig {
	return config.EmailConfig{Provider: provider}
}

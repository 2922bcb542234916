package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
	apperrors "github.com/yourusername/finance-api/internal/pkg/errors"
	"github.com/yourusername/finance-api/internal/testutil"
)

func TestNewRepos_NilDB(t *testing.T) {
	_, err := NewUserRepo(nil)
	assert.Error(t, err)
	_, err = NewEmailVerificationRepo(nil)
	assert.Error(t, err)
	_, err = NewRefreshTokenRepo(nil)
	assert.Error(t, err)
}

func TestUserRepo_UpsertPassword(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo, err := NewUserRepo(db)
	require.NoError(t, err)

	_, err = repo.GetByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	first, err := repo.UpsertPassword(ctx, "a@example.com", "hash-1")
	require.NoError(t, err)
	require.NotNil(t, first.PasswordHash)
	assert.Equal(t, "hash-1", *first.PasswordHash)

	second, err := repo.UpsertPassword(ctx, "a@example.com", "hash-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same account is updated in place")
	assert.Equal(t, "hash-2", *second.PasswordHash)

	var count int64
	require.NoError(t, db.Model(&entity.User{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	byEmail, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, byEmail.ID)

	_, err = repo.GetByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func newVerification(email string, now time.Time, attempts int) *entity.EmailVerification {
	return &entity.EmailVerification{
		Email:        email,
		CodeHash:     "digest",
		ExpiresAt:    now.Add(5 * time.Minute),
		AttemptsLeft: attempts,
		CreatedAt:    now,
	}
}

func TestEmailVerificationRepo_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	repo, err := NewEmailVerificationRepo(testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	now := time.Now().UTC()

	require.NoError(t, repo.Upsert(ctx, newVerification("a@example.com", now, 5)))
	ok, err := repo.MarkUsed(ctx, "a@example.com", now)
	require.NoError(t, err)
	require.True(t, ok)

	fresh := newVerification("a@example.com", now.Add(time.Minute), 5)
	fresh.CodeHash = "digest-2"
	require.NoError(t, repo.Upsert(ctx, fresh))

	got, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "digest-2", got.CodeHash)
	assert.False(t, got.Used)
	assert.Nil(t, got.VerifiedAt)
	assert.Equal(t, 5, got.AttemptsLeft)
}

func TestEmailVerificationRepo_DecrementStopsAtZero(t *testing.T) {
	ctx := context.Background()
	repo, err := NewEmailVerificationRepo(testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, newVerification("a@example.com", time.Now().UTC(), 2)))

	for i := 0; i < 2; i++ {
		ok, err := repo.DecrementAttempts(ctx, "a@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := repo.DecrementAttempts(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, got.AttemptsLeft)
}

func TestEmailVerificationRepo_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	repo, err := NewEmailVerificationRepo(testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, newVerification("a@example.com", now, 5)))

	ok, err := repo.MarkUsed(ctx, "a@example.com", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkUsed(ctx, "a@example.com", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByEmailForUpdate(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got.VerifiedAt)
	assert.WithinDuration(t, now, *got.VerifiedAt, time.Millisecond)
}

func TestEmailVerificationRepo_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo, err := NewEmailVerificationRepo(testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, newVerification("a@example.com", time.Now().UTC(), 5)))

	err = repo.WithinTx(ctx, func(tx repository.EmailVerificationRepository) error {
		if _, err := tx.DecrementAttempts(ctx, "a@example.com"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := repo.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5, got.AttemptsLeft)
}

func TestEmailVerificationRepo_DeleteCreatedBefore(t *testing.T) {
	ctx := context.Background()
	repo, err := NewEmailVerificationRepo(testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, newVerification("old@example.com", now.Add(-48*time.Hour), 5)))
	require.NoError(t, repo.Upsert(ctx, newVerification("new@example.com", now, 5)))

	n, err := repo.DeleteCreatedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetByEmail(ctx, "old@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = repo.GetByEmail(ctx, "new@example.com")
	assert.NoError(t, err)
}

func TestRefreshTokenRepo_FindForSubjectRequiresAllThree(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo, err := NewRefreshTokenRepo(db)
	require.NoError(t, err)
	owner := testutil.CreateUser(t, db, "owner@example.com", nil)
	testutil.CreateUser(t, db, "other@example.com", nil)
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, entity.NewRefreshToken(owner.ID, "digest", "jti-1", now, now.Add(time.Hour))))

	got, err := repo.FindForSubject(ctx, "owner@example.com", "jti-1", "digest")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.UserID)

	tests := []struct {
		name, email, jti, hash string
	}{
		{"wrong owner", "other@example.com", "jti-1", "digest"},
		{"wrong jti", "owner@example.com", "jti-2", "digest"},
		{"wrong digest", "owner@example.com", "jti-1", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.FindForSubject(ctx, tt.email, tt.jti, tt.hash)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestRefreshTokenRepo_CreateDuplicateJTI(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo, err := NewRefreshTokenRepo(db)
	require.NoError(t, err)
	owner := testutil.CreateUser(t, db, "owner@example.com", nil)
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, entity.NewRefreshToken(owner.ID, "d1", "jti-1", now, now.Add(time.Hour))))
	assert.Error(t, repo.Create(ctx, entity.NewRefreshToken(owner.ID, "d2", "jti-1", now, now.Add(time.Hour))))
}

func TestRefreshTokenRepo_RevokeIfActiveConcurrent(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo, err := NewRefreshTokenRepo(db)
	require.NoError(t, err)
	owner := testutil.CreateUser(t, db, "owner@example.com", nil)
	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, entity.NewRefreshToken(owner.ID, "digest", "jti-1", now, now.Add(time.Hour))))

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.RevokeIfActive(ctx, "jti-1", time.Now().UTC())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := repo.FindForSubject(ctx, "owner@example.com", "jti-1", "digest")
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.NotNil(t, got.RevokedAt)
}

func TestRefreshTokenRepo_ListAndDeleteInactive(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	repo, err := NewRefreshTokenRepo(db)
	require.NoError(t, err)
	owner := testutil.CreateUser(t, db, "owner@example.com", nil)
	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)

	require.NoError(t, repo.Create(ctx, entity.NewRefreshToken(owner.ID, "d1", "expired", old, old.Add(time.Hour))))
	revoked := entity.NewRefreshToken(owner.ID, "d2", "revoked", old, now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, revoked))
	_, err = repo.RevokeIfActive(ctx, "revoked", now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, entity.NewRefreshToken(owner.ID, "d3", "active", old, now.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, entity.NewRefreshToken(owner.ID, "d4", "recent", now, now.Add(-time.Minute))))

	rows, err := repo.ListInactiveBefore(ctx, now.Add(-7*24*time.Hour), now, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "expired", rows[0].JTI)
	assert.Equal(t, "revoked", rows[1].JTI)

	n, err := repo.DeleteByIDs(ctx, []uint{rows[0].ID, rows[1].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

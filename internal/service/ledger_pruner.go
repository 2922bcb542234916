package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/yourusername/finance-api/internal/domain/entity"
	"github.com/yourusername/finance-api/internal/domain/repository"
)

const (
	pruneBatchSize   = 500
	archiveSheetName = "refresh_tokens"
)

// PruneOptions controls one pruning run.
type PruneOptions struct {
	// Retention keeps every row created within this period.
	Retention time.Duration
	DryRun    bool
	// Archive, when set, receives an xlsx copy of the deleted ledger rows.
	Archive io.Writer
}

type PruneResult struct {
	RefreshTokens int64
	EmailCodes    int64
}

// LedgerPruner physically removes dead ledger rows and stale email codes.
// It is operator tooling and never runs while serving requests.
type LedgerPruner struct {
	refreshTokenRepo repository.RefreshTokenRepository
	codeRepo         repository.EmailVerificationRepository
	now              func() time.Time
	logger           *zap.Logger
}

func NewLedgerPruner(refreshTokenRepo repository.RefreshTokenRepository, codeRepo repository.EmailVerificationRepository) (*LedgerPruner, error) {
	if refreshTokenRepo == nil || codeRepo == nil {
		return nil, fmt.Errorf("refresh token and email verification repositories are required")
	}
	return &LedgerPruner{
		refreshTokenRepo: refreshTokenRepo,
		codeRepo:         codeRepo,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           zap.L().Named("pruner"),
	}, nil
}

func (p *LedgerPruner) SetClock(now func() time.Time) {
	p.now = now
}

// Prune deletes revoked or expired ledger rows and email codes created before now-Retention.
func (p *LedgerPruner) Prune(ctx context.Context, opts PruneOptions) (PruneResult, error) {
	var result PruneResult
	if opts.Retention <= 0 {
		return result, fmt.Errorf("retention must be positive")
	}
	now := p.now()
	cutoff := now.Add(-opts.Retention)

	var archived []entity.RefreshToken
	if opts.DryRun {
		rows, err := p.refreshTokenRepo.ListInactiveBefore(ctx, cutoff, now, 0)
		if err != nil {
			return result, err
		}
		result.RefreshTokens = int64(len(rows))
		archived = rows
	} else {
		for {
			batch, err := p.refreshTokenRepo.ListInactiveBefore(ctx, cutoff, now, pruneBatchSize)
			if err != nil {
				return result, err
			}
			if len(batch) == 0 {
				break
			}
			if opts.Archive != nil {
				archived = append(archived, batch...)
			}

			ids := make([]uint, len(batch))
			for i, row := range batch {
				ids[i] = row.ID
			}
			deleted, err := p.refreshTokenRepo.DeleteByIDs(ctx, ids)
			if err != nil {
				return result, err
			}
			result.RefreshTokens += deleted
			if len(batch) < pruneBatchSize {
				break
			}
		}
	}

	if !opts.DryRun {
		deleted, err := p.codeRepo.DeleteCreatedBefore(ctx, cutoff)
		if err != nil {
			return result, err
		}
		result.EmailCodes = deleted
	}

	if opts.Archive != nil {
		if err := writeArchive(opts.Archive, archived); err != nil {
			return result, err
		}
	}

	p.logger.Info("prune finished",
		zap.Time("cutoff", cutoff),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int64("refresh_tokens", result.RefreshTokens),
		zap.Int64("email_codes", result.EmailCodes))
	return result, nil
}

func writeArchive(w io.Writer, rows []entity.RefreshToken) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", archiveSheetName); err != nil {
		return fmt.Errorf("failed to name archive sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(archiveSheetName)
	if err != nil {
		return fmt.Errorf("failed to create archive writer: %w", err)
	}

	headers := []interface{}{"id", "user_id", "jti", "created_at", "expires_at", "revoked", "revoked_at"}
	if err := sw.SetRow("A1", headers); err != nil {
		return fmt.Errorf("failed to write archive header: %w", err)
	}
	for i, row := range rows {
		revokedAt := ""
		if row.RevokedAt != nil {
			revokedAt = row.RevokedAt.UTC().Format(time.RFC3339)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{
			row.ID,
			row.UserID,
			row.JTI,
			row.CreatedAt.UTC().Format(time.RFC3339),
			row.ExpiresAt.UTC().Format(time.RFC3339),
			row.Revoked,
			revokedAt,
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write archive row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

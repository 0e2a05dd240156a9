package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/internal/invite/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, invite domain.Invite) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO invites (id, org_id, email, token_hash, status, invited_by, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		invite.ID,
		invite.OrgID,
		invite.Email,
		invite.TokenHash,
		invite.Status,
		invite.InvitedBy,
		invite.CreatedAt,
		invite.ExpiresAt,
	).Error
}

func (r *repository) FindByTokenHash(ctx context.Context, hash string) (*domain.Invite, error) {
	return r.take(ctx, "token_hash = ?", hash)
}

func (r *repository) FindByID(ctx context.Context, orgID, id snowflake.ID) (*domain.Invite, error) {
	return r.take(ctx, "org_id = ? AND id = ?", orgID, id)
}

func (r *repository) FindPending(ctx context.Context, orgID snowflake.ID, email string) (*domain.Invite, error) {
	return r.take(ctx, "org_id = ? AND email = ? AND status = ?", orgID, email, domain.StatusPending)
}

func (r *repository) take(ctx context.Context, query string, args ...any) (*domain.Invite, error) {
	var invite domain.Invite
	err := r.db.WithContext(ctx).Where(query, args...).Take(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repository) ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Invite, error) {
	var invites []domain.Invite
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, email, token_hash, status, invited_by, accepted_by,
		        created_at, expires_at, accepted_at, cancelled_at
		 FROM invites
		 WHERE org_id = ?
		 ORDER BY created_at DESC, id DESC`,
		orgID,
	).Scan(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}

// CountOpen counts pending invites that still hold a seat.
func (r *repository) CountOpen(ctx context.Context, orgID snowflake.ID, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invites WHERE org_id = ? AND status = ? AND expires_at > ?`,
		orgID, domain.StatusPending, now,
	).Scan(&count).Error
	return count, err
}

func (r *repository) MarkExpired(ctx context.Context, id snowflake.ID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invites SET status = ? WHERE id = ? AND status = ? AND expires_at <= ?`,
		domain.StatusExpired, id, domain.StatusPending, now,
	)
	return result.RowsAffected, result.Error
}

// ExpireStale moves up to limit lapsed pending invites to expired, oldest first.
func (r *repository) ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Raw(
		`SELECT id FROM invites WHERE status = ? AND expires_at <= ? ORDER BY expires_at, id LIMIT ?`,
		domain.StatusPending, now, limit,
	).Scan(&ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Exec(
		`UPDATE invites SET status = ? WHERE id IN ? AND status = ?`,
		domain.StatusExpired, ids, domain.StatusPending,
	)
	return result.RowsAffected, result.Error
}

func (r *repository) Accept(ctx context.Context, id snowflake.ID, userID string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invites SET status = ?, accepted_by = ?, accepted_at = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		domain.StatusAccepted, userID, now, id, domain.StatusPending, now,
	)
	return result.RowsAffected, result.Error
}

func (r *repository) Cancel(ctx context.Context, orgID, id snowflake.ID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE invites SET status = ?, cancelled_at = ?
		 WHERE org_id = ? AND id = ? AND status = ? AND expires_at > ?`,
		domain.StatusCancelled, now, orgID, id, domain.StatusPending, now,
	)
	return result.RowsAffected, result.Error
}

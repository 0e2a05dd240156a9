package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/internal/membership/domain"
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

func (r *repository) Insert(ctx context.Context, m domain.Membership) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO memberships (id, org_id, user_id, email, role, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.OrgID,
		m.UserID,
		m.Email,
		m.Role,
		m.JoinedAt,
	).Error
}

func (r *repository) Get(ctx context.Context, orgID snowflake.ID, userID string) (*domain.Membership, error) {
	var m domain.Membership
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repository) ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Membership, error) {
	var items []domain.Membership
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, user_id, email, role, joined_at
		 FROM memberships
		 WHERE org_id = ?
		 ORDER BY CASE WHEN role = 'owner' THEN 0 ELSE 1 END, joined_at ASC, id ASC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) CountByOrg(ctx context.Context, orgID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Membership{}).
		Where("org_id = ?", orgID).
		Count(&count).Error
	return count, err
}

func (r *repository) DeleteNonOwner(ctx context.Context, orgID snowflake.ID, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM memberships WHERE org_id = ? AND user_id = ? AND role <> ?`,
		orgID,
		userID,
		domain.RoleOwner,
	)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateRole(ctx context.Context, orgID snowflake.ID, userID, fromRole, toRole string) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE memberships SET role = ? WHERE org_id = ? AND user_id = ? AND role = ?`,
		toRole,
		orgID,
		userID,
		fromRole,
	)
	return res.RowsAffected, res.Error
}

func (r *repository) SetOrganizationOwner(ctx context.Context, orgID snowflake.ID, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE organizations SET owner_id = ?, updated_at = ? WHERE id = ?`,
		userID,
		at,
		orgID,
	).Error
}

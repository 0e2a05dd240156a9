package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/internal/organization/domain"
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

func (r *repository) Create(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, slug, owner_id, tier, subscription_status, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Slug,
		org.OwnerID,
		org.Tier,
		org.SubscriptionStatus,
		org.Metadata,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repository) FindActive(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	return r.takeActive(ctx, "id = ?", id)
}

func (r *repository) FindActiveByCustomer(ctx context.Context, customerID string) (*domain.Organization, error) {
	return r.takeActive(ctx, "billing_customer_id = ?", customerID)
}

func (r *repository) takeActive(ctx context.Context, query string, args ...any) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).
		Where(query, args...).
		Where("archived_at IS NULL").
		Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Organization{}).
		Where("slug = ?", slug).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListByUser(ctx context.Context, userID string) ([]domain.OrganizationListItem, error) {
	var items []domain.OrganizationListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, o.slug, o.tier, o.subscription_status, m.role, o.created_at
		 FROM organizations o
		 JOIN memberships m ON m.org_id = o.id
		 WHERE m.user_id = ? AND o.archived_at IS NULL
		 ORDER BY o.created_at ASC, o.id ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListActive(ctx context.Context, filter domain.ListFilter) ([]*domain.Organization, error) {
	var orgs []*domain.Organization
	stmt := r.db.WithContext(ctx).Model(&domain.Organization{}).
		Where("archived_at IS NULL")
	if filter.AfterID != 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repository) Update(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE organizations SET name = ?, tier = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND archived_at IS NULL`,
		org.Name,
		org.Tier,
		org.Metadata,
		org.UpdatedAt,
		org.ID,
	).Error
}

func (r *repository) Archive(ctx context.Context, id snowflake.ID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL`,
		at,
		at,
		id,
	)
	return res.RowsAffected, res.Error
}

func (r *repository) CancelPendingInvites(ctx context.Context, orgID snowflake.ID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invites SET status = 'cancelled', cancelled_at = ? WHERE org_id = ? AND status = 'pending'`,
		at,
		orgID,
	)
	return res.RowsAffected, res.Error
}

func (r *repository) ApplySubscription(ctx context.Context, change domain.SubscriptionChange) (int64, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET subscription_status = ?,
		     tier = COALESCE(NULLIF(?, ''), tier),
		     billing_customer_id = COALESCE(NULLIF(?, ''), billing_customer_id),
		     updated_at = ?
		 WHERE id = ? AND archived_at IS NULL`,
		change.Status,
		change.Tier,
		change.CustomerID,
		change.UpdatedAt,
		change.OrgID,
	)
	return res.RowsAffected, res.Error
}

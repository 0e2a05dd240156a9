package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	AfterID snowflake.ID
	Limit   int
}

type SubscriptionChange struct {
	OrgID      snowflake.ID
	CustomerID string
	Status     string
	Tier       string
	UpdatedAt  time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, org Organization) error
	// FindActive returns nil when the organization is missing or archived.
	FindActive(ctx context.Context, id snowflake.ID) (*Organization, error)
	FindActiveByCustomer(ctx context.Context, customerID string) (*Organization, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]OrganizationListItem, error)
	ListActive(ctx context.Context, filter ListFilter) ([]*Organization, error)
	Update(ctx context.Context, org Organization) error
	Archive(ctx context.Context, id snowflake.ID, at time.Time) (int64, error)
	CancelPendingInvites(ctx context.Context, orgID snowflake.ID, at time.Time) (int64, error)
	ApplySubscription(ctx context.Context, change SubscriptionChange) (int64, error)
}

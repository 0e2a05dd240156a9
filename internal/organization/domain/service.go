package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/pkg/db/pagination"
)

const MaxNameLength = 100

type Service interface {
	Create(ctx context.Context, ownerID string, req CreateOrganizationRequest) (*Organization, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	ListByUser(ctx context.Context, userID string) ([]OrganizationListItem, error)
	Update(ctx context.Context, actorID string, id snowflake.ID, req UpdateOrganizationRequest) (*Organization, error)
	Archive(ctx context.Context, actorID string, id snowflake.ID) (*ArchiveResult, error)
	ListAll(ctx context.Context, page pagination.Pagination) (*ListOrganizationsResponse, error)
	ApplySubscription(ctx context.Context, change SubscriptionChange) error
}

type CreateOrganizationRequest struct {
	Name       string
	Tier       string
	OwnerEmail string
	Metadata   map[string]any
}

// UpdateOrganizationRequest is a partial update; nil fields are left untouched.
type UpdateOrganizationRequest struct {
	Name     *string
	Tier     *string
	Metadata map[string]any
}

type ArchiveResult struct {
	Organization     *Organization `json:"organization"`
	CancelledInvites int64         `json:"cancelled_invites"`
}

type ListOrganizationsResponse struct {
	pagination.PageInfo
	Organizations []*Organization `json:"organizations"`
}

var (
	ErrNotFound         = errors.New("organization_not_found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidTier      = errors.New("invalid_tier")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidStatus    = errors.New("invalid_subscription_status")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)

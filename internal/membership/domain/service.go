package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, m Membership) error
	Get(ctx context.Context, orgID snowflake.ID, userID string) (*Membership, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID) ([]Membership, error)
	CountByOrg(ctx context.Context, orgID snowflake.ID) (int64, error)
	// DeleteNonOwner removes the membership unless it holds the owner role.
	DeleteNonOwner(ctx context.Context, orgID snowflake.ID, userID string) (int64, error)
	UpdateRole(ctx context.Context, orgID snowflake.ID, userID, fromRole, toRole string) (int64, error)
	SetOrganizationOwner(ctx context.Context, orgID snowflake.ID, userID string, at time.Time) error
}

type Service interface {
	ListMembers(ctx context.Context, orgID snowflake.ID) ([]Membership, error)
	RemoveMember(ctx context.Context, actorID string, orgID snowflake.ID, userID string) error
	TransferOwnership(ctx context.Context, actorID string, orgID snowflake.ID, newOwnerID string) error
	IsMember(ctx context.Context, orgID snowflake.ID, userID string) (bool, error)
	IsOwner(ctx context.Context, orgID snowflake.ID, userID string) (bool, error)
	RoleOf(ctx context.Context, orgID snowflake.ID, userID string) (string, error)
}

var (
	ErrNotFound      = errors.New("membership_not_found")
	ErrForbidden     = errors.New("forbidden")
	ErrSoleOwner     = errors.New("sole_owner")
	ErrAlreadyMember = errors.New("already_member")
	ErrInvalidUser   = errors.New("invalid_user")
)

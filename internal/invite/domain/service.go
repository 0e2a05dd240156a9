package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, invite Invite) error
	FindByTokenHash(ctx context.Context, hash string) (*Invite, error)
	FindByID(ctx context.Context, orgID, id snowflake.ID) (*Invite, error)
	FindPending(ctx context.Context, orgID snowflake.ID, email string) (*Invite, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID) ([]Invite, error)
	CountOpen(ctx context.Context, orgID snowflake.ID, now time.Time) (int64, error)
	MarkExpired(ctx context.Context, id snowflake.ID, now time.Time) (int64, error)
	ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error)
	// Accept flips a pending, unexpired invite to accepted. Zero rows means another caller won.
	Accept(ctx context.Context, id snowflake.ID, userID string, now time.Time) (int64, error)
	Cancel(ctx context.Context, orgID, id snowflake.ID, now time.Time) (int64, error)
}

type Service interface {
	Create(ctx context.Context, issuerID string, orgID snowflake.ID, email string) (*CreateResult, error)
	GetByToken(ctx context.Context, token string) (*View, error)
	Accept(ctx context.Context, token string, userID string, email string) (*AcceptResult, error)
	Cancel(ctx context.Context, actorID string, orgID, inviteID snowflake.ID) (*View, error)
	ListByOrg(ctx context.Context, actorID string, orgID snowflake.ID) ([]View, error)
	ExpireStale(ctx context.Context, limit int) (int64, error)
}

type CreateResult struct {
	Invite View   `json:"invite"`
	Token  string `json:"token"`
}

type AcceptResult struct {
	Invite     View                        `json:"invite"`
	Membership membershipdomain.Membership `json:"membership"`
}

var (
	ErrNotFound         = errors.New("invite_not_found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrPendingInvite    = errors.New("invite_already_pending")
	ErrAlreadyMember    = errors.New("already_member")
	ErrAlreadyUsed      = errors.New("invite_already_used")
	ErrNotPending       = errors.New("invite_not_pending")
	ErrExpired          = errors.New("invite_expired")
	ErrSeatLimitReached = errors.New("seat_limit_reached")
)

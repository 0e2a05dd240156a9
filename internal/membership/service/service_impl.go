package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/membership/domain"
	"github.com/stencilflow/stencilflow/internal/observability/logger"
	obsmetrics "github.com/stencilflow/stencilflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("membership.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) ListMembers(ctx context.Context, orgID snowflake.ID) ([]domain.Membership, error) {
	if orgID == 0 {
		return nil, domain.ErrNotFound
	}
	return s.repo.ListByOrg(ctx, orgID)
}

// RemoveMember lets the owner remove anyone but themselves and lets a member leave.
// The owner row is never deleted here; ownership has to be transferred first.
func (s *Service) RemoveMember(ctx context.Context, actorID string, orgID snowflake.ID, userID string) error {
	actorID = strings.TrimSpace(actorID)
	userID = strings.TrimSpace(userID)
	if actorID == "" || userID == "" {
		return domain.ErrInvalidUser
	}

	var removed domain.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		actor, err := repo.Get(ctx, orgID, actorID)
		if err != nil {
			return err
		}
		if actor == nil {
			return domain.ErrNotFound
		}

		target, err := repo.Get(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.ErrNotFound
		}
		if actorID != userID && !actor.IsOwner() {
			return domain.ErrForbidden
		}
		if target.IsOwner() {
			return domain.ErrSoleOwner
		}

		rows, err := repo.DeleteNonOwner(ctx, orgID, userID)
		if err != nil {
			return err
		}
		if rows == 0 {
			// Promoted to owner by a concurrent transfer since the read above.
			return domain.ErrSoleOwner
		}
		removed = *target
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordMembership(ctx, "removed")
	s.audit(ctx, orgID, actorID, auditdomain.ActionMemberRemove, removed.UserID, map[string]any{
		"email":      removed.Email,
		"self_leave": actorID == userID,
	})
	return nil
}

func (s *Service) TransferOwnership(ctx context.Context, actorID string, orgID snowflake.ID, newOwnerID string) error {
	actorID = strings.TrimSpace(actorID)
	newOwnerID = strings.TrimSpace(newOwnerID)
	if actorID == "" || newOwnerID == "" {
		return domain.ErrInvalidUser
	}
	if actorID == newOwnerID {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		actor, err := repo.Get(ctx, orgID, actorID)
		if err != nil {
			return err
		}
		if actor == nil {
			return domain.ErrNotFound
		}
		if !actor.IsOwner() {
			return domain.ErrForbidden
		}

		target, err := repo.Get(ctx, orgID, newOwnerID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.ErrNotFound
		}

		// Demote first: the single-owner index rejects two owners even inside a transaction.
		rows, err := repo.UpdateRole(ctx, orgID, actorID, domain.RoleOwner, domain.RoleMember)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrForbidden
		}
		rows, err = repo.UpdateRole(ctx, orgID, newOwnerID, domain.RoleMember, domain.RoleOwner)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrNotFound
		}
		return repo.SetOrganizationOwner(ctx, orgID, newOwnerID, s.clock.Now())
	})
	if err != nil {
		return err
	}

	s.metrics.RecordMembership(ctx, "ownership_transferred")
	s.audit(ctx, orgID, actorID, auditdomain.ActionOwnershipTransfer, newOwnerID, map[string]any{
		"previous_owner_id": actorID,
	})
	return nil
}

func (s *Service) IsMember(ctx context.Context, orgID snowflake.ID, userID string) (bool, error) {
	role, err := s.RoleOf(ctx, orgID, userID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}

func (s *Service) IsOwner(ctx context.Context, orgID snowflake.ID, userID string) (bool, error) {
	role, err := s.RoleOf(ctx, orgID, userID)
	if err != nil {
		return false, err
	}
	return role == domain.RoleOwner, nil
}

// RoleOf returns "" when the user has no membership.
func (s *Service) RoleOf(ctx context.Context, orgID snowflake.ID, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if orgID == 0 || userID == "" {
		return "", nil
	}
	m, err := s.repo.Get(ctx, orgID, userID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", nil
	}
	return m.Role, nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, actorID, action, targetUserID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID, action, "membership", &targetUserID, metadata); err != nil {
		logger.FromContext(ctx).Warn("membership audit log failed", zap.String("action", action), zap.Error(err))
	}
}

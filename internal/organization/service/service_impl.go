package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/clock"
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	"github.com/stencilflow/stencilflow/internal/observability/logger"
	obsmetrics "github.com/stencilflow/stencilflow/internal/observability/metrics"
	"github.com/stencilflow/stencilflow/internal/organization/domain"
	"github.com/stencilflow/stencilflow/pkg/db"
	"github.com/stencilflow/stencilflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxSlugAttempts = 5

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Members  membershipdomain.Repository
	AuditSvc auditdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	members  membershipdomain.Repository
	auditSvc auditdomain.Service
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("organization.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		members:  p.Members,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// Create inserts the organization and its owner membership in one transaction.
func (s *Service) Create(ctx context.Context, ownerID string, req domain.CreateOrganizationRequest) (*domain.Organization, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.ErrInvalidUser
	}

	name, err := normalizeName(req.Name)
	if err != nil {
		return nil, err
	}

	tier := domain.TierStudio
	if strings.TrimSpace(req.Tier) != "" {
		parsed, ok := domain.ParseTier(req.Tier)
		if !ok {
			return nil, domain.ErrInvalidTier
		}
		tier = parsed
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:                 s.genID.Generate(),
		Name:               name,
		OwnerID:            ownerID,
		Tier:               tier,
		SubscriptionStatus: domain.SubscriptionNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if len(req.Metadata) > 0 {
		org.Metadata = datatypes.JSONMap(req.Metadata)
	}

	owner := membershipdomain.Membership{
		ID:       s.genID.Generate(),
		OrgID:    org.ID,
		UserID:   ownerID,
		Email:    strings.ToLower(strings.TrimSpace(req.OwnerEmail)),
		Role:     membershipdomain.RoleOwner,
		JoinedAt: now,
	}

	// A concurrent create can claim the slug between the check and the insert.
	// The retry uses the full id suffix, which no other organization can hold.
	for attempt := 0; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			if attempt == 0 {
				orgSlug, err := s.uniqueSlug(ctx, repo, name, org.ID)
				if err != nil {
					return err
				}
				org.Slug = orgSlug
			} else {
				org.Slug = fallbackSlug(name, org.ID)
			}

			if err := repo.Create(ctx, org); err != nil {
				return err
			}
			return s.members.WithTx(tx).Insert(ctx, owner)
		})
		if err == nil || attempt > 0 || !db.IsDuplicateKeyErr(err) {
			break
		}
		logger.FromContext(ctx).Info("organization slug taken, retrying", zap.String("slug", org.Slug))
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOrganization(ctx, "created", org.Tier)
	s.audit(ctx, org.ID, ownerID, auditdomain.ActionOrganizationCreate, map[string]any{
		"name": org.Name,
		"tier": org.Tier,
	})
	return &org, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	org, err := s.repo.FindActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrNotFound
	}
	return org, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.OrganizationListItem, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.OrganizationListItem{}
	}
	return items, nil
}

func (s *Service) Update(ctx context.Context, actorID string, id snowflake.ID, req domain.UpdateOrganizationRequest) (*domain.Organization, error) {
	var updated domain.Organization
	changed := map[string]any{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		org, err := s.requireOwner(ctx, repo, s.members.WithTx(tx), actorID, id)
		if err != nil {
			return err
		}

		if req.Name != nil {
			name, err := normalizeName(*req.Name)
			if err != nil {
				return err
			}
			if name != org.Name {
				changed["name"] = name
			}
			org.Name = name
		}
		if req.Tier != nil {
			tier, ok := domain.ParseTier(*req.Tier)
			if !ok {
				return domain.ErrInvalidTier
			}
			if tier != org.Tier {
				changed["tier"] = tier
			}
			org.Tier = tier
		}
		if req.Metadata != nil {
			merged := datatypes.JSONMap{}
			for k, v := range org.Metadata {
				merged[k] = v
			}
			for k, v := range req.Metadata {
				if v == nil {
					delete(merged, k)
					continue
				}
				merged[k] = v
			}
			org.Metadata = merged
			changed["metadata_keys"] = len(req.Metadata)
		}

		org.UpdatedAt = s.clock.Now()
		if err := repo.Update(ctx, *org); err != nil {
			return err
		}
		updated = *org
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOrganization(ctx, "updated", updated.Tier)
	s.audit(ctx, updated.ID, actorID, auditdomain.ActionOrganizationUpdate, changed)
	return &updated, nil
}

// Archive hides the organization and cancels its pending invites. Memberships and
// invite history are kept.
func (s *Service) Archive(ctx context.Context, actorID string, id snowflake.ID) (*domain.ArchiveResult, error) {
	var result domain.ArchiveResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		org, err := s.requireOwner(ctx, repo, s.members.WithTx(tx), actorID, id)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		rows, err := repo.Archive(ctx, org.ID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrNotFound
		}
		cancelled, err := repo.CancelPendingInvites(ctx, org.ID, now)
		if err != nil {
			return err
		}

		org.ArchivedAt = &now
		org.UpdatedAt = now
		result = domain.ArchiveResult{Organization: org, CancelledInvites: cancelled}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOrganization(ctx, "archived", result.Organization.Tier)
	s.audit(ctx, id, actorID, auditdomain.ActionOrganizationArchive, map[string]any{
		"cancelled_invites": result.CancelledInvites,
	})
	return &result, nil
}

func (s *Service) ListAll(ctx context.Context, page pagination.Pagination) (*domain.ListOrganizationsResponse, error) {
	var afterID snowflake.ID
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
	}

	limit := page.Limit()
	orgs, err := s.repo.ListActive(ctx, domain.ListFilter{AfterID: afterID, Limit: limit})
	if err != nil {
		return nil, err
	}

	orgs, info := pagination.BuildCursorPageInfo(orgs, limit, func(o *domain.Organization) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: o.ID.String()})
		return token
	})
	if orgs == nil {
		orgs = []*domain.Organization{}
	}
	return &domain.ListOrganizationsResponse{PageInfo: *info, Organizations: orgs}, nil
}

// ApplySubscription records the billing state reported by the payment provider.
func (s *Service) ApplySubscription(ctx context.Context, change domain.SubscriptionChange) error {
	switch change.Status {
	case domain.SubscriptionNone, domain.SubscriptionTrialing, domain.SubscriptionActive,
		domain.SubscriptionPastDue, domain.SubscriptionCanceled:
	default:
		return domain.ErrInvalidStatus
	}
	if change.Tier != "" {
		tier, ok := domain.ParseTier(change.Tier)
		if !ok {
			return domain.ErrInvalidTier
		}
		change.Tier = tier
	}
	if change.UpdatedAt.IsZero() {
		change.UpdatedAt = s.clock.Now()
	}

	rows, err := s.repo.ApplySubscription(ctx, change)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, repo domain.Repository, members membershipdomain.Repository, actorID string, id snowflake.ID) (*domain.Organization, error) {
	org, err := repo.FindActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrNotFound
	}
	m, err := members.Get(ctx, id, strings.TrimSpace(actorID))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrNotFound
	}
	if !m.IsOwner() {
		return nil, domain.ErrForbidden
	}
	return org, nil
}

func (s *Service) uniqueSlug(ctx context.Context, repo domain.Repository, name string, id snowflake.ID) (string, error) {
	base := slugBase(name)
	candidate := base
	suffix := strings.ToLower(id.Base36())
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		exists, err := repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		n := 4 + attempt*2
		if n > len(suffix) {
			n = len(suffix)
		}
		candidate = fmt.Sprintf("%s-%s", base, suffix[len(suffix)-n:])
	}
	return fmt.Sprintf("%s-%s", base, suffix), nil
}

func fallbackSlug(name string, id snowflake.ID) string {
	return fmt.Sprintf("%s-%s", slugBase(name), strings.ToLower(id.Base36()))
}

func slugBase(name string) string {
	if base := slug.Make(name); base != "" {
		return base
	}
	return "org"
}

func normalizeName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" || utf8.RuneCountInString(name) > domain.MaxNameLength {
		return "", domain.ErrInvalidName
	}
	return name, nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, actorID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := orgID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID, action, "organization", &target, metadata); err != nil {
		logger.FromContext(ctx).Warn("organization audit log failed", zap.String("action", action), zap.Error(err))
	}
}

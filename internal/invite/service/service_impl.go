package service

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/audit/masking"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/config"
	"github.com/stencilflow/stencilflow/internal/invite/domain"
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	"github.com/stencilflow/stencilflow/internal/observability/logger"
	obsmetrics "github.com/stencilflow/stencilflow/internal/observability/metrics"
	orgdomain "github.com/stencilflow/stencilflow/internal/organization/domain"
	"github.com/stencilflow/stencilflow/internal/providers/email"
	"github.com/stencilflow/stencilflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	Repo     domain.Repository
	Members  membershipdomain.Repository
	Orgs     orgdomain.Repository
	Email    email.Provider
	AuditSvc auditdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	publicURL string
	genID     *snowflake.Node
	clock     clock.Clock
	policy    *config.PolicyHolder
	repo      domain.Repository
	members   membershipdomain.Repository
	orgs      orgdomain.Repository
	email     email.Provider
	auditSvc  auditdomain.Service
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	mailer := p.Email
	if mailer == nil {
		mailer = &email.NoOpProvider{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invite.service"),
		publicURL: strings.TrimRight(p.Cfg.PublicURL, "/"),
		genID:     p.GenID,
		clock:     p.Clock,
		policy:    p.Policy,
		repo:      p.Repo,
		members:   p.Members,
		orgs:      p.Orgs,
		email:     mailer,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}
}

// Create issues a pending invite and mails the token. The raw token is returned once.
func (s *Service) Create(ctx context.Context, issuerID string, orgID snowflake.ID, rawEmail string) (*domain.CreateResult, error) {
	address, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	token, err := domain.GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	invite := domain.Invite{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Email:     address,
		TokenHash: domain.HashToken(token),
		Status:    domain.StatusPending,
		InvitedBy: strings.TrimSpace(issuerID),
		CreatedAt: now,
		ExpiresAt: now.Add(s.policy.InviteTTL()),
	}

	var (
		org     *orgdomain.Organization
		inviter *membershipdomain.Membership
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		members := s.members.WithTx(tx)

		o, m, err := s.requireOwner(ctx, s.orgs.WithTx(tx), members, issuerID, orgID)
		if err != nil {
			return err
		}
		org, inviter = o, m

		pending, err := repo.FindPending(ctx, orgID, address)
		if err != nil {
			return err
		}
		if pending != nil {
			if now.Before(pending.ExpiresAt) {
				return domain.ErrPendingInvite
			}
			if _, err := repo.MarkExpired(ctx, pending.ID, now); err != nil {
				return err
			}
		}

		if seats := s.policy.Tier(org.Tier).MaxMembers; seats > 0 {
			memberCount, err := members.CountByOrg(ctx, orgID)
			if err != nil {
				return err
			}
			openCount, err := repo.CountOpen(ctx, orgID, now)
			if err != nil {
				return err
			}
			if memberCount+openCount >= int64(seats) {
				return domain.ErrSeatLimitReached
			}
		}

		if err := repo.Insert(ctx, invite); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrPendingInvite
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sendInviteEmail(ctx, org, inviter, invite, token)
	s.metrics.RecordInvite(ctx, "created")
	s.audit(ctx, orgID, invite.InvitedBy, auditdomain.ActionInviteCreate, invite.ID, map[string]any{
		"email":      invite.Email,
		"expires_at": invite.ExpiresAt,
	})

	return &domain.CreateResult{
		Invite: domain.NewView(invite, org.Name, now),
		Token:  token,
	}, nil
}

func (s *Service) GetByToken(ctx context.Context, token string) (*domain.View, error) {
	invite, org, err := s.lookup(ctx, s.repo, s.orgs, token)
	if err != nil {
		return nil, err
	}
	view := domain.NewView(*invite, org.Name, s.clock.Now())
	return &view, nil
}

// Accept redeems the token for userID. The invite is consumed by a conditional update, so of
// any number of concurrent calls at most one creates a membership.
func (s *Service) Accept(ctx context.Context, token string, userID string, userEmail string) (*domain.AcceptResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}

	invite, org, err := s.lookup(ctx, s.repo, s.orgs, token)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	switch invite.EffectiveStatus(now) {
	case domain.StatusPending:
	case domain.StatusExpired:
		if invite.Status == domain.StatusPending {
			if _, err := s.repo.MarkExpired(ctx, invite.ID, now); err != nil {
				logger.FromContext(ctx).Warn("mark invite expired failed", zap.String("invite_id", invite.ID.String()), zap.Error(err))
			}
		}
		return nil, domain.ErrExpired
	default:
		return nil, domain.ErrAlreadyUsed
	}

	address := strings.ToLower(strings.TrimSpace(userEmail))
	if address == "" {
		address = invite.Email
	}
	membership := membershipdomain.Membership{
		ID:       s.genID.Generate(),
		OrgID:    invite.OrgID,
		UserID:   userID,
		Email:    address,
		Role:     membershipdomain.RoleMember,
		JoinedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members := s.members.WithTx(tx)

		existing, err := members.Get(ctx, invite.OrgID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyMember
		}

		rows, err := s.repo.WithTx(tx).Accept(ctx, invite.ID, userID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrAlreadyUsed
		}

		if err := members.Insert(ctx, membership); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyMember
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invite.Status = domain.StatusAccepted
	invite.AcceptedBy = &userID
	invite.AcceptedAt = &now

	s.metrics.RecordInvite(ctx, "accepted")
	s.metrics.RecordMembership(ctx, "joined")
	s.audit(ctx, invite.OrgID, userID, auditdomain.ActionInviteAccept, invite.ID, map[string]any{
		"email": invite.Email,
	})

	return &domain.AcceptResult{
		Invite:     domain.NewView(*invite, org.Name, now),
		Membership: membership,
	}, nil
}

func (s *Service) Cancel(ctx context.Context, actorID string, orgID, inviteID snowflake.ID) (*domain.View, error) {
	now := s.clock.Now()
	var view domain.View

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		org, _, err := s.requireOwner(ctx, s.orgs.WithTx(tx), s.members.WithTx(tx), actorID, orgID)
		if err != nil {
			return err
		}

		rows, err := repo.Cancel(ctx, orgID, inviteID, now)
		if err != nil {
			return err
		}

		invite, err := repo.FindByID(ctx, orgID, inviteID)
		if err != nil {
			return err
		}
		if invite == nil {
			return domain.ErrNotFound
		}
		if rows == 0 {
			return domain.ErrNotPending
		}
		view = domain.NewView(*invite, org.Name, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInvite(ctx, "cancelled")
	s.audit(ctx, orgID, actorID, auditdomain.ActionInviteCancel, inviteID, map[string]any{
		"email": view.Email,
	})
	return &view, nil
}

func (s *Service) ListByOrg(ctx context.Context, actorID string, orgID snowflake.ID) ([]domain.View, error) {
	org, _, err := s.requireOwner(ctx, s.orgs, s.members, actorID, orgID)
	if err != nil {
		return nil, err
	}

	invites, err := s.repo.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	views := make([]domain.View, 0, len(invites))
	for _, invite := range invites {
		views = append(views, domain.NewView(invite, org.Name, now))
	}
	return views, nil
}

// ExpireStale sweeps one batch of lapsed pending invites. Expired invites stop holding a seat
// even without the sweep; this only settles their stored status.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	expired, err := s.repo.ExpireStale(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	for i := int64(0); i < expired; i++ {
		s.metrics.RecordInvite(ctx, "expired")
	}
	if expired > 0 {
		logger.WithContext(ctx, s.log).Info("expired stale invites", zap.Int64("count", expired))
	}
	return expired, nil
}

// lookup resolves a token to its invite. Invites of archived organizations are not found.
func (s *Service) lookup(ctx context.Context, repo domain.Repository, orgs orgdomain.Repository, token string) (*domain.Invite, *orgdomain.Organization, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, domain.ErrNotFound
	}
	invite, err := repo.FindByTokenHash(ctx, domain.HashToken(token))
	if err != nil {
		return nil, nil, err
	}
	if invite == nil {
		return nil, nil, domain.ErrNotFound
	}
	org, err := orgs.FindActive(ctx, invite.OrgID)
	if err != nil {
		return nil, nil, err
	}
	if org == nil {
		return nil, nil, domain.ErrNotFound
	}
	return invite, org, nil
}

func (s *Service) requireOwner(ctx context.Context, orgs orgdomain.Repository, members membershipdomain.Repository, actorID string, orgID snowflake.ID) (*orgdomain.Organization, *membershipdomain.Membership, error) {
	org, err := orgs.FindActive(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	if org == nil {
		return nil, nil, domain.ErrNotFound
	}
	m, err := members.Get(ctx, orgID, strings.TrimSpace(actorID))
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, domain.ErrNotFound
	}
	if !m.IsOwner() {
		return nil, nil, domain.ErrForbidden
	}
	return org, m, nil
}

func (s *Service) sendInviteEmail(ctx context.Context, org *orgdomain.Organization, inviter *membershipdomain.Membership, invite domain.Invite, token string) {
	inviterEmail := ""
	if inviter != nil {
		inviterEmail = inviter.Email
	}
	data := map[string]any{
		"org_name":      org.Name,
		"inviter_email": inviterEmail,
		"accept_url":    fmt.Sprintf("%s/invites/%s", s.publicURL, url.PathEscape(token)),
		"expires_at":    invite.ExpiresAt.Format("January 2, 2006 15:04 MST"),
	}
	if err := s.email.SendTemplate(ctx, []string{invite.Email}, email.TemplateInviteMember, data); err != nil {
		logger.FromContext(ctx).Warn("invite email failed",
			zap.String("invite_id", invite.ID.String()),
			zap.String("email", masking.MaskEmail(invite.Email)),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, actorID, action string, inviteID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := inviteID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID, action, "invite", &target, metadata); err != nil {
		logger.FromContext(ctx).Warn("invite audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 320 {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || !strings.Contains(addr.Address, "@") {
		return "", domain.ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

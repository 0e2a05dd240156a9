package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/billing/domain"
	"github.com/stencilflow/stencilflow/internal/billing/stripe"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/config"
	"github.com/stencilflow/stencilflow/internal/observability/logger"
	obsmetrics "github.com/stencilflow/stencilflow/internal/observability/metrics"
	orgdomain "github.com/stencilflow/stencilflow/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Orgs     orgdomain.Repository
	AuditSvc auditdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	verifier   *stripe.Verifier
	priceTiers map[string]string
	repo       domain.Repository
	orgs       orgdomain.Repository
	auditSvc   auditdomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		verifier:   stripe.NewVerifier(p.Cfg.Billing.StripeWebhookSecret, p.Cfg.Billing.WebhookTolerance, p.Clock.Now),
		priceTiers: p.Cfg.Billing.PriceTiers,
		repo:       p.Repo,
		orgs:       p.Orgs,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
	}
}

// HandleStripeWebhook applies a verified subscription event to its organization. Every
// accepted delivery is recorded by event id, so replays change nothing.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.WebhookResult, error) {
	if err := s.verifier.Verify(payload, headers); err != nil {
		return nil, err
	}

	event, err := stripe.Parse(payload, s.priceTiers)
	ignored := errors.Is(err, domain.ErrEventIgnored)
	if err != nil && !ignored {
		return nil, err
	}

	result := &domain.WebhookResult{EventID: event.EventID, EventType: event.EventType, Ignored: ignored}

	var org *orgdomain.Organization
	if !ignored {
		org, err = s.resolveOrganization(ctx, event)
		if err != nil {
			return nil, err
		}
		if org == nil {
			logger.FromContext(ctx).Warn("billing event for unknown organization",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
			)
			result.Ignored = true
		}
	}

	now := s.clock.Now()
	record := domain.BillingEvent{
		ID:          s.genID.Generate(),
		Provider:    domain.ProviderStripe,
		EventID:     event.EventID,
		EventType:   event.EventType,
		Payload:     datatypes.JSON(payload),
		ProcessedAt: now,
	}

	var change orgdomain.SubscriptionChange
	if org != nil {
		record.OrgID = &org.ID
		change = orgdomain.SubscriptionChange{
			OrgID:      org.ID,
			CustomerID: event.CustomerID,
			Status:     event.Status,
			Tier:       s.tier(ctx, event),
			UpdatedAt:  now,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Insert(ctx, record); err != nil {
			return err
		}
		if org == nil {
			return nil
		}
		_, err := s.orgs.WithTx(tx).ApplySubscription(ctx, change)
		return err
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		result.Duplicate = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBillingEvent(ctx, domain.ProviderStripe, event.EventType)
	if org == nil {
		return result, nil
	}

	result.OrgID = org.ID.String()
	result.Status = change.Status
	result.Tier = change.Tier
	s.audit(ctx, org.ID, event, change)
	return result, nil
}

func (s *Service) resolveOrganization(ctx context.Context, event *stripe.SubscriptionEvent) (*orgdomain.Organization, error) {
	if event.OrgID != "" {
		id, err := snowflake.ParseString(event.OrgID)
		if err != nil || id == 0 {
			return nil, domain.ErrInvalidPayload
		}
		return s.orgs.FindActive(ctx, id)
	}
	return s.orgs.FindActiveByCustomer(ctx, event.CustomerID)
}

// tier drops lookup keys that map to a tier this service does not know.
func (s *Service) tier(ctx context.Context, event *stripe.SubscriptionEvent) string {
	if event.Tier == "" {
		return ""
	}
	tier, ok := orgdomain.ParseTier(event.Tier)
	if !ok {
		logger.FromContext(ctx).Warn("billing price mapped to unknown tier",
			zap.String("lookup_key", event.LookupKey),
			zap.String("tier", event.Tier),
		)
		return ""
	}
	return tier
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, event *stripe.SubscriptionEvent, change orgdomain.SubscriptionChange) {
	if s.auditSvc == nil {
		return
	}
	actorID := domain.ProviderStripe
	target := orgID.String()
	metadata := map[string]any{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"status":     change.Status,
	}
	if change.Tier != "" {
		metadata["tier"] = change.Tier
	}
	if strings.TrimSpace(change.CustomerID) != "" {
		metadata["customer_id"] = change.CustomerID
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeProvider), &actorID, auditdomain.ActionSubscriptionSync, "organization", &target, metadata); err != nil {
		logger.FromContext(ctx).Warn("billing audit log failed", zap.Error(err))
	}
}

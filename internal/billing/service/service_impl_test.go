package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/billing/domain"
	"github.com/stencilflow/stencilflow/internal/billing/repository"
	"github.com/stencilflow/stencilflow/internal/billing/stripe"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/config"
	orgdomain "github.com/stencilflow/stencilflow/internal/organization/domain"
	orgrepo "github.com/stencilflow/stencilflow/internal/organization/repository"
	"github.com/stencilflow/stencilflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const secret = "whsec_test"

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	orgs  orgdomain.Repository
	audit *testutil.AuditRecorder
	clock *clock.FakeClock
	orgID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	orgs := orgrepo.NewRepository(db)
	audit := &testutil.AuditRecorder{}

	cfg := config.Config{Billing: config.BillingConfig{
		StripeWebhookSecret: secret,
		WebhookTolerance:    5 * time.Minute,
		PriceTiers:          map[string]string{"enterprise_monthly": "enterprise", "legacy": "platinum"},
	}}
	svc := NewService(Params{
		DB:       db,
		Log:      zaptest.NewLogger(t),
		Cfg:      cfg,
		GenID:    testutil.NewNode(t),
		Clock:    clk,
		Repo:     repository.NewRepository(db),
		Orgs:     orgs,
		AuditSvc: audit,
	})

	orgID := snowflake.ID(9001)
	now := clk.Now()
	require.NoError(t, db.Exec(
		`INSERT INTO organizations (id, name, slug, owner_id, tier, subscription_status, created_at, updated_at)
		 VALUES (?, 'Acme', 'acme', 'owner', 'studio', 'none', ?, ?)`, orgID, now, now).Error)

	return &fixture{db: db, svc: svc, orgs: orgs, audit: audit, clock: clk, orgID: orgID}
}

func (f *fixture) deliver(t *testing.T, payload string) (*domain.WebhookResult, error) {
	t.Helper()
	headers := http.Header{}
	headers.Set(stripe.SignatureHeader, stripe.SignatureHeaderValue(secret, []byte(payload), f.clock.Now()))
	return f.svc.HandleStripeWebhook(context.Background(), []byte(payload), headers)
}

func subscriptionEvent(id, status, orgID, customer, lookupKey string) string {
	return fmt.Sprintf(`{"id":%q,"type":"customer.subscription.updated","data":{"object":{"customer":%q,"status":%q,"metadata":{"org_id":%q},"items":{"data":[{"price":{"lookup_key":%q}}]}}}}`,
		id, customer, status, orgID, lookupKey)
}

func TestWebhookAppliesSubscription(t *testing.T) {
	f := newFixture(t)

	res, err := f.deliver(t, subscriptionEvent("evt_1", "active", f.orgID.String(), "cus_1", "enterprise_monthly"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, f.orgID.String(), res.OrgID)
	assert.Equal(t, "active", res.Status)
	assert.Equal(t, "enterprise", res.Tier)

	org, err := f.orgs.FindActive(context.Background(), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.SubscriptionActive, org.SubscriptionStatus)
	assert.Equal(t, orgdomain.TierEnterprise, org.Tier)
	require.NotNil(t, org.BillingCustomerID)
	assert.Equal(t, "cus_1", *org.BillingCustomerID)
	assert.Equal(t, []string{auditdomain.ActionSubscriptionSync}, f.audit.Actions())

	// Later events can find the organization by customer id alone.
	deleted := `{"id":"evt_2","type":"customer.subscription.deleted","data":{"object":{"customer":"cus_1","status":"canceled"}}}`
	res, err = f.deliver(t, deleted)
	require.NoError(t, err)
	assert.Equal(t, "canceled", res.Status)

	org, err = f.orgs.FindActive(context.Background(), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.SubscriptionCanceled, org.SubscriptionStatus)
	assert.Equal(t, orgdomain.TierEnterprise, org.Tier)
}

func TestWebhookIsIdempotent(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionEvent("evt_dup", "trialing", f.orgID.String(), "cus_1", "")

	_, err := f.deliver(t, payload)
	require.NoError(t, err)

	require.NoError(t, f.db.Exec(`UPDATE organizations SET subscription_status = 'active' WHERE id = ?`, f.orgID).Error)

	res, err := f.deliver(t, payload)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	org, err := f.orgs.FindActive(context.Background(), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.SubscriptionActive, org.SubscriptionStatus)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM billing_events WHERE event_id = 'evt_dup'`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	payload := []byte(subscriptionEvent("evt_1", "active", f.orgID.String(), "cus_1", ""))

	headers := http.Header{}
	headers.Set(stripe.SignatureHeader, stripe.SignatureHeaderValue("other", payload, f.clock.Now()))
	_, err := f.svc.HandleStripeWebhook(context.Background(), payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestWebhookIgnoresUnrelatedAndUnknown(t *testing.T) {
	f := newFixture(t)

	res, err := f.deliver(t, `{"id":"evt_inv","type":"invoice.paid","data":{"object":{}}}`)
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	res, err = f.deliver(t, subscriptionEvent("evt_unknown", "active", "", "cus_nobody", ""))
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	res, err = f.deliver(t, subscriptionEvent("evt_tier", "active", f.orgID.String(), "", "legacy"))
	require.NoError(t, err)
	assert.Empty(t, res.Tier)

	_, err = f.deliver(t, subscriptionEvent("evt_bad", "active", "not-an-id", "", ""))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/clock"
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	membershiprepo "github.com/stencilflow/stencilflow/internal/membership/repository"
	"github.com/stencilflow/stencilflow/internal/organization/domain"
	"github.com/stencilflow/stencilflow/internal/organization/repository"
	"github.com/stencilflow/stencilflow/internal/testutil"
	"github.com/stencilflow/stencilflow/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	members membershipdomain.Repository
	audit   *testutil.AuditRecorder
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, func(r domain.Repository) domain.Repository { return r })
}

func newFixtureWithRepo(t *testing.T, wrap func(domain.Repository) domain.Repository) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	members := membershiprepo.NewRepository(db)
	audit := &testutil.AuditRecorder{}
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:       db,
		Log:      zaptest.NewLogger(t),
		GenID:    testutil.NewNode(t),
		Clock:    clk,
		Repo:     wrap(repository.NewRepository(db)),
		Members:  members,
		AuditSvc: audit,
	})
	return &fixture{db: db, svc: svc, members: members, audit: audit, clock: clk}
}

func (f *fixture) addMember(t *testing.T, orgID snowflake.ID, userID string) {
	t.Helper()
	require.NoError(t, f.members.Insert(context.Background(), membershipdomain.Membership{
		ID:       snowflake.ID(time.Now().UnixNano()),
		OrgID:    orgID,
		UserID:   userID,
		Role:     membershipdomain.RoleMember,
		JoinedAt: f.clock.Now(),
	}))
}

func TestCreateOrganizationAddsOwnerMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, err := f.svc.Create(ctx, "user_owner", domain.CreateOrganizationRequest{
		Name:       "  Acme   Stencils ",
		OwnerEmail: "Owner@Example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Stencils", org.Name)
	assert.Equal(t, "acme-stencils", org.Slug)
	assert.Equal(t, domain.TierStudio, org.Tier)
	assert.Equal(t, domain.SubscriptionNone, org.SubscriptionStatus)

	owner, err := f.members.Get(ctx, org.ID, "user_owner")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, membershipdomain.RoleOwner, owner.Role)
	assert.Equal(t, "owner@example.com", owner.Email)
	assert.Equal(t, []string{auditdomain.ActionOrganizationCreate}, f.audit.Actions())

	items, err := f.svc.ListByUser(ctx, "user_owner")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, membershipdomain.RoleOwner, items[0].Role)
}

func TestCreateOrganizationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "", domain.CreateOrganizationRequest{Name: "Acme"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = f.svc.Create(ctx, "u1", domain.CreateOrganizationRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = f.svc.Create(ctx, "u1", domain.CreateOrganizationRequest{Name: "Acme", Tier: "hobby"})
	assert.ErrorIs(t, err, domain.ErrInvalidTier)

	org, err := f.svc.Create(ctx, "u1", domain.CreateOrganizationRequest{Name: "Acme", Tier: "Enterprise"})
	require.NoError(t, err)
	assert.Equal(t, domain.TierEnterprise, org.Tier)
}

func TestCreateOrganizationSuffixesDuplicateSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "u1", domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, "u2", domain.CreateOrganizationRequest{Name: "ACME"})
	require.NoError(t, err)

	assert.Equal(t, "acme", first.Slug)
	assert.NotEqual(t, first.Slug, second.Slug)
	assert.Contains(t, second.Slug, "acme-")
}

// staleSlugRepo reports every slug as free, as a concurrent create sees it
// before the other transaction commits.
type staleSlugRepo struct {
	domain.Repository
}

func (r staleSlugRepo) WithTx(tx *gorm.DB) domain.Repository {
	return staleSlugRepo{Repository: r.Repository.WithTx(tx)}
}

func (staleSlugRepo) SlugExists(context.Context, string) (bool, error) {
	return false, nil
}

func TestCreateOrganizationRetriesTakenSlug(t *testing.T) {
	f := newFixtureWithRepo(t, func(r domain.Repository) domain.Repository { return staleSlugRepo{Repository: r} })
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "u1", domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, "u2", domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "acme", first.Slug)
	assert.Equal(t, "acme-"+strings.ToLower(second.ID.Base36()), second.Slug)

	owner, err := f.members.Get(ctx, second.ID, "u2")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, membershipdomain.RoleOwner, owner.Role)
}

func TestUpdateOrganizationOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, err := f.svc.Create(ctx, "owner", domain.CreateOrganizationRequest{Name: "Acme", Metadata: map[string]any{"color": "red"}})
	require.NoError(t, err)
	f.addMember(t, org.ID, "member")

	name := "Acme Prints"
	_, err = f.svc.Update(ctx, "member", org.ID, domain.UpdateOrganizationRequest{Name: &name})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Update(ctx, "stranger", org.ID, domain.UpdateOrganizationRequest{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bad := "gold"
	_, err = f.svc.Update(ctx, "owner", org.ID, domain.UpdateOrganizationRequest{Tier: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidTier)

	tier := "enterprise"
	f.clock.Advance(time.Hour)
	updated, err := f.svc.Update(ctx, "owner", org.ID, domain.UpdateOrganizationRequest{
		Name:     &name,
		Tier:     &tier,
		Metadata: map[string]any{"color": nil, "size": "a4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Prints", updated.Name)
	assert.Equal(t, domain.TierEnterprise, updated.Tier)
	assert.Equal(t, "a4", updated.Metadata["size"])
	_, hasColor := updated.Metadata["color"]
	assert.False(t, hasColor)

	reloaded, err := f.svc.GetByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Prints", reloaded.Name)
	assert.True(t, reloaded.UpdatedAt.After(reloaded.CreatedAt))
}

func TestArchiveOrganizationCancelsPendingInvites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, err := f.svc.Create(ctx, "owner", domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	f.addMember(t, org.ID, "member")

	now := f.clock.Now()
	insert := `INSERT INTO invites (id, org_id, email, token_hash, status, invited_by, created_at, expires_at) VALUES (?, ?, ?, ?, ?, 'owner', ?, ?)`
	require.NoError(t, f.db.Exec(insert, 1, org.ID, "a@example.com", "h1", "pending", now, now.Add(time.Hour)).Error)
	require.NoError(t, f.db.Exec(insert, 2, org.ID, "b@example.com", "h2", "accepted", now, now.Add(time.Hour)).Error)

	_, err = f.svc.Archive(ctx, "member", org.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	result, err := f.svc.Archive(ctx, "owner", org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.CancelledInvites)
	require.NotNil(t, result.Organization.ArchivedAt)

	_, err = f.svc.GetByID(ctx, org.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	items, err := f.svc.ListByUser(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = f.svc.Archive(ctx, "owner", org.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var statuses []string
	require.NoError(t, f.db.Raw(`SELECT status FROM invites WHERE org_id = ? ORDER BY id`, org.ID).Scan(&statuses).Error)
	assert.Equal(t, []string{"cancelled", "accepted"}, statuses)

	// Memberships are retained for history.
	m, err := f.members.Get(ctx, org.ID, "member")
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestListAllPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"One", "Two", "Three"} {
		_, err := f.svc.Create(ctx, "u_"+name, domain.CreateOrganizationRequest{Name: name})
		require.NoError(t, err)
	}

	page, err := f.svc.ListAll(ctx, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Organizations, 2)
	require.True(t, page.HasMore)

	next, err := f.svc.ListAll(ctx, pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Organizations, 1)
	assert.False(t, next.HasMore)
	assert.Equal(t, "Three", next.Organizations[0].Name)
}

func TestApplySubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	org, err := f.svc.Create(ctx, "owner", domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	require.NoError(t, f.svc.ApplySubscription(ctx, domain.SubscriptionChange{
		OrgID:      org.ID,
		CustomerID: "cus_123",
		Status:     domain.SubscriptionActive,
		Tier:       "enterprise",
	}))
	reloaded, err := f.svc.GetByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, reloaded.SubscriptionStatus)
	assert.Equal(t, domain.TierEnterprise, reloaded.Tier)
	require.NotNil(t, reloaded.BillingCustomerID)
	assert.Equal(t, "cus_123", *reloaded.BillingCustomerID)

	assert.ErrorIs(t, f.svc.ApplySubscription(ctx, domain.SubscriptionChange{OrgID: org.ID, Status: "bogus"}), domain.ErrInvalidStatus)
	assert.ErrorIs(t, f.svc.ApplySubscription(ctx, domain.SubscriptionChange{OrgID: 1, Status: domain.SubscriptionActive}), domain.ErrNotFound)
}

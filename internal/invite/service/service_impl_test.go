package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/config"
	"github.com/stencilflow/stencilflow/internal/invite/domain"
	"github.com/stencilflow/stencilflow/internal/invite/repository"
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	membershiprepo "github.com/stencilflow/stencilflow/internal/membership/repository"
	orgrepo "github.com/stencilflow/stencilflow/internal/organization/repository"
	"github.com/stencilflow/stencilflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type sentMail struct {
	To       []string
	Template string
	Data     map[string]any
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(context.Context, []string, string, string) error { return m.err }

func (m *recordingMailer) SendTemplate(_ context.Context, to []string, name string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Template: name, Data: data})
	return m.err
}

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	members membershipdomain.Repository
	mailer  *recordingMailer
	audit   *testutil.AuditRecorder
	clock   *clock.FakeClock
	orgID   snowflake.ID
}

func newFixture(t *testing.T, maxMembers int) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	members := membershiprepo.NewRepository(db)
	mailer := &recordingMailer{}
	audit := &testutil.AuditRecorder{}
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	policy := config.DefaultPolicyConfig()
	policy.Tiers["studio"] = config.TierPolicy{DisplayName: "Studio", MaxMembers: maxMembers}

	svc := NewService(Params{
		DB:       db,
		Log:      zaptest.NewLogger(t),
		Cfg:      config.Config{PublicURL: "https://app.stencilflow.test/"},
		GenID:    testutil.NewNode(t),
		Clock:    clk,
		Policy:   config.NewStaticPolicyHolder(policy),
		Repo:     repository.NewRepository(db),
		Members:  members,
		Orgs:     orgrepo.NewRepository(db),
		Email:    mailer,
		AuditSvc: audit,
	})

	orgID := snowflake.ID(5001)
	now := clk.Now()
	require.NoError(t, db.Exec(
		`INSERT INTO organizations (id, name, slug, owner_id, tier, subscription_status, created_at, updated_at)
		 VALUES (?, 'Acme', 'acme', 'owner', 'studio', 'none', ?, ?)`, orgID, now, now).Error)

	f := &fixture{db: db, svc: svc, members: members, mailer: mailer, audit: audit, clock: clk, orgID: orgID}
	f.addMember(t, 1, "owner", membershipdomain.RoleOwner)
	f.addMember(t, 2, "member", membershipdomain.RoleMember)
	return f
}

func (f *fixture) addMember(t *testing.T, id int64, userID, role string) {
	t.Helper()
	require.NoError(t, f.members.Insert(context.Background(), membershipdomain.Membership{
		ID:       snowflake.ID(id),
		OrgID:    f.orgID,
		UserID:   userID,
		Email:    userID + "@example.com",
		Role:     role,
		JoinedAt: f.clock.Now(),
	}))
}

func (f *fixture) status(t *testing.T, id snowflake.ID) string {
	t.Helper()
	var status string
	require.NoError(t, f.db.Raw(`SELECT status FROM invites WHERE id = ?`, id).Scan(&status).Error)
	return status
}

func TestCreateInvite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "owner", f.orgID, " Carol@Example.COM ")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "carol@example.com", res.Invite.Email)
	assert.Equal(t, domain.StatusPending, res.Invite.Status)
	assert.Equal(t, "Acme", res.Invite.OrganizationName)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), res.Invite.ExpiresAt)

	var stored string
	require.NoError(t, f.db.Raw(`SELECT token_hash FROM invites WHERE id = ?`, res.Invite.ID).Scan(&stored).Error)
	assert.Equal(t, domain.HashToken(res.Token), stored)
	assert.NotEqual(t, res.Token, stored)

	require.Len(t, f.mailer.sent, 1)
	mail := f.mailer.sent[0]
	assert.Equal(t, []string{"carol@example.com"}, mail.To)
	assert.Equal(t, "invite_member", mail.Template)
	assert.Equal(t, "https://app.stencilflow.test/invites/"+res.Token, mail.Data["accept_url"])
	assert.Equal(t, "owner@example.com", mail.Data["inviter_email"])
	assert.Equal(t, []string{auditdomain.ActionInviteCreate}, f.audit.Actions())
}

func TestCreateInviteAccessChecks(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "member", f.orgID, "x@example.com")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Create(ctx, "stranger", f.orgID, "x@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Create(ctx, "owner", snowflake.ID(42), "x@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, bad := range []string{"", "not-an-email", "Carol <carol@example.com>"} {
		_, err = f.svc.Create(ctx, "owner", f.orgID, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidEmail, bad)
	}
	assert.Empty(t, f.mailer.sent)
}

func TestCreateInviteRejectsDuplicatePending(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	assert.ErrorIs(t, err, domain.ErrPendingInvite)

	f.clock.Advance(8 * 24 * time.Hour)
	second, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Invite.ID, second.Invite.ID)
	assert.Equal(t, domain.StatusExpired, f.status(t, first.Invite.ID))
}

func TestReinviteAfterCancel(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "owner", f.orgID, first.Invite.ID)
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Invite.ID, second.Invite.ID)
	assert.Equal(t, domain.StatusCancelled, f.status(t, first.Invite.ID))
	assert.Equal(t, domain.StatusPending, f.status(t, second.Invite.ID))
}

func TestReinviteAfterAccept(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, first.Token, "carol", "carol@example.com")
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, second.Invite.Status)
	assert.Equal(t, domain.StatusAccepted, f.status(t, first.Invite.ID))

	// The same user cannot join twice through the new invite.
	_, err = f.svc.Accept(ctx, second.Token, "carol", "carol@example.com")
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
	assert.Equal(t, domain.StatusPending, f.status(t, second.Invite.ID))
}

func TestCreateInviteSeatLimit(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "owner", f.orgID, "a@example.com")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "owner", f.orgID, "b@example.com")
	assert.ErrorIs(t, err, domain.ErrSeatLimitReached)

	// Expired invites release their seat.
	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.svc.Create(ctx, "owner", f.orgID, "b@example.com")
	require.NoError(t, err)
}

func TestCreateInviteKeepsInviteWhenEmailFails(t *testing.T) {
	f := newFixture(t, 0)
	f.mailer.err = errors.New("smtp down")

	res, err := f.svc.Create(context.Background(), "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, f.status(t, res.Invite.ID))
}

func TestGetByToken(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.GetByToken(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)

	view, err := f.svc.GetByToken(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.Equal(t, "Acme", view.OrganizationName)

	f.clock.Advance(7 * 24 * time.Hour)
	view, err = f.svc.GetByToken(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, view.Status)
	assert.Equal(t, domain.StatusPending, f.status(t, res.Invite.ID))
}

func TestAcceptInvite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, res.Token, "member", "member@example.com")
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)
	assert.Equal(t, domain.StatusPending, f.status(t, res.Invite.ID))

	accepted, err := f.svc.Accept(ctx, res.Token, "carol", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, accepted.Invite.Status)
	assert.Equal(t, "carol", accepted.Membership.UserID)
	assert.Equal(t, membershipdomain.RoleMember, accepted.Membership.Role)
	assert.Equal(t, "carol@example.com", accepted.Membership.Email)

	m, err := f.members.Get(ctx, f.orgID, "carol")
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = f.svc.Accept(ctx, res.Token, "dave", "dave@example.com")
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)

	_, err = f.svc.Accept(ctx, "unknown", "dave", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Accept(ctx, res.Token, " ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestAcceptExpiredInvite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)

	f.clock.Advance(7*24*time.Hour + time.Second)
	_, err = f.svc.Accept(ctx, res.Token, "carol", "")
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, domain.StatusExpired, f.status(t, res.Invite.ID))

	_, err = f.svc.Accept(ctx, res.Token, "carol", "")
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestAcceptInviteConcurrently(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Accept(ctx, res.Token, fmt.Sprintf("user_%d", i), "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyUsed)
	}
	assert.Equal(t, 1, successes)

	count, err := f.members.CountByOrg(ctx, f.orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCancelInvite(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, "member", f.orgID, res.Invite.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	view, err := f.svc.Cancel(ctx, "owner", f.orgID, res.Invite.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, view.Status)
	require.NotNil(t, view.CancelledAt)

	_, err = f.svc.Cancel(ctx, "owner", f.orgID, res.Invite.ID)
	assert.ErrorIs(t, err, domain.ErrNotPending)

	_, err = f.svc.Cancel(ctx, "owner", f.orgID, snowflake.ID(777))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Accept(ctx, res.Token, "carol", "")
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)
}

func TestListInvites(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, "owner", f.orgID, "a@example.com")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Create(ctx, "owner", f.orgID, "b@example.com")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "owner", f.orgID, a.Invite.ID)
	require.NoError(t, err)

	_, err = f.svc.ListByOrg(ctx, "member", f.orgID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	views, err := f.svc.ListByOrg(ctx, "owner", f.orgID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "b@example.com", views[0].Email)
	assert.Equal(t, domain.StatusPending, views[0].Status)
	assert.Equal(t, domain.StatusCancelled, views[1].Status)

	f.clock.Advance(8 * 24 * time.Hour)
	views, err = f.svc.ListByOrg(ctx, "owner", f.orgID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, views[0].Status)
}

func TestArchivedOrganizationHidesInvites(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "owner", f.orgID, "carol@example.com")
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(`UPDATE organizations SET archived_at = ? WHERE id = ?`, f.clock.Now(), f.orgID).Error)

	_, err = f.svc.GetByToken(ctx, res.Token)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Accept(ctx, res.Token, "carol", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, "owner", f.orgID, "a@example.com")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.svc.Create(ctx, "owner", f.orgID, "b@example.com")
	require.NoError(t, err)
	f.clock.Advance(2 * 24 * time.Hour)
	fresh, err := f.svc.Create(ctx, "owner", f.orgID, "c@example.com")
	require.NoError(t, err)

	expired, err := f.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	f.clock.Advance(5*24*time.Hour + 30*time.Minute)

	expired, err = f.svc.ExpireStale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	assert.Equal(t, domain.StatusExpired, f.status(t, first.Invite.ID))
	assert.Equal(t, domain.StatusPending, f.status(t, second.Invite.ID))

	expired, err = f.svc.ExpireStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	assert.Equal(t, domain.StatusExpired, f.status(t, second.Invite.ID))
	assert.Equal(t, domain.StatusPending, f.status(t, fresh.Invite.ID))

	expired, err = f.svc.ExpireStale(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

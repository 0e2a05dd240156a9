package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/membership/domain"
	"github.com/stencilflow/stencilflow/internal/membership/repository"
	"github.com/stencilflow/stencilflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	repo  domain.Repository
	audit *testutil.AuditRecorder
	orgID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	repo := repository.NewRepository(db)
	audit := &testutil.AuditRecorder{}
	svc := NewService(Params{
		DB:       db,
		Log:      zaptest.NewLogger(t),
		Clock:    clock.NewFakeClock(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)),
		Repo:     repo,
		AuditSvc: audit,
	})

	orgID := snowflake.ID(1001)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Exec(
		`INSERT INTO organizations (id, name, slug, owner_id, tier, subscription_status, created_at, updated_at)
		 VALUES (?, 'Acme', 'acme', 'owner', 'studio', 'none', ?, ?)`, orgID, now, now).Error)

	f := &fixture{db: db, svc: svc, repo: repo, audit: audit, orgID: orgID}
	f.add(t, 1, "owner", domain.RoleOwner)
	f.add(t, 2, "alice", domain.RoleMember)
	f.add(t, 3, "bob", domain.RoleMember)
	return f
}

func (f *fixture) add(t *testing.T, id int64, userID, role string) {
	t.Helper()
	require.NoError(t, f.repo.Insert(context.Background(), domain.Membership{
		ID:       snowflake.ID(id),
		OrgID:    f.orgID,
		UserID:   userID,
		Email:    userID + "@example.com",
		Role:     role,
		JoinedAt: time.Date(2026, 2, 1, 0, 0, int(id), 0, time.UTC),
	}))
}

func (f *fixture) owners(t *testing.T) []string {
	t.Helper()
	members, err := f.svc.ListMembers(context.Background(), f.orgID)
	require.NoError(t, err)
	var owners []string
	for _, m := range members {
		if m.IsOwner() {
			owners = append(owners, m.UserID)
		}
	}
	return owners
}

func TestListMembersOwnerFirst(t *testing.T) {
	f := newFixture(t)
	members, err := f.svc.ListMembers(context.Background(), f.orgID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "owner", members[0].UserID)
	assert.Equal(t, "alice", members[1].UserID)
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()

	t.Run("owner removes member", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RemoveMember(ctx, "owner", f.orgID, "alice"))
		ok, err := f.svc.IsMember(ctx, f.orgID, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{auditdomain.ActionMemberRemove}, f.audit.Actions())
		assert.Equal(t, []string{"owner"}, f.owners(t))
	})

	t.Run("member leaves", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.RemoveMember(ctx, "bob", f.orgID, "bob"))
	})

	t.Run("member cannot remove another member", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.svc.RemoveMember(ctx, "bob", f.orgID, "alice"), domain.ErrForbidden)
	})

	t.Run("sole owner cannot be removed", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.svc.RemoveMember(ctx, "owner", f.orgID, "owner"), domain.ErrSoleOwner)
		assert.ErrorIs(t, f.svc.RemoveMember(ctx, "alice", f.orgID, "owner"), domain.ErrForbidden)
		assert.Equal(t, []string{"owner"}, f.owners(t))
		assert.Empty(t, f.audit.Actions())
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.svc.RemoveMember(ctx, "owner", f.orgID, "nobody"), domain.ErrNotFound)
		assert.ErrorIs(t, f.svc.RemoveMember(ctx, "stranger", f.orgID, "alice"), domain.ErrNotFound)
	})
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, "alice", f.orgID, "bob"), domain.ErrForbidden)
	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, "owner", f.orgID, "nobody"), domain.ErrNotFound)

	require.NoError(t, f.svc.TransferOwnership(ctx, "owner", f.orgID, "alice"))
	assert.Equal(t, []string{"alice"}, f.owners(t))

	var ownerID string
	require.NoError(t, f.db.Raw(`SELECT owner_id FROM organizations WHERE id = ?`, f.orgID).Scan(&ownerID).Error)
	assert.Equal(t, "alice", ownerID)

	// The previous owner is now an ordinary member and may be removed.
	require.NoError(t, f.svc.RemoveMember(ctx, "alice", f.orgID, "owner"))
	assert.Equal(t, []string{"alice"}, f.owners(t))
}

func TestRoleOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.svc.RoleOf(ctx, f.orgID, "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, role)

	role, err = f.svc.RoleOf(ctx, f.orgID, "stranger")
	require.NoError(t, err)
	assert.Empty(t, role)

	isOwner, err := f.svc.IsOwner(ctx, f.orgID, "bob")
	require.NoError(t, err)
	assert.False(t, isOwner)
}

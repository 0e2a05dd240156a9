package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/audit/repository"
	"github.com/stencilflow/stencilflow/internal/clock"
	obscontext "github.com/stencilflow/stencilflow/internal/observability/context"
	"github.com/stencilflow/stencilflow/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newAuditService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: clk,
		Repo:  repository.NewRepository(db),
	}).(*Service)
	return svc, clk
}

func TestAuditLogResolvesContextAndMasksEmails(t *testing.T) {
	svc, _ := newAuditService(t)
	orgID := snowflake.ID(42)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "user", "usr_owner")
	ctx = obscontext.WithClientIP(ctx, "203.0.113.9")
	ctx = obscontext.WithOrgID(ctx, orgID.String())

	inviteID := "991"
	err := svc.AuditLog(ctx, nil, "", nil, auditdomain.ActionInviteCreate, "invite", &inviteID, map[string]any{
		"email": "bob@example.com",
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), orgID, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "usr_owner", *entry.ActorID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "203.0.113.9", *entry.IPAddress)
	assert.Equal(t, "b****@example.com", entry.Metadata["email"])
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newAuditService(t)
	err := svc.AuditLog(context.Background(), nil, "system", nil, " ", "organization", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, clk := newAuditService(t)
	orgID := snowflake.ID(7)

	for i := 0; i < 3; i++ {
		target := fmt.Sprintf("m%d", i)
		require.NoError(t, svc.AuditLog(context.Background(), &orgID, "user", nil, auditdomain.ActionMemberRemove, "membership", &target, nil))
		clk.Advance(time.Minute)
	}

	first, err := svc.List(context.Background(), orgID, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "m2", *first.AuditLogs[0].TargetID)

	second, err := svc.List(context.Background(), orgID, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "m0", *second.AuditLogs[0].TargetID)

	_, err = svc.List(context.Background(), orgID, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "not-a-cursor"},
	})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

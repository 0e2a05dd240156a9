package identity

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/internal/config"
	"go.uber.org/zap"
)

// MembershipReader is the slice of the membership store the gate consults.
type MembershipReader interface {
	IsMember(ctx context.Context, orgID snowflake.ID, userID string) (bool, error)
	IsOwner(ctx context.Context, orgID snowflake.ID, userID string) (bool, error)
}

type Gate struct {
	log     *zap.Logger
	members MembershipReader
	admins  map[string]struct{}
}

func NewGate(cfg config.Config, members MembershipReader, log *zap.Logger) *Gate {
	admins := make(map[string]struct{}, len(cfg.Identity.AdminUserIDs))
	for _, id := range cfg.Identity.AdminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Gate{
		log:     log.Named("identity.gate"),
		members: members,
		admins:  admins,
	}
}

// IsAdmin fails closed: without a resolved identity the answer is false.
func (g *Gate) IsAdmin(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	if !ok {
		return false
	}
	if id.Role == RoleAdmin {
		return true
	}
	_, listed := g.admins[id.UserID]
	return listed
}

func (g *Gate) IsOrganizationMember(ctx context.Context, orgID snowflake.ID, userID string) (bool, error) {
	if orgID == 0 || strings.TrimSpace(userID) == "" {
		return false, nil
	}
	return g.members.IsMember(ctx, orgID, userID)
}

func (g *Gate) IsOrganizationOwner(ctx context.Context, orgID snowflake.ID, userID string) (bool, error) {
	if orgID == 0 || strings.TrimSpace(userID) == "" {
		return false, nil
	}
	return g.members.IsOwner(ctx, orgID, userID)
}

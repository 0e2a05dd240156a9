package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const (
	ObjectOrganization = "organization"
	ObjectMember       = "member"
	ObjectInvite       = "invite"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionOrganizationView    = "organization.view"
	ActionOrganizationUpdate  = "organization.update"
	ActionOrganizationArchive = "organization.archive"

	ActionMemberView     = "member.view"
	ActionMemberLeave    = "member.leave"
	ActionMemberRemove   = "member.remove"
	ActionMemberTransfer = "member.transfer_ownership"

	ActionInviteView   = "invite.view"
	ActionInviteCreate = "invite.create"
	ActionInviteCancel = "invite.cancel"

	ActionAuditLogView = "audit_log.view"
)

// RoleReader resolves a user's role within an organization. An empty role means
// the user is not a member.
type RoleReader interface {
	RoleOf(ctx context.Context, orgID snowflake.ID, userID string) (string, error)
}

type Service interface {
	// Authorize returns ErrNotFound for non-members, so organizations are not
	// disclosed to outsiders, and ErrForbidden when the role lacks the capability.
	Authorize(ctx context.Context, userID string, orgID snowflake.ID, object string, action string) error
}

var (
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrNotFound            = errors.New("organization_not_found")
	ErrForbidden           = errors.New("forbidden")
)

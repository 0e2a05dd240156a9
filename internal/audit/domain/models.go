package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser     ActorType = "user"
	ActorTypeAdmin    ActorType = "admin"
	ActorTypeProvider ActorType = "provider"
	ActorTypeSystem   ActorType = "system"
)

const (
	ActionOrganizationCreate  = "organization.create"
	ActionOrganizationUpdate  = "organization.update"
	ActionOrganizationArchive = "organization.archive"
	ActionMemberRemove        = "member.remove"
	ActionOwnershipTransfer   = "member.transfer_ownership"
	ActionInviteCreate        = "invite.create"
	ActionInviteAccept        = "invite.accept"
	ActionInviteCancel        = "invite.cancel"
	ActionSubscriptionSync    = "billing.subscription_sync"
)

// AuditLog is an append-only record of a state change inside an organization.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"index:idx_audit_logs_org_created,priority:1" json:"org_id,omitempty"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index:idx_audit_logs_org_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID      snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

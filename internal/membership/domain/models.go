// Package domain contains the membership model and the contracts around it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Membership binds a provider user to an organization. One owner per organization
// is enforced by a partial unique index created in the migrations.
type Membership struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID    snowflake.ID `gorm:"not null;uniqueIndex:ux_memberships_org_user,priority:1" json:"org_id"`
	UserID   string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_memberships_org_user,priority:2;index" json:"user_id"`
	Email    string       `gorm:"type:varchar(320);not null;default:''" json:"email"`
	Role     string       `gorm:"type:varchar(16);not null" json:"role"`
	JoinedAt time.Time    `gorm:"not null" json:"joined_at"`
}

func (Membership) TableName() string { return "memberships" }

func (m Membership) IsOwner() bool { return m.Role == RoleOwner }

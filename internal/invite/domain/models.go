// Package domain holds the invite lifecycle: pending, then accepted, cancelled or expired.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Invite stores only the SHA-256 of its token. The raw token leaves the service twice:
// in the create response and in the invite email.
type Invite struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"org_id"`
	Email       string       `gorm:"type:varchar(320);not null" json:"email"`
	TokenHash   string       `gorm:"type:char(64);not null;uniqueIndex:ux_invites_token_hash" json:"-"`
	Status      string       `gorm:"type:varchar(16);not null" json:"status"`
	InvitedBy   string       `gorm:"type:varchar(191);not null" json:"invited_by"`
	AcceptedBy  *string      `gorm:"type:varchar(191)" json:"accepted_by,omitempty"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	ExpiresAt   time.Time    `gorm:"not null" json:"expires_at"`
	AcceptedAt  *time.Time   `json:"accepted_at,omitempty"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
}

func (Invite) TableName() string { return "invites" }

// EffectiveStatus reports expired for pending invites past their expiry without writing it back.
func (i Invite) EffectiveStatus(now time.Time) string {
	if i.Status == StatusPending && !now.Before(i.ExpiresAt) {
		return StatusExpired
	}
	return i.Status
}

// View is the API shape of an invite with the computed status.
type View struct {
	ID               snowflake.ID `json:"id"`
	OrgID            snowflake.ID `json:"org_id"`
	OrganizationName string       `json:"organization_name,omitempty"`
	Email            string       `json:"email"`
	Status           string       `json:"status"`
	InvitedBy        string       `json:"invited_by"`
	AcceptedBy       *string      `json:"accepted_by,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	ExpiresAt        time.Time    `json:"expires_at"`
	AcceptedAt       *time.Time   `json:"accepted_at,omitempty"`
	CancelledAt      *time.Time   `json:"cancelled_at,omitempty"`
}

func NewView(i Invite, orgName string, now time.Time) View {
	return View{
		ID:               i.ID,
		OrgID:            i.OrgID,
		OrganizationName: orgName,
		Email:            i.Email,
		Status:           i.EffectiveStatus(now),
		InvitedBy:        i.InvitedBy,
		AcceptedBy:       i.AcceptedBy,
		CreatedAt:        i.CreatedAt,
		ExpiresAt:        i.ExpiresAt,
		AcceptedAt:       i.AcceptedAt,
		CancelledAt:      i.CancelledAt,
	}
}

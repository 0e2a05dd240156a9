// Package domain contains persistence models for the organization service.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TierStudio     = "studio"
	TierEnterprise = "enterprise"
)

const (
	SubscriptionNone     = "none"
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Organization represents a team. Archived organizations are invisible to every read.
type Organization struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name               string            `gorm:"type:varchar(100);not null" json:"name"`
	Slug               string            `gorm:"type:varchar(191);not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	OwnerID            string            `gorm:"type:varchar(191);not null;index" json:"owner_id"`
	Tier               string            `gorm:"type:varchar(32);not null" json:"tier"`
	SubscriptionStatus string            `gorm:"type:varchar(32);not null;default:'none'" json:"subscription_status"`
	BillingCustomerID  *string           `gorm:"type:varchar(191);index" json:"billing_customer_id,omitempty"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty"`
	ArchivedAt         *time.Time        `json:"archived_at,omitempty"`
	CreatedAt          time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

func (o Organization) Archived() bool { return o.ArchivedAt != nil }

// ParseTier accepts the display spelling ("Studio") as well as the stored one.
func ParseTier(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case TierStudio:
		return TierStudio, true
	case TierEnterprise:
		return TierEnterprise, true
	default:
		return "", false
	}
}

// OrganizationListItem is an organization seen through one user's membership.
type OrganizationListItem struct {
	ID                 snowflake.ID `json:"id"`
	Name               string       `json:"name"`
	Slug               string       `json:"slug"`
	Tier               string       `json:"tier"`
	SubscriptionStatus string       `json:"subscription_status"`
	Role               string       `json:"role"`
	CreatedAt          time.Time    `json:"created_at"`
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ProviderStripe = "stripe"

// BillingEvent records every processed provider event. The (provider, event_id) pair is
// unique so replayed deliveries are detected.
type BillingEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider    string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_billing_events_provider_event,priority:1" json:"provider"`
	EventID     string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_events_provider_event,priority:2" json:"event_id"`
	EventType   string         `gorm:"type:varchar(100);not null" json:"event_type"`
	OrgID       *snowflake.ID  `gorm:"index" json:"org_id,omitempty"`
	Payload     datatypes.JSON `json:"payload"`
	ProcessedAt time.Time      `gorm:"not null" json:"processed_at"`
}

func (BillingEvent) TableName() string { return "billing_events" }

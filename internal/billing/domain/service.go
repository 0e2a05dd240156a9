package domain

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Insert returns ErrDuplicateEvent when the provider event was already recorded.
	Insert(ctx context.Context, event BillingEvent) error
}

type Service interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookResult, error)
}

// WebhookResult reports what a delivery changed. Ignored events are acknowledged
// so the provider stops redelivering them.
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
	OrgID     string `json:"org_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Tier      string `json:"tier,omitempty"`
}

var (
	ErrNotConfigured    = errors.New("billing_not_configured")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrDuplicateEvent   = errors.New("duplicate_event")
	ErrEventIgnored     = errors.New("event_ignored")
)

package repository

import (
	"context"

	"github.com/stencilflow/stencilflow/internal/billing/domain"
	"github.com/stencilflow/stencilflow/pkg/db"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event domain.BillingEvent) error {
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_events (id, provider, event_id, event_type, org_id, payload, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.EventID,
		event.EventType,
		event.OrgID,
		event.Payload,
		event.ProcessedAt,
	).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateEvent
	}
	return err
}

package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/internal/audit/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, entry domain.AuditLog) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

// List returns newest entries first. It fetches one row past the limit so
// the caller can tell whether another page exists.
func (r *repository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := r.db.WithContext(ctx).Model(&domain.AuditLog{}).Scopes(
		inOrganization(filter.OrgID),
		withAction(filter.Action),
		withTarget(filter.TargetType, filter.TargetID),
		withActorType(filter.ActorType),
		createdBetween(filter.StartAt, filter.EndAt),
		olderThan(filter.Cursor),
	).Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func inOrganization(orgID snowflake.ID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("org_id = ?", orgID)
	}
}

// withAction matches an exact action such as "invite.accept", or every
// action of a family when given a bare prefix such as "invite".
func withAction(action string) func(*gorm.DB) *gorm.DB {
	action = strings.ToLower(strings.TrimSpace(action))
	return func(db *gorm.DB) *gorm.DB {
		switch {
		case action == "":
			return db
		case strings.Contains(action, "."):
			return db.Where("action = ?", action)
		default:
			return db.Where("action LIKE ?", action+".%")
		}
	}
}

func withTarget(targetType, targetID string) func(*gorm.DB) *gorm.DB {
	targetType = strings.TrimSpace(targetType)
	targetID = strings.TrimSpace(targetID)
	return func(db *gorm.DB) *gorm.DB {
		if targetType != "" {
			db = db.Where("target_type = ?", targetType)
		}
		if targetID != "" {
			db = db.Where("target_id = ?", targetID)
		}
		return db
	}
}

func withActorType(actorType string) func(*gorm.DB) *gorm.DB {
	actorType = strings.TrimSpace(actorType)
	return func(db *gorm.DB) *gorm.DB {
		if actorType == "" {
			return db
		}
		return db.Where("actor_type = ?", actorType)
	}
}

func createdBetween(start, end *time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if start != nil {
			db = db.Where("created_at >= ?", start.UTC())
		}
		if end != nil {
			db = db.Where("created_at <= ?", end.UTC())
		}
		return db
	}
}

func olderThan(cursor *domain.AuditCursor) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if cursor == nil {
			return db
		}
		return db.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
}

package migration

import (
	"fmt"

	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	billingdomain "github.com/stencilflow/stencilflow/internal/billing/domain"
	invitedomain "github.com/stencilflow/stencilflow/internal/invite/domain"
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	organizationdomain "github.com/stencilflow/stencilflow/internal/organization/domain"
	"gorm.io/gorm"
)

// partialIndexes back the single-owner and single-pending-invite rules. MySQL has no
// partial indexes, so there the services' transactional checks are the only guard.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_memberships_single_owner ON memberships (org_id) WHERE role = 'owner'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_invites_pending_email ON invites (org_id, email) WHERE status = 'pending'`,
}

// AutoMigrate creates the schema from the models. It serves the non-postgres dialects and tests.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&organizationdomain.Organization{},
		&membershipdomain.Membership{},
		&invitedomain.Invite{},
		&auditdomain.AuditLog{},
		&billingdomain.BillingEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if db.Dialector.Name() == "mysql" {
		return nil
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create partial index: %w", err)
		}
	}
	return nil
}

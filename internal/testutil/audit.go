package testutil

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
)

type AuditEntry struct {
	OrgID    *snowflake.ID
	Action   string
	TargetID string
	Metadata map[string]any
}

// AuditRecorder is an in-memory audit service.
type AuditRecorder struct {
	mu      sync.Mutex
	Entries []AuditEntry
}

func (r *AuditRecorder) AuditLog(_ context.Context, orgID *snowflake.ID, _ string, _ *string, action string, _ string, targetID *string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := AuditEntry{OrgID: orgID, Action: action, Metadata: metadata}
	if targetID != nil {
		entry.TargetID = *targetID
	}
	r.Entries = append(r.Entries, entry)
	return nil
}

func (r *AuditRecorder) List(context.Context, snowflake.ID, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (r *AuditRecorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Action)
	}
	return out
}

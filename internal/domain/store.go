package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries. Event, when set, keeps
// audit entries whose event starts with it.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Event  string
}

// ExecutionStore durably records paired-order executions. OneLegFilled
// records are the reason it exists: they represent open financial risk.
type ExecutionStore interface {
	Save(ctx context.Context, rec ExecutionRecord) error
	UpdateSettlement(ctx context.Context, id string, status SettlementStatus, txHash string) error
	GetByID(ctx context.Context, id string) (ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListOpenRisk(ctx context.Context) ([]ExecutionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ABOUTME: Audit records for authentication decisions
// ABOUTME: Best-effort logging sink; failures never block the decision path

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outcome of an authentication decision.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
)

// AuditRecord describes one authentication decision. It never contains a
// raw secret; Subject is the key id or token subject.
type AuditRecord struct {
	ID        string
	Subject   string
	Method    string // "api_key", "bearer" or "none"
	Outcome   string // "allow" or "deny"
	Reason    string // deny reason, empty on allow
	Timestamp time.Time
}

// Auditor receives authentication decisions. Implementations must be cheap
// and must never fail the request: the validator fires and forgets.
type Auditor interface {
	Record(ctx context.Context, rec AuditRecord)
}

// LogAuditor writes audit records through slog.
type LogAuditor struct {
	logger *slog.Logger
}

// NewLogAuditor creates an Auditor backed by the given logger.
func NewLogAuditor(logger *slog.Logger) *LogAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditor{logger: logger.With("component", "auth-audit")}
}

// Record logs one decision.
func (a *LogAuditor) Record(ctx context.Context, rec AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if rec.Outcome == OutcomeAllow {
		a.logger.Info("auth decision",
			"audit_id", rec.ID,
			"subject", rec.Subject,
			"method", rec.Method,
			"outcome", rec.Outcome,
		)
		return
	}
	a.logger.Warn("auth decision",
		"audit_id", rec.ID,
		"subject", rec.Subject,
		"method", rec.Method,
		"outcome", rec.Outcome,
		"reason", rec.Reason,
	)
}

var _ Auditor = (*LogAuditor)(nil)

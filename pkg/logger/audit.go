package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// SecurityRecord is the log view of a security event
type SecurityRecord struct {
	Action          string
	Resource        string
	ActorIdentifier string
	ActorID         string
	ClientTimestamp time.Time
	Details         map[string]interface{}
}

// AuditLogger writes security events to the structured log so they survive
// even when the event store is unavailable.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogSecurityEvent logs one security event. Failed and rejected actions are
// logged at warn level.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, rec SecurityRecord) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("action", rec.Action),
		slog.String("resource", rec.Resource),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if rec.ActorIdentifier != "" {
		attrs = append(attrs, slog.String("actor", SanitizedEmail(rec.ActorIdentifier)))
	}
	if rec.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", rec.ActorID))
	}
	if !rec.ClientTimestamp.IsZero() {
		attrs = append(attrs, slog.String("client_timestamp", rec.ClientTimestamp.UTC().Format(time.RFC3339Nano)))
	}
	if len(rec.Details) > 0 {
		attrs = append(attrs, slog.Any("details", sanitizeDetails(rec.Details)))
	}

	al.logger.LogAttrs(ctx, levelFor(rec.Action), "audit", attrs...)
}

// LogDropped records an event the store refused
func (al *AuditLogger) LogDropped(ctx context.Context, action, reason string, err error) {
	al.logger.LogAttrs(ctx, slog.LevelError, "audit event dropped",
		slog.String("audit_type", "security"),
		slog.String("action", action),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
}

func levelFor(action string) slog.Level {
	if strings.HasSuffix(action, "_FAILED") || strings.HasSuffix(action, "_REJECTED") {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// sanitizeDetails masks email-valued entries before they reach the log
func sanitizeDetails(details map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if s, ok := v.(string); ok && IsSensitiveKey(k) {
			if strings.Contains(s, "@") {
				out[k] = SanitizedEmail(s)
			} else {
				out[k] = "[REDACTED]"
			}
			continue
		}
		out[k] = v
	}
	return out
}

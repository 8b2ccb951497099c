package audit

import (
	"context"
	"log/slog"

	"tokenverif/pkg/requestcontext"
)

// LogAudit writes the event to the structured logger and forwards it to the
// publisher if one is configured. Publisher failures are logged, never returned.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher Publisher, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.TraceID == "" {
		event.TraceID = requestcontext.RequestID(ctx)
	}

	if logger != nil {
		args := []any{
			"event", string(event.Action),
			"log_type", "audit",
			"category", string(event.Category),
		}
		if event.TokenID != "" {
			args = append(args, "token_id", event.TokenID)
		}
		if event.RequestID != "" {
			args = append(args, "verification_request_id", event.RequestID)
		}
		if event.Subject != "" {
			args = append(args, "subject", event.Subject)
		}
		if event.Decision != "" {
			args = append(args, "decision", event.Decision)
		}
		if event.Reason != "" {
			args = append(args, "reason", event.Reason)
		}
		if event.TraceID != "" {
			args = append(args, "request_id", event.TraceID)
		}
		for k, v := range event.Attrs {
			args = append(args, k, v)
		}
		logger.InfoContext(ctx, string(event.Action), args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event.Action), "error", err)
	}
}

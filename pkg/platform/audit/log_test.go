package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/audit/publishers/memory"
	"tokenverif/pkg/requestcontext"
)

type failingPublisher struct{}

func (failingPublisher) Emit(context.Context, audit.Event) error {
	return errors.New("broker down")
}

func TestLogAudit(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithRequestID(ctx, "run-42")

	t.Run("fills defaults and forwards to publisher", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		pub := memory.NewPublisher()

		audit.LogAudit(ctx, logger, pub, audit.Event{
			Action:    audit.EventAttestationIssued,
			TokenID:   "tok-1",
			RequestID: "req-1",
			Decision:  "VERIFIED",
		})

		events := pub.Events()
		require.Len(t, events, 1)
		assert.Equal(t, fixed, events[0].Timestamp)
		assert.Equal(t, audit.CategoryCompliance, events[0].Category)
		assert.Equal(t, "run-42", events[0].TraceID)

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "audit", line["log_type"])
		assert.Equal(t, "attestation_issued", line["event"])
		assert.Equal(t, "tok-1", line["token_id"])
		assert.Equal(t, "VERIFIED", line["decision"])
	})

	t.Run("publisher failure is logged not returned", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		audit.LogAudit(ctx, logger, failingPublisher{}, audit.Event{Action: audit.EventProofChecked})

		assert.Contains(t, buf.String(), "failed to emit audit event")
		assert.Contains(t, buf.String(), "broker down")
	})

	t.Run("nil logger and publisher are tolerated", func(t *testing.T) {
		assert.NotPanics(t, func() {
			audit.LogAudit(ctx, nil, nil, audit.Event{Action: audit.EventProofChecked})
		})
	})
}

func TestEventCategory(t *testing.T) {
	assert.Equal(t, audit.CategoryCompliance, audit.EventVerificationRevoked.Category())
	assert.Equal(t, audit.CategorySecurity, audit.EventSigningKeyRotated.Category())
	assert.Equal(t, audit.CategoryOperations, audit.EventProofChecked.Category())
	assert.Equal(t, audit.CategoryOperations, audit.AuditEvent("unknown").Category())
}

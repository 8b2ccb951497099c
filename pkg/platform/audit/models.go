package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers events that change what the registry asserts
	// about a token. These are kept for the lifetime of the token.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers key material and revocation decisions.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity such as individual proof checks.
	CategoryOperations EventCategory = "operations"
)

// AuditEvent names an action recorded in the audit stream.
type AuditEvent string

const (
	EventRequestOpened          AuditEvent = "verification_request_opened"
	EventProofSubmitted         AuditEvent = "proof_submitted"
	EventProofChecked           AuditEvent = "proof_checked"
	EventVerificationApproved   AuditEvent = "verification_approved"
	EventVerificationPending    AuditEvent = "verification_pending"
	EventVerificationRejected   AuditEvent = "verification_rejected"
	EventVerificationRevoked    AuditEvent = "verification_revoked"
	EventAttestationIssued      AuditEvent = "attestation_issued"
	EventAttestationRevoked     AuditEvent = "attestation_revoked"
	EventSigningKeyCreated      AuditEvent = "signing_key_created"
	EventSigningKeyRotated      AuditEvent = "signing_key_rotated"
	EventReverificationPassed   AuditEvent = "reverification_passed"
	EventReverificationGrace    AuditEvent = "reverification_grace_period"
	EventReverificationFailed   AuditEvent = "reverification_failed"
	EventReverificationDeferred AuditEvent = "reverification_deferred"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationApproved: CategoryCompliance,
	EventVerificationRejected: CategoryCompliance,
	EventVerificationRevoked:  CategoryCompliance,
	EventAttestationIssued:    CategoryCompliance,
	EventAttestationRevoked:   CategoryCompliance,

	EventSigningKeyCreated:    CategorySecurity,
	EventSigningKeyRotated:    CategorySecurity,
	EventReverificationFailed: CategorySecurity,

	EventRequestOpened:          CategoryOperations,
	EventProofSubmitted:         CategoryOperations,
	EventProofChecked:           CategoryOperations,
	EventVerificationPending:    CategoryOperations,
	EventReverificationPassed:   CategoryOperations,
	EventReverificationGrace:    CategoryOperations,
	EventReverificationDeferred: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Category  EventCategory     `json:"category"`
	Timestamp time.Time         `json:"timestamp"`
	Action    AuditEvent        `json:"action"`
	TokenID   string            `json:"token_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Decision  string            `json:"decision,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Publisher delivers audit events to a sink.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

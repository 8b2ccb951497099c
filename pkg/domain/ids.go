package domain

import (
	"github.com/google/uuid"

	dErrors "tokenverif/pkg/domain-errors"
)

// Typed identifiers keep tokens, requests, proofs, attestations, keys and jobs
// from being passed where another kind of id is expected.
type (
	TokenID       uuid.UUID
	ProjectID     uuid.UUID
	RequestID     uuid.UUID
	ProofID       uuid.UUID
	AttestationID uuid.UUID
	SigningKeyID  uuid.UUID
	JobID         uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

func ParseTokenID(s string) (TokenID, error) {
	v, err := parseUUID("token id", s)
	return TokenID(v), err
}

func ParseProjectID(s string) (ProjectID, error) {
	v, err := parseUUID("project id", s)
	return ProjectID(v), err
}

func ParseRequestID(s string) (RequestID, error) {
	v, err := parseUUID("request id", s)
	return RequestID(v), err
}

func ParseProofID(s string) (ProofID, error) {
	v, err := parseUUID("proof id", s)
	return ProofID(v), err
}

func ParseAttestationID(s string) (AttestationID, error) {
	v, err := parseUUID("attestation id", s)
	return AttestationID(v), err
}

func ParseSigningKeyID(s string) (SigningKeyID, error) {
	v, err := parseUUID("signing key id", s)
	return SigningKeyID(v), err
}

func ParseJobID(s string) (JobID, error) {
	v, err := parseUUID("job id", s)
	return JobID(v), err
}

func (id TokenID) String() string       { return uuid.UUID(id).String() }
func (id ProjectID) String() string     { return uuid.UUID(id).String() }
func (id RequestID) String() string     { return uuid.UUID(id).String() }
func (id ProofID) String() string       { return uuid.UUID(id).String() }
func (id AttestationID) String() string { return uuid.UUID(id).String() }
func (id SigningKeyID) String() string  { return uuid.UUID(id).String() }
func (id JobID) String() string         { return uuid.UUID(id).String() }

func (id TokenID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ProjectID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ProofID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id AttestationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SigningKeyID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id JobID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }

func NewTokenID() TokenID             { return TokenID(uuid.New()) }
func NewProjectID() ProjectID         { return ProjectID(uuid.New()) }
func NewRequestID() RequestID         { return RequestID(uuid.New()) }
func NewProofID() ProofID             { return ProofID(uuid.New()) }
func NewAttestationID() AttestationID { return AttestationID(uuid.New()) }
func NewSigningKeyID() SigningKeyID   { return SigningKeyID(uuid.New()) }
func NewJobID() JobID                 { return JobID(uuid.New()) }

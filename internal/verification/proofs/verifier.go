package proofs

import (
	"context"
	"encoding/json"
	"fmt"

	"tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
)

// Target is what a proof is checked against: the token contract and the
// request whose nonce must appear in the proof.
type Target struct {
	RequestID       id.RequestID
	Nonce           string
	ChainID         int64
	ContractAddress string
}

// ExpectedChallenge is the exact string DNS and GitHub proofs must publish.
func (t Target) ExpectedChallenge() string {
	return FormatChallenge(t.RequestID.String(), t.Nonce)
}

// Outcome is a verifier's verdict.
type Outcome struct {
	Valid    bool
	Evidence models.Evidence
	Reason   string
}

// Valid builds a positive outcome.
func Valid(hint models.TierHint, details map[string]string) Outcome {
	return Outcome{Valid: true, Evidence: models.Evidence{TierHint: hint, Details: details}}
}

// Invalid builds a negative outcome with a human-readable reason.
func Invalid(reason string, details map[string]string) Outcome {
	return Outcome{Valid: false, Reason: reason, Evidence: models.Evidence{Details: details}}
}

// Verifier checks one proof type against a live external system. Verify
// returns a nil error for every verdict, positive or negative, and an error
// only when no verdict could be reached.
type Verifier interface {
	Type() models.ProofType
	Verify(ctx context.Context, target Target, claim json.RawMessage) (Outcome, error)
}

// Registry dispatches proofs to the verifier registered for their type.
type Registry struct {
	verifiers map[models.ProofType]Verifier
}

// NewRegistry creates a registry with the given verifiers.
func NewRegistry(verifiers ...Verifier) (*Registry, error) {
	r := &Registry{verifiers: make(map[models.ProofType]Verifier, len(verifiers))}
	for _, v := range verifiers {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a verifier. Each proof type has exactly one verifier.
func (r *Registry) Register(v Verifier) error {
	t := v.Type()
	if _, exists := r.verifiers[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVerifier, t)
	}
	r.verifiers[t] = v
	return nil
}

// Get returns the verifier for a proof type.
func (r *Registry) Get(t models.ProofType) (Verifier, error) {
	v, ok := r.verifiers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVerifierNotFound, t)
	}
	return v, nil
}

// Types lists the registered proof types.
func (r *Registry) Types() []models.ProofType {
	out := make([]models.ProofType, 0, len(r.verifiers))
	for _, t := range models.AllProofTypes {
		if _, ok := r.verifiers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

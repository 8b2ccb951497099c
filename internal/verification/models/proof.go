package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	id "tokenverif/pkg/domain"
)

// ProofType identifies which control a proof demonstrates.
type ProofType string

const (
	ProofTypeSignature ProofType = "signature"
	ProofTypeDNS       ProofType = "dns"
	ProofTypeGitHub    ProofType = "github"
)

// AllProofTypes lists every supported proof type in check order.
var AllProofTypes = []ProofType{ProofTypeSignature, ProofTypeDNS, ProofTypeGitHub}

func (t ProofType) IsValid() bool {
	switch t {
	case ProofTypeSignature, ProofTypeDNS, ProofTypeGitHub:
		return true
	}
	return false
}

// IsOffchain reports whether the proof is checked outside the chain.
func (t ProofType) IsOffchain() bool {
	return t == ProofTypeDNS || t == ProofTypeGitHub
}

func ParseProofType(s string) (ProofType, error) {
	t := ProofType(strings.TrimSpace(s))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown proof type %q", s)
	}
	return t, nil
}

// ProofStatus is the outcome of the last check of a proof.
//
// ProofStatusError marks a check that could not reach a verdict because the
// external system stayed unreachable after retries. It counts as neither
// valid nor invalid.
type ProofStatus string

const (
	ProofStatusPending ProofStatus = "pending"
	ProofStatusValid   ProofStatus = "valid"
	ProofStatusInvalid ProofStatus = "invalid"
	ProofStatusError   ProofStatus = "error"
)

// TierHint is recorded by the signature verifier to say how the signer
// relates to the contract.
type TierHint string

const (
	TierHintNone     TierHint = ""
	TierHintOwner    TierHint = "owner"
	TierHintDeployer TierHint = "deployer"
)

// Evidence is what a verifier observed while checking a proof.
type Evidence struct {
	TierHint TierHint          `json:"tier_hint,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// Proof is one proof-of-control attempt within a verification request.
// A request holds at most one proof per type.
type Proof struct {
	ID            id.ProofID
	RequestID     id.RequestID
	Type          ProofType
	Status        ProofStatus
	Claim         json.RawMessage
	Evidence      Evidence
	CheckedAt     *time.Time
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsValid reports whether the last check accepted the proof.
func (p Proof) IsValid() bool {
	return p.Status == ProofStatusValid
}

// Resubmit replaces the claim and resets the proof to pending.
func (p *Proof) Resubmit(claim json.RawMessage, now time.Time) {
	p.Claim = claim
	p.Status = ProofStatusPending
	p.Evidence = Evidence{}
	p.CheckedAt = nil
	p.FailureReason = ""
	p.UpdatedAt = now
}

// RecordCheck stores the result of a check pass.
func (p *Proof) RecordCheck(status ProofStatus, evidence Evidence, reason string, now time.Time) {
	checkedAt := now
	p.Status = status
	p.Evidence = evidence
	p.FailureReason = reason
	p.CheckedAt = &checkedAt
	p.UpdatedAt = now
}

// SignatureClaim is the payload of a signature proof: an EIP-191
// personal_sign signature over the request's challenge message.
type SignatureClaim struct {
	Signature      string `json:"signature"`
	ClaimedAddress string `json:"claimed_address,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// DNSClaim is the payload of a DNS proof.
type DNSClaim struct {
	Domain string `json:"domain"`
}

// GitHubClaim is the payload of a GitHub proof.
type GitHubClaim struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// DecodeClaim unmarshals a stored claim into dst.
func DecodeClaim(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("claim is empty")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode claim: %w", err)
	}
	return nil
}

package models

import (
	"crypto/ed25519"
	"fmt"
	"time"

	vmodels "tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
)

// AlgorithmEd25519 is the only signing algorithm.
const AlgorithmEd25519 = "Ed25519"

// SigningKey is an attestation signing keypair. Exactly one key is active;
// retired keys are kept so older attestations stay verifiable.
type SigningKey struct {
	ID         id.SigningKeyID
	Algorithm  string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	Active     bool
	CreatedAt  time.Time
	RetiredAt  *time.Time
}

// HasValidMaterial reports whether both halves are present and consistent.
func (k *SigningKey) HasValidMaterial() bool {
	if k == nil || k.Algorithm != AlgorithmEd25519 {
		return false
	}
	if len(k.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	if k.PrivateKey == nil {
		return true
	}
	if len(k.PrivateKey) != ed25519.PrivateKeySize {
		return false
	}
	return k.PrivateKey.Public().(ed25519.PublicKey).Equal(k.PublicKey)
}

// PublicOnly returns a copy without private material, safe to cache for
// verification.
func (k *SigningKey) PublicOnly() *SigningKey {
	cp := *k
	cp.PrivateKey = nil
	return &cp
}

// Attestation is one signed version of a token's verification state.
// Versions are never mutated except to revoke them.
type Attestation struct {
	ID            id.AttestationID
	TokenID       id.TokenID
	RequestID     id.RequestID
	Version       int
	Tier          vmodels.Tier
	Payload       []byte
	Signature     string
	SigningKeyID  id.SigningKeyID
	IssuedAt      time.Time
	RevokedAt     *time.Time
	RevokedReason string
}

func (a *Attestation) IsRevoked() bool {
	return a.RevokedAt != nil
}

// Revoke marks the attestation revoked. Revoking twice keeps the first reason.
func (a *Attestation) Revoke(reason string, now time.Time) {
	if a.IsRevoked() {
		return
	}
	revokedAt := now
	a.RevokedAt = &revokedAt
	a.RevokedReason = reason
}

// Payload is the signed wire format. Field names and omitempty tags are
// part of the signature and must not change without a new payload version.
type Payload struct {
	Version      int              `json:"version"`
	Timestamp    string           `json:"timestamp"`
	Token        TokenInfo        `json:"token"`
	Verification VerificationInfo `json:"verification"`
	Project      ProjectInfo      `json:"project"`
}

type TokenInfo struct {
	ChainID         int64  `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Decimals        *int   `json:"decimals,omitempty"`
	LogoURL         string `json:"logoUrl,omitempty"`
	WebsiteURL      string `json:"websiteUrl,omitempty"`
}

type VerificationInfo struct {
	Tier      vmodels.Tier   `json:"tier"`
	RequestID string         `json:"requestId"`
	Proofs    []ProofSummary `json:"proofs"`
}

type ProofSummary struct {
	Type      vmodels.ProofType   `json:"type"`
	Status    vmodels.ProofStatus `json:"status"`
	CheckedAt string              `json:"checkedAt,omitempty"`
}

type ProjectInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	WebsiteURL  string `json:"websiteUrl,omitempty"`
}

// AutoRevocationPrefix starts the reason recorded when re-verification
// revokes a token.
const AutoRevocationPrefix = "automatic revocation"

// SupersededReason is the revocation reason of the live attestation when
// version is minted for the same token.
func SupersededReason(version int) string {
	return fmt.Sprintf("superseded by version %d", version)
}

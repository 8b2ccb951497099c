package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tokenverif/internal/attestation/canonical"
	"tokenverif/internal/attestation/models"
	"tokenverif/internal/platform/metrics"
	vmodels "tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
	dErrors "tokenverif/pkg/domain-errors"
	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/requestcontext"
)

// Store persists attestations and resolves tokens by address.
type Store interface {
	// IssueAttestation computes the token's next version, persists what build
	// returns for it and revokes the previous live version, all atomically.
	// superseded is nil when the token had no live attestation.
	IssueAttestation(ctx context.Context, tokenID id.TokenID, build func(version int) (*models.Attestation, error)) (issued, superseded *models.Attestation, err error)
	GetAttestation(ctx context.Context, attestationID id.AttestationID) (*models.Attestation, error)
	GetLiveAttestation(ctx context.Context, tokenID id.TokenID) (*models.Attestation, error)
	ListAttestations(ctx context.Context, tokenID id.TokenID) ([]*models.Attestation, error)
	RevokeAttestation(ctx context.Context, attestationID id.AttestationID, reason string, now time.Time) (*models.Attestation, error)
	FindTokenByAddress(ctx context.Context, chainID int64, address string) (*vmodels.Token, error)
}

// KeyProvider hands out the active signing key and looks up retired ones.
type KeyProvider interface {
	Active(ctx context.Context) (*models.SigningKey, error)
	Get(ctx context.Context, keyID id.SigningKeyID) (*models.SigningKey, error)
	Rotate(ctx context.Context) (*models.SigningKey, error)
}

// Service signs, issues and revokes attestations.
type Service struct {
	store     Store
	keys      KeyProvider
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher audit.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func New(store Store, keys KeyProvider, opts ...Option) *Service {
	s := &Service{store: store, keys: keys}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signature is a detached signature over canonical payload bytes.
type Signature struct {
	Canonical []byte
	Value     string
	KeyID     id.SigningKeyID
}

// CreateInput is everything an attestation asserts about a token.
type CreateInput struct {
	Token     *vmodels.Token
	Project   *vmodels.Project
	RequestID id.RequestID
	Tier      vmodels.Tier
	Proofs    []vmodels.Proof
}

// GetOrCreateActiveKey returns the active signing key, creating it on first use.
func (s *Service) GetOrCreateActiveKey(ctx context.Context) (*models.SigningKey, error) {
	key, err := s.keys.Active(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load signing key")
	}
	return key, nil
}

// RotateSigningKey retires the active key and activates a new one. Existing
// attestations keep verifying against the retired key.
func (s *Service) RotateSigningKey(ctx context.Context) (*models.SigningKey, error) {
	key, err := s.keys.Rotate(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rotate signing key")
	}
	return key.PublicOnly(), nil
}

// Sign canonicalizes payload and signs it with the active key.
func (s *Service) Sign(ctx context.Context, payload any) (*Signature, error) {
	key, err := s.GetOrCreateActiveKey(ctx)
	if err != nil {
		return nil, err
	}
	return sign(key, payload)
}

func sign(key *models.SigningKey, payload any) (*Signature, error) {
	data, err := canonical.Marshal(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to canonicalize payload")
	}
	sig := ed25519.Sign(key.PrivateKey, data)
	return &Signature{
		Canonical: data,
		Value:     base64.StdEncoding.EncodeToString(sig),
		KeyID:     key.ID,
	}, nil
}

// Verify checks a base64 signature over payload bytes. Malformed input of
// any kind yields false.
func Verify(payload []byte, signature string, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, payload, sig)
}

// VerifySignature checks a signature against the key it names, active or
// retired. An unknown key id is a failed verification, not an error.
func (s *Service) VerifySignature(ctx context.Context, payload []byte, signature string, keyID id.SigningKeyID) (bool, error) {
	key, err := s.keys.Get(ctx, keyID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load signing key")
	}
	return Verify(payload, signature, key.PublicKey), nil
}

// VerifyAttestation re-serializes a stored payload canonically and checks it
// against the signing key recorded on the attestation.
func (s *Service) VerifyAttestation(ctx context.Context, att *models.Attestation) (bool, error) {
	if att == nil {
		return false, nil
	}
	data, err := canonical.Canonicalize(att.Payload)
	if err != nil {
		return false, nil
	}
	return s.VerifySignature(ctx, data, att.Signature, att.SigningKeyID)
}

// CreateAttestation signs and stores the next version for the token. The
// previous live version, if any, is revoked as superseded.
func (s *Service) CreateAttestation(ctx context.Context, in CreateInput) (*models.Attestation, error) {
	if in.Token == nil || in.Project == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token and project are required")
	}
	if in.RequestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request id is required")
	}
	if !in.Tier.IsApproved() {
		return nil, dErrors.New(dErrors.CodeValidation, "tier "+string(in.Tier)+" cannot be attested")
	}

	key, err := s.GetOrCreateActiveKey(ctx)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	issued, superseded, err := s.store.IssueAttestation(ctx, in.Token.ID, func(version int) (*models.Attestation, error) {
		signed, err := sign(key, BuildPayload(in, version, now))
		if err != nil {
			return nil, err
		}
		return &models.Attestation{
			ID:           id.NewAttestationID(),
			TokenID:      in.Token.ID,
			RequestID:    in.RequestID,
			Version:      version,
			Tier:         in.Tier,
			Payload:      signed.Canonical,
			Signature:    signed.Value,
			SigningKeyID: signed.KeyID,
			IssuedAt:     now,
		}, nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue attestation")
	}

	if superseded != nil {
		s.recordRevocation(ctx, superseded)
	}
	s.metrics.IncAttestationsIssued(string(issued.Tier))
	audit.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		Action:    audit.EventAttestationIssued,
		TokenID:   issued.TokenID.String(),
		RequestID: issued.RequestID.String(),
		Subject:   issued.ID.String(),
		Decision:  string(issued.Tier),
		Attrs: map[string]string{
			"version":        strconv.Itoa(issued.Version),
			"signing_key_id": issued.SigningKeyID.String(),
		},
	})
	return issued, nil
}

// BuildPayload assembles the signed wire form. Proof summaries follow the
// fixed proof type order so the same proof set always yields the same bytes.
func BuildPayload(in CreateInput, version int, now time.Time) models.Payload {
	byType := make(map[vmodels.ProofType]vmodels.Proof, len(in.Proofs))
	for _, p := range in.Proofs {
		byType[p.Type] = p
	}
	summaries := make([]models.ProofSummary, 0, len(byType))
	for _, t := range vmodels.AllProofTypes {
		p, ok := byType[t]
		if !ok {
			continue
		}
		summary := models.ProofSummary{Type: p.Type, Status: p.Status}
		if p.CheckedAt != nil {
			summary.CheckedAt = p.CheckedAt.UTC().Format(time.RFC3339)
		}
		summaries = append(summaries, summary)
	}

	return models.Payload{
		Version:   version,
		Timestamp: now.UTC().Format(time.RFC3339),
		Token: models.TokenInfo{
			ChainID:         in.Token.ChainID,
			ContractAddress: in.Token.ContractAddress,
			Symbol:          in.Token.Symbol,
			Name:            in.Token.Name,
			Decimals:        in.Token.Decimals,
			LogoURL:         in.Token.LogoURL,
			WebsiteURL:      in.Token.WebsiteURL,
		},
		Verification: models.VerificationInfo{
			Tier:      in.Tier,
			RequestID: in.RequestID.String(),
			Proofs:    summaries,
		},
		Project: models.ProjectInfo{
			ID:          in.Project.ID.String(),
			DisplayName: in.Project.DisplayName,
			WebsiteURL:  in.Project.WebsiteURL,
		},
	}
}

// Revoke marks an attestation revoked. Revoking an already revoked
// attestation returns it unchanged.
func (s *Service) Revoke(ctx context.Context, attestationID id.AttestationID, reason string) (*models.Attestation, error) {
	current, err := s.store.GetAttestation(ctx, attestationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "attestation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attestation")
	}
	if current.IsRevoked() {
		return current, nil
	}

	revoked, err := s.store.RevokeAttestation(ctx, attestationID, reason, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke attestation")
	}
	s.recordRevocation(ctx, revoked)
	return revoked, nil
}

// RevokeLatest revokes the token's live attestation. It returns nil when the
// token has none.
func (s *Service) RevokeLatest(ctx context.Context, tokenID id.TokenID, reason string) (*models.Attestation, error) {
	live, err := s.store.GetLiveAttestation(ctx, tokenID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load live attestation")
	}
	return s.Revoke(ctx, live.ID, reason)
}

// GetLive returns the token's live attestation, or nil when it has none.
func (s *Service) GetLive(ctx context.Context, tokenID id.TokenID) (*models.Attestation, error) {
	live, err := s.store.GetLiveAttestation(ctx, tokenID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load live attestation")
	}
	return live, nil
}

// GetLatest returns the live attestation for a token address. A token
// without one yields a CodeNotFound error.
func (s *Service) GetLatest(ctx context.Context, chainID int64, address string) (*models.Attestation, error) {
	normalized, err := vmodels.NormalizeAddress(address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid contract address")
	}
	token, err := s.store.FindTokenByAddress(ctx, chainID, normalized)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token")
	}
	live, err := s.store.GetLiveAttestation(ctx, token.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no live attestation")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attestation")
	}
	return live, nil
}

// History lists every version for a token, oldest first.
func (s *Service) History(ctx context.Context, tokenID id.TokenID) ([]*models.Attestation, error) {
	list, err := s.store.ListAttestations(ctx, tokenID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list attestations")
	}
	return list, nil
}

func (s *Service) recordRevocation(ctx context.Context, att *models.Attestation) {
	s.metrics.IncAttestationsRevoked(revocationBucket(att.RevokedReason))
	audit.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		Action:    audit.EventAttestationRevoked,
		TokenID:   att.TokenID.String(),
		RequestID: att.RequestID.String(),
		Subject:   att.ID.String(),
		Reason:    att.RevokedReason,
		Attrs:     map[string]string{"version": strconv.Itoa(att.Version)},
	})
}

func revocationBucket(reason string) string {
	switch {
	case strings.HasPrefix(reason, "superseded"):
		return "superseded"
	case strings.HasPrefix(reason, models.AutoRevocationPrefix):
		return "reverification_failed"
	default:
		return "manual"
	}
}

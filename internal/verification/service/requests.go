package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	id "tokenverif/pkg/domain"
	dErrors "tokenverif/pkg/domain-errors"
	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/requestcontext"
)

// OpenRequest starts a verification attempt for a token with a fresh nonce.
func (s *Service) OpenRequest(ctx context.Context, tokenID id.TokenID) (*models.Request, error) {
	if _, err := s.loadToken(ctx, tokenID); err != nil {
		return nil, err
	}
	nonce, err := proofs.NewNonce()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate nonce")
	}

	now := requestcontext.Now(ctx)
	req := &models.Request{
		ID:        id.NewRequestID(),
		TokenID:   tokenID,
		Nonce:     nonce,
		Status:    models.RequestStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "token already has an open verification request")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification request")
	}

	s.logAudit(ctx, audit.Event{
		Action:    audit.EventRequestOpened,
		TokenID:   tokenID.String(),
		RequestID: req.ID.String(),
	})
	return req, nil
}

// SubmitProof stores a claim for one proof type, replacing any earlier claim
// of that type and resetting it to pending.
func (s *Service) SubmitProof(ctx context.Context, requestID id.RequestID, proofType models.ProofType, claim json.RawMessage) (*models.Proof, error) {
	if !proofType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown proof type "+string(proofType))
	}
	if err := validateClaim(proofType, claim); err != nil {
		return nil, err
	}

	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "verification request is "+string(req.Status))
	}

	existing, err := s.store.ListProofs(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proofs")
	}

	now := requestcontext.Now(ctx)
	var proof *models.Proof
	for i := range existing {
		if existing[i].Type == proofType {
			proof = &existing[i]
			proof.Resubmit(claim, now)
			break
		}
	}
	if proof == nil {
		proof = &models.Proof{
			ID:        id.NewProofID(),
			RequestID: requestID,
			Type:      proofType,
			Status:    models.ProofStatusPending,
			Claim:     claim,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if err := s.store.SaveProof(ctx, proof); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save proof")
	}

	s.logAudit(ctx, audit.Event{
		Action:    audit.EventProofSubmitted,
		TokenID:   req.TokenID.String(),
		RequestID: requestID.String(),
		Subject:   string(proofType),
	})
	return proof, nil
}

func validateClaim(proofType models.ProofType, claim json.RawMessage) error {
	invalid := func(msg string) error {
		return dErrors.New(dErrors.CodeValidation, string(proofType)+" claim: "+msg)
	}
	switch proofType {
	case models.ProofTypeSignature:
		var c models.SignatureClaim
		if err := models.DecodeClaim(claim, &c); err != nil {
			return invalid(err.Error())
		}
		if c.Signature == "" || c.Timestamp == "" {
			return invalid("signature and timestamp are required")
		}
	case models.ProofTypeDNS:
		var c models.DNSClaim
		if err := models.DecodeClaim(claim, &c); err != nil {
			return invalid(err.Error())
		}
		if c.Domain == "" {
			return invalid("domain is required")
		}
	case models.ProofTypeGitHub:
		var c models.GitHubClaim
		if err := models.DecodeClaim(claim, &c); err != nil {
			return invalid(err.Error())
		}
		if c.Owner == "" || c.Repo == "" {
			return invalid("owner and repo are required")
		}
	}
	return nil
}

// Challenge is what a project must publish or sign for a request.
type Challenge struct {
	Value            string
	DNSHostLabel     string
	GitHubPath       string
	SignatureMessage string
	Timestamp        string
}

// Challenge returns the strings to publish for the request. The signature
// message embeds the current time, which must be submitted back unchanged
// as the claim's timestamp.
func (s *Service) Challenge(ctx context.Context, requestID id.RequestID) (*Challenge, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	token, err := s.loadToken(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	stamp := requestcontext.Now(ctx).UTC().Format(time.RFC3339)
	return &Challenge{
		Value:            proofs.FormatChallenge(req.ID.String(), req.Nonce),
		DNSHostLabel:     proofs.DNSHostLabel,
		GitHubPath:       proofs.GitHubWellKnownPath,
		SignatureMessage: proofs.SignatureMessage(token.ChainID, token.ContractAddress, req.ID.String(), req.Nonce, stamp),
		Timestamp:        stamp,
	}, nil
}

// RejectVerification closes a pre-approval request.
func (s *Service) RejectVerification(ctx context.Context, requestID id.RequestID, notes string) (*models.Request, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := req.Reject(notes, requestcontext.Now(ctx)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "cannot reject verification request")
	}
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification request")
	}

	s.logAudit(ctx, audit.Event{
		Action:    audit.EventVerificationRejected,
		TokenID:   req.TokenID.String(),
		RequestID: req.ID.String(),
		Decision:  string(req.Status),
		Reason:    notes,
	})
	return req, nil
}

// RevokeVerification withdraws an approval and revokes the token's live
// attestation. Revoking an already revoked request is a no-op. Failures are
// returned so trust state never silently diverges.
func (s *Service) RevokeVerification(ctx context.Context, requestID id.RequestID, reason string) (*models.Request, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == models.RequestStatusRevoked {
		return req, nil
	}
	if !req.Status.CanTransitionTo(models.RequestStatusRevoked) {
		return nil, dErrors.New(dErrors.CodeInvalidState, "only approved requests can be revoked")
	}

	if _, err := s.attestations.RevokeLatest(ctx, req.TokenID, reason); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke attestation")
	}
	if err := req.Revoke(reason, requestcontext.Now(ctx)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "cannot revoke verification request")
	}
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification request")
	}

	s.logAudit(ctx, audit.Event{
		Action:    audit.EventVerificationRevoked,
		TokenID:   req.TokenID.String(),
		RequestID: req.ID.String(),
		Decision:  string(req.Status),
		Reason:    reason,
	})
	return req, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	"tokenverif/internal/verification/tier"
	id "tokenverif/pkg/domain"
	dErrors "tokenverif/pkg/domain-errors"
	"tokenverif/pkg/requestcontext"
)

var tracer = otel.Tracer("tokenverif/internal/verification/service")

// ProofResult is the outcome of one proof in a check pass.
type ProofResult struct {
	Type      models.ProofType
	Status    models.ProofStatus
	TierHint  models.TierHint
	Reason    string
	CheckedAt *time.Time
}

// CheckResult is the tier and per-proof outcome of a check pass.
type CheckResult struct {
	RequestID id.RequestID
	TokenID   id.TokenID
	Tier      models.Tier
	Proofs    []ProofResult
	proofSet  []models.Proof
}

// RunChecks re-checks every proof of the request in parallel, persists each
// outcome and computes the tier from the updated set. One proof failing,
// timing out or panicking never prevents its siblings from being recorded.
// Rejected and revoked requests are closed and cannot be checked.
func (s *Service) RunChecks(ctx context.Context, requestID id.RequestID) (*CheckResult, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == models.RequestStatusRejected || req.Status == models.RequestStatusRevoked {
		return nil, dErrors.New(dErrors.CodeInvalidState, "verification request is "+string(req.Status))
	}
	token, err := s.loadToken(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.ListProofs(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proofs")
	}

	target := proofs.Target{
		RequestID:       req.ID,
		Nonce:           req.Nonce,
		ChainID:         token.ChainID,
		ContractAddress: token.ContractAddress,
	}

	var g errgroup.Group
	for i := range current {
		proof := &current[i]
		g.Go(func() error {
			s.checkProof(ctx, target, proof)
			if err := s.store.SaveProof(ctx, proof); err != nil {
				return fmt.Errorf("save %s proof: %w", proof.Type, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record proof results")
	}

	updated, err := s.store.ListProofs(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload proofs")
	}
	return newCheckResult(req, updated), nil
}

func newCheckResult(req *models.Request, set []models.Proof) *CheckResult {
	result := &CheckResult{
		RequestID: req.ID,
		TokenID:   req.TokenID,
		Tier:      tier.Calculate(set),
		Proofs:    make([]ProofResult, 0, len(set)),
		proofSet:  set,
	}
	for _, p := range set {
		result.Proofs = append(result.Proofs, ProofResult{
			Type:      p.Type,
			Status:    p.Status,
			TierHint:  p.Evidence.TierHint,
			Reason:    p.FailureReason,
			CheckedAt: p.CheckedAt,
		})
	}
	return result
}

// checkProof runs one verifier and records its verdict on proof.
func (s *Service) checkProof(ctx context.Context, target proofs.Target, proof *models.Proof) {
	ctx, span := tracer.Start(ctx, "proof.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("proof.type", string(proof.Type)),
		attribute.String("verification.request_id", target.RequestID.String()),
	)

	start := time.Now()
	status, outcome := s.verify(ctx, target, proof)
	elapsed := time.Since(start)

	proof.RecordCheck(status, outcome.Evidence, outcome.Reason, requestcontext.Now(ctx))
	span.SetAttributes(attribute.String("proof.status", string(status)))
	if status != models.ProofStatusValid {
		span.SetStatus(codes.Error, outcome.Reason)
	}
	s.metrics.ObserveProofCheck(string(proof.Type), string(status), elapsed)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "proof checked",
			"verification_request_id", target.RequestID.String(),
			"proof_type", string(proof.Type),
			"status", string(status),
			"reason", outcome.Reason,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}

func (s *Service) verify(ctx context.Context, target proofs.Target, proof *models.Proof) (status models.ProofStatus, outcome proofs.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			status = models.ProofStatusInvalid
			outcome = proofs.Invalid(fmt.Sprintf("verifier panicked: %v", r), nil)
		}
	}()

	verifier, err := s.verifiers.Get(proof.Type)
	if err != nil {
		return models.ProofStatusInvalid, proofs.Invalid(err.Error(), nil)
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.proofTimeout)
	defer cancel()

	outcome, err = verifier.Verify(checkCtx, target, proof.Claim)
	switch {
	case err == nil && outcome.Valid:
		return models.ProofStatusValid, outcome
	case err == nil:
		return models.ProofStatusInvalid, outcome
	case proofs.IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
		return models.ProofStatusError, proofs.Invalid(err.Error(), outcome.Evidence.Details)
	default:
		return models.ProofStatusInvalid, proofs.Invalid(err.Error(), outcome.Evidence.Details)
	}
}

package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	amodels "tokenverif/internal/attestation/models"
	attsvc "tokenverif/internal/attestation/service"
	"tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
	dErrors "tokenverif/pkg/domain-errors"
	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/requestcontext"
)

// CompletionResult is the outcome of CompleteVerification. Reason explains
// what blocks approval when Approved is false.
type CompletionResult struct {
	Approved    bool
	Status      models.RequestStatus
	Tier        models.Tier
	Attestation *amodels.Attestation
	Reason      string
	Proofs      []ProofResult
}

// CompleteVerification checks the request's proofs and approves it when the
// tier allows, minting a new attestation version. An already approved
// request whose attestation is still live is returned as is, without
// re-checking or minting.
func (s *Service) CompleteVerification(ctx context.Context, requestID id.RequestID) (*CompletionResult, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case models.RequestStatusApproved:
		return s.alreadyApproved(ctx, req)
	case models.RequestStatusRejected, models.RequestStatusRevoked:
		return nil, dErrors.New(dErrors.CodeInvalidState, "verification request is "+string(req.Status))
	}

	checks, err := s.RunChecks(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	if !checks.Tier.IsApproved() {
		return s.notApproved(ctx, req, checks)
	}

	token, err := s.loadToken(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, token.ProjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "project not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load project")
	}

	// Mint before persisting the approval so an approved request always has
	// an attestation.
	att, err := s.attestations.CreateAttestation(ctx, attsvc.CreateInput{
		Token:     token,
		Project:   project,
		RequestID: req.ID,
		Tier:      checks.Tier,
		Proofs:    checks.proofSet,
	})
	if err != nil {
		return nil, err
	}
	if err := req.Approve(now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "cannot approve verification request")
	}
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification request")
	}
	// A fresh approval starts re-verification from a clean slate.
	if err := s.store.UpdateTokenReverifyState(ctx, req.TokenID, models.ReverifyStatusOK, 0); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset re-verification state")
	}

	s.logAudit(ctx, audit.Event{
		Action:    audit.EventVerificationApproved,
		TokenID:   req.TokenID.String(),
		RequestID: req.ID.String(),
		Subject:   att.ID.String(),
		Decision:  string(checks.Tier),
	})
	return &CompletionResult{
		Approved:    true,
		Status:      req.Status,
		Tier:        checks.Tier,
		Attestation: att,
		Proofs:      checks.Proofs,
	}, nil
}

func (s *Service) alreadyApproved(ctx context.Context, req *models.Request) (*CompletionResult, error) {
	live, err := s.attestations.GetLive(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	if live == nil || live.RequestID != req.ID {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request was approved but its attestation is no longer live; open a new request")
	}
	return &CompletionResult{
		Approved:    true,
		Status:      req.Status,
		Tier:        live.Tier,
		Attestation: live,
	}, nil
}

func (s *Service) notApproved(ctx context.Context, req *models.Request, checks *CheckResult) (*CompletionResult, error) {
	now := requestcontext.Now(ctx)
	reason, anyInvalid := blockingReason(checks.proofSet)

	var err error
	if anyInvalid {
		err = req.MarkNeedsAction(now)
	} else {
		err = req.MarkPending(now)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "cannot update verification request")
	}
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification request")
	}

	s.logAudit(ctx, audit.Event{
		Action:    audit.EventVerificationPending,
		TokenID:   req.TokenID.String(),
		RequestID: req.ID.String(),
		Decision:  string(req.Status),
		Reason:    reason,
	})
	return &CompletionResult{
		Approved: false,
		Status:   req.Status,
		Tier:     checks.Tier,
		Reason:   reason,
		Proofs:   checks.Proofs,
	}, nil
}

// blockingReason describes missing, invalid and unreachable proofs.
func blockingReason(set []models.Proof) (string, bool) {
	byType := make(map[models.ProofType]models.Proof, len(set))
	for _, p := range set {
		byType[p.Type] = p
	}

	var missing, invalid, unavailable, pending []string
	for _, t := range models.AllProofTypes {
		p, ok := byType[t]
		switch {
		case !ok:
			missing = append(missing, string(t))
		case p.Status == models.ProofStatusInvalid:
			invalid = append(invalid, string(t)+" ("+p.FailureReason+")")
		case p.Status == models.ProofStatusError:
			unavailable = append(unavailable, string(t)+" ("+p.FailureReason+")")
		case p.Status == models.ProofStatusPending:
			pending = append(pending, string(t))
		}
	}

	var parts []string
	add := func(label string, items []string) {
		if len(items) > 0 {
			sort.Strings(items)
			parts = append(parts, label+": "+strings.Join(items, ", "))
		}
	}
	add("invalid", invalid)
	add("check failed, retry later", unavailable)
	add("not yet checked", pending)
	add("missing", missing)
	if len(parts) == 0 {
		parts = append(parts, "proofs do not reach an approved tier")
	}
	return strings.Join(parts, "; "), len(invalid) > 0
}

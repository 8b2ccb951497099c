package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tokenverif/internal/attestation/keys"
	amodels "tokenverif/internal/attestation/models"
	attsvc "tokenverif/internal/attestation/service"
	rmodels "tokenverif/internal/reverification/models"
	"tokenverif/internal/reverification/service"
	"tokenverif/internal/store/memory"
	vmodels "tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	vsvc "tokenverif/internal/verification/service"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/requestcontext"
)

// switchVerifier passes or fails every proof of its type depending on a flag
// the test flips between runs.
type switchVerifier struct {
	proofType vmodels.ProofType
	hint      vmodels.TierHint
	failing   atomic.Bool
}

func (v *switchVerifier) Type() vmodels.ProofType { return v.proofType }

func (v *switchVerifier) Verify(context.Context, proofs.Target, json.RawMessage) (proofs.Outcome, error) {
	if v.failing.Load() {
		return proofs.Invalid(string(v.proofType)+" proof no longer published", nil), nil
	}
	return proofs.Valid(v.hint, nil), nil
}

// LifecycleSuite runs the scheduler against the real orchestrator and
// attestation service over the in-memory store.
type LifecycleSuite struct {
	suite.Suite
	store        *memory.Store
	attestations *attsvc.Service
	verification *vsvc.Service
	scheduler    *service.Service
	offchain     []*switchVerifier
	token        *vmodels.Token
	start        time.Time
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.store = memory.New()
	s.attestations = attsvc.New(s.store, keys.New(s.store))

	sig := &switchVerifier{proofType: vmodels.ProofTypeSignature, hint: vmodels.TierHintOwner}
	dns := &switchVerifier{proofType: vmodels.ProofTypeDNS}
	github := &switchVerifier{proofType: vmodels.ProofTypeGitHub}
	s.offchain = []*switchVerifier{dns, github}
	registry, err := proofs.NewRegistry(sig, dns, github)
	s.Require().NoError(err)

	s.verification = vsvc.New(s.store, registry, s.attestations)
	s.scheduler = service.New(s.store, s.verification, service.Config{
		MaxProofAge: maxProofAge,
		MaxFailures: maxFailures,
		BatchSize:   10,
		RetryDelay:  retryDelay,
	})

	s.start = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	ctx := s.at(s.start)
	project := &vmodels.Project{ID: id.NewProjectID(), DisplayName: "Example"}
	s.Require().NoError(s.store.CreateProject(ctx, project))
	s.token = &vmodels.Token{
		ID:              id.NewTokenID(),
		ProjectID:       project.ID,
		ChainID:         1,
		ContractAddress: "0xdac17f958d2ee523a2206206994597c13d831ec7",
		Symbol:          "TKN",
		Name:            "Token",
	}
	s.Require().NoError(s.store.CreateToken(ctx, s.token))
}

func (s *LifecycleSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *LifecycleSuite) setOffchainFailing(failing bool) {
	for _, v := range s.offchain {
		v.failing.Store(failing)
	}
}

// approve opens a request, submits every proof and completes it at t.
func (s *LifecycleSuite) approve(t time.Time) (*vmodels.Request, *amodels.Attestation) {
	ctx := s.at(t)
	req, err := s.verification.OpenRequest(ctx, s.token.ID)
	s.Require().NoError(err)
	claims := map[vmodels.ProofType]string{
		vmodels.ProofTypeSignature: `{"signature":"0xabc","timestamp":"2026-06-01T00:00:00Z"}`,
		vmodels.ProofTypeDNS:       `{"domain":"example.com"}`,
		vmodels.ProofTypeGitHub:    `{"owner":"example","repo":"token"}`,
	}
	for _, proofType := range vmodels.AllProofTypes {
		_, err := s.verification.SubmitProof(ctx, req.ID, proofType, json.RawMessage(claims[proofType]))
		s.Require().NoError(err)
	}

	result, err := s.verification.CompleteVerification(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().True(result.Approved, result.Reason)
	return req, result.Attestation
}

// process schedules and processes due jobs at t.
func (s *LifecycleSuite) process(t time.Time) *service.BatchResult {
	ctx := s.at(t)
	_, err := s.scheduler.ScheduleJobs(ctx)
	s.Require().NoError(err)
	result, err := s.scheduler.ProcessJobs(ctx)
	s.Require().NoError(err)
	return result
}

func (s *LifecycleSuite) currentToken() *vmodels.Token {
	token, err := s.store.GetToken(context.Background(), s.token.ID)
	s.Require().NoError(err)
	return token
}

func (s *LifecycleSuite) TestConsecutiveFailuresRevokeRequestAndAttestation() {
	req, att := s.approve(s.start)
	s.Equal(1, att.Version)

	s.setOffchainFailing(true)
	clock := s.start.Add(maxProofAge + time.Hour)
	for i := 1; i < maxFailures; i++ {
		result := s.process(clock)
		s.Equal(1, result.Outcomes[service.OutcomeGracePeriod])
		s.Equal(i, s.currentToken().ConsecutiveFailures)

		stored, err := s.store.GetRequest(context.Background(), req.ID)
		s.Require().NoError(err)
		s.Equal(vmodels.RequestStatusApproved, stored.Status, "grace keeps the approval")
		clock = clock.Add(retryDelay)
	}

	result := s.process(clock)
	s.Equal(1, result.Outcomes[service.OutcomeRevoked])

	stored, err := s.store.GetRequest(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(vmodels.RequestStatusRevoked, stored.Status)
	s.True(strings.HasPrefix(stored.RevocationReason, amodels.AutoRevocationPrefix), stored.RevocationReason)

	live, err := s.attestations.GetLive(context.Background(), s.token.ID)
	s.Require().NoError(err)
	s.Nil(live)
	history, err := s.attestations.History(context.Background(), s.token.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.True(history[0].IsRevoked())
	s.True(strings.HasPrefix(history[0].RevokedReason, amodels.AutoRevocationPrefix))

	token := s.currentToken()
	s.Equal(vmodels.ReverifyStatusRevoked, token.ReverifyStatus)
	s.Equal(maxFailures, token.ConsecutiveFailures)

	jobs, err := s.store.ListJobs(context.Background(), s.token.ID)
	s.Require().NoError(err)
	s.Require().Len(jobs, maxFailures)
	s.Equal(rmodels.JobStatusFailed, jobs[len(jobs)-1].Status)
}

func (s *LifecycleSuite) TestReapprovalStartsANewFailureStreak() {
	s.approve(s.start)
	s.setOffchainFailing(true)
	clock := s.start.Add(maxProofAge + time.Hour)
	for range maxFailures {
		s.process(clock)
		clock = clock.Add(retryDelay)
	}
	s.Require().Equal(vmodels.ReverifyStatusRevoked, s.currentToken().ReverifyStatus)

	s.setOffchainFailing(false)
	reapprovedAt := clock
	req, att := s.approve(reapprovedAt)
	s.Equal(2, att.Version)

	token := s.currentToken()
	s.Equal(vmodels.ReverifyStatusOK, token.ReverifyStatus)
	s.Zero(token.ConsecutiveFailures)

	s.setOffchainFailing(true)
	result := s.process(reapprovedAt.Add(maxProofAge + time.Hour))
	s.Equal(1, result.Outcomes[service.OutcomeGracePeriod])
	s.Zero(result.Outcomes[service.OutcomeRevoked])

	token = s.currentToken()
	s.Equal(vmodels.ReverifyStatusGrace, token.ReverifyStatus)
	s.Equal(1, token.ConsecutiveFailures)

	stored, err := s.store.GetRequest(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(vmodels.RequestStatusApproved, stored.Status)
	live, err := s.attestations.GetLive(context.Background(), s.token.ID)
	s.Require().NoError(err)
	s.Require().NotNil(live)
	s.Equal(att.ID, live.ID)
}

//go:build integration

package postgres_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tokenverif/internal/attestation/keys"
	amodels "tokenverif/internal/attestation/models"
	attsvc "tokenverif/internal/attestation/service"
	rmodels "tokenverif/internal/reverification/models"
	rsvc "tokenverif/internal/reverification/service"
	"tokenverif/internal/store/postgres"
	vmodels "tokenverif/internal/verification/models"
	vsvc "tokenverif/internal/verification/service"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/testutil/containers"
)

var (
	_ keys.Store   = (*postgres.Store)(nil)
	_ attsvc.Store = (*postgres.Store)(nil)
	_ vsvc.Store   = (*postgres.Store)(nil)
	_ rsvc.Store   = (*postgres.Store)(nil)
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
	// A second run is a no-op.
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	_ = s.postgres.DB.Close()
	_ = s.postgres.Container.Terminate(context.Background())
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.Truncate(context.Background(),
		"reverification_jobs", "attestations", "signing_keys", "proofs",
		"verification_requests", "tokens", "projects")
	s.Require().NoError(err)
	s.now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) seedToken(chainID int64) *vmodels.Token {
	ctx := context.Background()
	project := &vmodels.Project{ID: id.NewProjectID(), DisplayName: "Example", WebsiteURL: "https://example.org"}
	s.Require().NoError(s.store.CreateProject(ctx, project))
	decimals := 6
	token := &vmodels.Token{
		ID:              id.NewTokenID(),
		ProjectID:       project.ID,
		ChainID:         chainID,
		ContractAddress: "0xdac17f958d2ee523a2206206994597c13d831ec7",
		Symbol:          "USDT",
		Name:            "Tether USD",
		Decimals:        &decimals,
		CreatedAt:       s.now,
	}
	s.Require().NoError(s.store.CreateToken(ctx, token))
	return token
}

func (s *PostgresStoreSuite) seedApproved(token *vmodels.Token, reviewedAt time.Time) *vmodels.Request {
	ctx := context.Background()
	req := &vmodels.Request{
		ID:        id.NewRequestID(),
		TokenID:   token.ID,
		Nonce:     "00112233445566778899aabbccddeeff",
		Status:    vmodels.RequestStatusPending,
		CreatedAt: reviewedAt,
		UpdatedAt: reviewedAt,
	}
	s.Require().NoError(s.store.CreateRequest(ctx, req))
	s.Require().NoError(req.Approve(reviewedAt))
	s.Require().NoError(s.store.UpdateRequest(ctx, req))
	return req
}

func newKey(now time.Time) *amodels.SigningKey {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return &amodels.SigningKey{
		ID:         id.NewSigningKeyID(),
		Algorithm:  amodels.AlgorithmEd25519,
		PublicKey:  public,
		PrivateKey: private,
		CreatedAt:  now,
	}
}

func (s *PostgresStoreSuite) TestTokens() {
	ctx := context.Background()
	token := s.seedToken(1)

	got, err := s.store.FindTokenByAddress(ctx, 1, token.ContractAddress)
	s.Require().NoError(err)
	s.Equal(token.ID, got.ID)
	s.Require().NotNil(got.Decimals)
	s.Equal(6, *got.Decimals)

	dup := *token
	dup.ID = id.NewTokenID()
	s.ErrorIs(s.store.CreateToken(ctx, &dup), sentinel.ErrConflict)

	orphan := *token
	orphan.ID = id.NewTokenID()
	orphan.ChainID = 10
	orphan.ProjectID = id.NewProjectID()
	s.ErrorIs(s.store.CreateToken(ctx, &orphan), sentinel.ErrNotFound)

	s.Require().NoError(s.store.UpdateTokenReverifyState(ctx, token.ID, vmodels.ReverifyStatusGrace, 1))
	got, err = s.store.GetToken(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(vmodels.ReverifyStatusGrace, got.ReverifyStatus)
	s.Equal(1, got.ConsecutiveFailures)

	_, err = s.store.GetToken(ctx, id.NewTokenID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRequestsAndProofs() {
	ctx := context.Background()
	token := s.seedToken(1)
	req := &vmodels.Request{ID: id.NewRequestID(), TokenID: token.ID, Nonce: "n", Status: vmodels.RequestStatusPending, CreatedAt: s.now, UpdatedAt: s.now}
	s.Require().NoError(s.store.CreateRequest(ctx, req))

	second := *req
	second.ID = id.NewRequestID()
	s.ErrorIs(s.store.CreateRequest(ctx, &second), sentinel.ErrConflict)

	dns := &vmodels.Proof{
		ID: id.NewProofID(), RequestID: req.ID, Type: vmodels.ProofTypeDNS, Status: vmodels.ProofStatusPending,
		Claim: json.RawMessage(`{"domain":"example.org"}`), CreatedAt: s.now, UpdatedAt: s.now,
	}
	sig := &vmodels.Proof{
		ID: id.NewProofID(), RequestID: req.ID, Type: vmodels.ProofTypeSignature, Status: vmodels.ProofStatusPending,
		Claim: json.RawMessage(`{"signature":"0x01","timestamp":"t"}`), CreatedAt: s.now, UpdatedAt: s.now,
	}
	s.Require().NoError(s.store.SaveProof(ctx, dns))
	s.Require().NoError(s.store.SaveProof(ctx, sig))

	checked := *dns
	checked.ID = id.NewProofID()
	checked.RecordCheck(vmodels.ProofStatusValid, vmodels.Evidence{Details: map[string]string{"record": "tokenverif:v1"}}, "", s.now.Add(time.Minute))
	s.Require().NoError(s.store.SaveProof(ctx, &checked))

	proofs, err := s.store.ListProofs(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(proofs, 2)
	s.Equal(vmodels.ProofTypeSignature, proofs[0].Type)
	s.Equal(vmodels.ProofTypeDNS, proofs[1].Type)
	s.Equal(dns.ID, proofs[1].ID)
	s.Equal(vmodels.ProofStatusValid, proofs[1].Status)
	s.Equal("tokenverif:v1", proofs[1].Evidence.Details["record"])
	s.JSONEq(`{"domain":"example.org"}`, string(proofs[1].Claim))

	s.Require().NoError(req.Approve(s.now))
	s.Require().NoError(s.store.UpdateRequest(ctx, req))
	approved, err := s.store.FindApprovedRequest(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(req.ID, approved.ID)
	s.Require().NotNil(approved.ReviewedAt)
	s.True(s.now.Equal(*approved.ReviewedAt))
}

func (s *PostgresStoreSuite) TestSingleActiveSigningKey() {
	ctx := context.Background()
	const goroutines = 20

	var (
		wg        sync.WaitGroup
		created   atomic.Int32
		conflicts atomic.Int32
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.CreateActiveSigningKey(ctx, newKey(s.now))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	active, err := s.store.GetActiveSigningKey(ctx)
	s.Require().NoError(err)
	s.True(active.HasValidMaterial())

	next := newKey(s.now.Add(time.Hour))
	s.Require().NoError(s.store.RotateSigningKey(ctx, active.ID, next, s.now.Add(time.Hour)))
	retired, err := s.store.GetSigningKey(ctx, active.ID)
	s.Require().NoError(err)
	s.False(retired.Active)
	s.NotNil(retired.RetiredAt)

	s.ErrorIs(s.store.RotateSigningKey(ctx, active.ID, newKey(s.now), s.now), sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestAttestationVersions() {
	ctx := context.Background()
	token := s.seedToken(1)
	req := s.seedApproved(token, s.now)
	key := newKey(s.now)
	s.Require().NoError(s.store.CreateActiveSigningKey(ctx, key))

	build := func(issuedAt time.Time) func(int) (*amodels.Attestation, error) {
		return func(version int) (*amodels.Attestation, error) {
			return &amodels.Attestation{
				ID: id.NewAttestationID(), TokenID: token.ID, RequestID: req.ID, Version: version,
				Tier: vmodels.TierVerified, Payload: []byte(`{}`), Signature: "sig", SigningKeyID: key.ID, IssuedAt: issuedAt,
			}, nil
		}
	}

	first, superseded, err := s.store.IssueAttestation(ctx, token.ID, build(s.now))
	s.Require().NoError(err)
	s.Nil(superseded)
	s.Equal(1, first.Version)

	second, superseded, err := s.store.IssueAttestation(ctx, token.ID, build(s.now.Add(time.Hour)))
	s.Require().NoError(err)
	s.Equal(2, second.Version)
	s.Require().NotNil(superseded)
	s.Equal(first.ID, superseded.ID)
	s.Equal(amodels.SupersededReason(2), superseded.RevokedReason)

	live, err := s.store.GetLiveAttestation(ctx, token.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, live.ID)

	revoked, err := s.store.RevokeAttestation(ctx, second.ID, "manual", s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal("manual", revoked.RevokedReason)
	again, err := s.store.RevokeAttestation(ctx, second.ID, "other", s.now.Add(3*time.Hour))
	s.Require().NoError(err)
	s.Equal("manual", again.RevokedReason)
	s.True(revoked.RevokedAt.Equal(*again.RevokedAt))

	_, err = s.store.GetLiveAttestation(ctx, token.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	history, err := s.store.ListAttestations(ctx, token.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(1, history[0].Version)
	s.Equal(2, history[1].Version)
}

func (s *PostgresStoreSuite) TestJobs() {
	ctx := context.Background()
	token := s.seedToken(1)
	s.seedApproved(token, s.now.Add(-40*24*time.Hour))

	candidates, err := s.store.ListCandidates(ctx)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.False(candidates[0].HasOpenJob)
	s.Nil(candidates[0].LastPassedAt)

	job := rmodels.NewJob(token.ID, s.now, s.now)
	s.Require().NoError(s.store.CreateJob(ctx, job))
	s.ErrorIs(s.store.CreateJob(ctx, rmodels.NewJob(token.ID, s.now, s.now)), sentinel.ErrConflict)

	none, err := s.store.ClaimDueJobs(ctx, s.now.Add(-time.Minute), 10)
	s.Require().NoError(err)
	s.Empty(none)

	claimed, err := s.store.ClaimDueJobs(ctx, s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(rmodels.JobStatusInProgress, claimed[0].Status)

	again, err := s.store.ClaimDueJobs(ctx, s.now, 10)
	s.Require().NoError(err)
	s.Empty(again)

	s.Require().NoError(claimed[0].Complete(rmodels.JobStatusPassed, 0, "tier VERIFIED", s.now))
	s.Require().NoError(s.store.UpdateJob(ctx, claimed[0]))

	candidates, err = s.store.ListCandidates(ctx)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.False(candidates[0].HasOpenJob)
	s.Require().NotNil(candidates[0].LastPassedAt)
	s.True(s.now.Equal(*candidates[0].LastPassedAt))

	jobs, err := s.store.ListJobs(ctx, token.ID)
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal(rmodels.JobStatusPassed, jobs[0].Status)
}

func (s *PostgresStoreSuite) TestConcurrentClaimsNeverShareAJob() {
	ctx := context.Background()
	for i := range 20 {
		token := s.seedToken(int64(i + 1))
		s.Require().NoError(s.store.CreateJob(ctx, rmodels.NewJob(token.ID, s.now, s.now)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[id.JobID]int)
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := s.store.ClaimDueJobs(ctx, s.now, 5)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				seen[j.ID]++
			}
		}()
	}
	wg.Wait()

	s.Len(seen, 20)
	for jobID, n := range seen {
		s.Equal(1, n, "job %s claimed %d times", jobID, n)
	}
}

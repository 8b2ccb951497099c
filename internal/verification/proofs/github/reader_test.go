package github_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	"tokenverif/internal/verification/proofs/github"
	"tokenverif/internal/verification/proofs/github/mocks"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/retry"
)

type RepoReaderSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	repos    *mocks.MockRepoReader
	verifier *github.Verifier
	target   proofs.Target
	claim    json.RawMessage
}

func TestRepoReaderSuite(t *testing.T) {
	suite.Run(t, new(RepoReaderSuite))
}

func (s *RepoReaderSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.repos = mocks.NewMockRepoReader(s.ctrl)
	s.verifier = github.New(s.repos, github.WithRetryPolicy(retry.Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		AttemptTimeout:  time.Second,
	}))
	s.target = proofs.Target{RequestID: id.NewRequestID(), Nonce: "0123456789abcdef0123456789abcdef"}

	raw, err := json.Marshal(models.GitHubClaim{Owner: "acme", Repo: "token"})
	s.Require().NoError(err)
	s.claim = raw
}

func (s *RepoReaderSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RepoReaderSuite) TestReadsTheDefaultBranch() {
	s.repos.EXPECT().GetRepo(gomock.Any(), "acme", "token").
		Return(github.Repo{Visibility: "public", DefaultBranch: "trunk"}, nil)
	s.repos.EXPECT().GetFile(gomock.Any(), "acme", "token", proofs.GitHubWellKnownPath, "trunk").
		Return(s.target.ExpectedChallenge()+"\n", nil)

	out, err := s.verifier.Verify(context.Background(), s.target, s.claim)
	s.Require().NoError(err)
	s.True(out.Valid)
	s.Equal("trunk", out.Evidence.Details["ref"])
}

func (s *RepoReaderSuite) TestTransientFileErrorsDoNotTryTheAlternateBranch() {
	unavailable := proofs.NewProofError(proofs.ErrorUnavailable, models.ProofTypeGitHub, "github returned 502", nil)
	s.repos.EXPECT().GetRepo(gomock.Any(), "acme", "token").
		Return(github.Repo{Visibility: "public", DefaultBranch: "main"}, nil)
	s.repos.EXPECT().GetFile(gomock.Any(), "acme", "token", proofs.GitHubWellKnownPath, "main").
		Return("", unavailable).Times(2)

	_, err := s.verifier.Verify(context.Background(), s.target, s.claim)
	s.Require().Error(err)
	s.True(proofs.IsTransient(err))
}

func (s *RepoReaderSuite) TestMissingOnBothBranches() {
	s.repos.EXPECT().GetRepo(gomock.Any(), "acme", "token").
		Return(github.Repo{Visibility: "public", DefaultBranch: "main"}, nil)
	gomock.InOrder(
		s.repos.EXPECT().GetFile(gomock.Any(), "acme", "token", proofs.GitHubWellKnownPath, "main").Return("", github.ErrNotFound),
		s.repos.EXPECT().GetFile(gomock.Any(), "acme", "token", proofs.GitHubWellKnownPath, "master").Return("", github.ErrNotFound),
	)

	out, err := s.verifier.Verify(context.Background(), s.target, s.claim)
	s.Require().NoError(err)
	s.False(out.Valid)
	s.Contains(out.Reason, "not found")
}

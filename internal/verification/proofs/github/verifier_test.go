package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/suite"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/retry"
)

const (
	baseURL  = "https://api.github.test"
	repoURL  = baseURL + "/repos/acme/token"
	fileURL  = repoURL + "/contents/.well-known/tokenverif.txt"
	fastWait = time.Millisecond
)

type VerifierSuite struct {
	suite.Suite
	verifier *Verifier
	target   proofs.Target
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func (s *VerifierSuite) SetupTest() {
	rc := NewRestClient(baseURL, "test-token", time.Second)
	httpmock.ActivateNonDefault(rc.GetClient())
	s.verifier = New(NewClient(rc), WithRetryPolicy(retry.Policy{
		MaxAttempts:     3,
		InitialInterval: fastWait,
		MaxInterval:     fastWait,
		AttemptTimeout:  time.Second,
	}))
	s.target = proofs.Target{RequestID: id.NewRequestID(), Nonce: "deadbeefdeadbeefdeadbeefdeadbeef"}
}

func (s *VerifierSuite) TearDownTest() {
	httpmock.DeactivateAndReset()
}

func (s *VerifierSuite) claim() json.RawMessage {
	raw, err := json.Marshal(models.GitHubClaim{Owner: "acme", Repo: "token"})
	s.Require().NoError(err)
	return raw
}

func (s *VerifierSuite) repo(private bool, branch string) {
	resp, err := httpmock.NewJsonResponder(http.StatusOK, map[string]any{
		"full_name":      "acme/token",
		"private":        private,
		"default_branch": branch,
	})
	s.Require().NoError(err)
	httpmock.RegisterResponder(http.MethodGet, repoURL, resp)
}

func (s *VerifierSuite) file(ref, content string) {
	resp, err := httpmock.NewJsonResponder(http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
	})
	s.Require().NoError(err)
	httpmock.RegisterResponderWithQuery(http.MethodGet, fileURL, "ref="+ref, resp)
}

func (s *VerifierSuite) missingFile(ref string) {
	httpmock.RegisterResponderWithQuery(http.MethodGet, fileURL, "ref="+ref,
		httpmock.NewStringResponder(http.StatusNotFound, `{"message":"Not Found"}`))
}

func (s *VerifierSuite) TestValidFileOnDefaultBranch() {
	s.repo(false, "develop")
	s.file("develop", "  "+s.target.ExpectedChallenge()+"\n")

	out, err := s.verifier.Verify(context.Background(), s.target, s.claim())
	s.Require().NoError(err)
	s.True(out.Valid)
	s.Equal("develop", out.Evidence.Details["ref"])
	s.Equal(2, httpmock.GetTotalCallCount(), "one repo lookup and one file read")
}

func (s *VerifierSuite) TestBranchFallback() {
	s.Run("main falls back to master", func() {
		s.repo(false, "main")
		s.missingFile("main")
		s.file("master", s.target.ExpectedChallenge())

		out, err := s.verifier.Verify(context.Background(), s.target, s.claim())
		s.Require().NoError(err)
		s.True(out.Valid)
		s.Equal("master", out.Evidence.Details["ref"])
	})

	s.Run("file missing on both branches", func() {
		httpmock.Reset()
		s.repo(false, "trunk")
		s.missingFile("trunk")
		s.missingFile("main")

		out, err := s.verifier.Verify(context.Background(), s.target, s.claim())
		s.Require().NoError(err)
		s.False(out.Valid)
		s.Contains(out.Reason, "not found")
		s.Contains(out.Reason, "trunk or main")
	})
}

func (s *VerifierSuite) TestContentMismatch() {
	s.repo(false, "main")
	s.file("main", "tokenverif:v1:someone-else:0000")

	out, err := s.verifier.Verify(context.Background(), s.target, s.claim())
	s.Require().NoError(err)
	s.False(out.Valid)
	s.Contains(out.Reason, "does not match")
}

func (s *VerifierSuite) TestPrivateOrMissingRepoShortCircuits() {
	s.Run("private", func() {
		s.repo(true, "main")

		out, err := s.verifier.Verify(context.Background(), s.target, s.claim())
		s.Require().NoError(err)
		s.False(out.Valid)
		s.Contains(out.Reason, "private")
		s.Equal(1, httpmock.GetTotalCallCount(), "no file read for a private repo")
	})

	s.Run("missing", func() {
		httpmock.Reset()
		httpmock.RegisterResponder(http.MethodGet, repoURL,
			httpmock.NewStringResponder(http.StatusNotFound, `{"message":"Not Found"}`))

		out, err := s.verifier.Verify(context.Background(), s.target, s.claim())
		s.Require().NoError(err)
		s.False(out.Valid)
		s.Contains(out.Reason, "does not exist")
		s.Equal(1, httpmock.GetTotalCallCount(), "not-found is not retried")
	})
}

func (s *VerifierSuite) TestServerErrorsAreRetriedThenTransient() {
	httpmock.RegisterResponder(http.MethodGet, repoURL,
		httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway"))

	_, err := s.verifier.Verify(context.Background(), s.target, s.claim())
	s.Require().Error(err)
	s.True(proofs.IsTransient(err))
	s.Equal(proofs.ErrorUnavailable, proofs.GetCategory(err))
	s.Equal(3, httpmock.GetTotalCallCount())
}

func (s *VerifierSuite) TestRateLimit() {
	httpmock.RegisterResponder(http.MethodGet, repoURL, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusForbidden, `{"message":"API rate limit exceeded"}`)
		resp.Header.Set("X-RateLimit-Remaining", "0")
		return resp, nil
	})

	_, err := s.verifier.Verify(context.Background(), s.target, s.claim())
	s.Require().Error(err)
	s.Equal(proofs.ErrorRateLimited, proofs.GetCategory(err))
}

func (s *VerifierSuite) TestInvalidClaims() {
	for _, raw := range []string{`{`, `{"owner":"acme"}`, `{"owner":"ac me","repo":"x"}`, `{"owner":"acme","repo":"../etc"}`} {
		out, err := s.verifier.Verify(context.Background(), s.target, json.RawMessage(raw))
		s.Require().NoError(err)
		s.False(out.Valid, raw)
	}
	s.Zero(httpmock.GetTotalCallCount())
}

func TestRepoIsPublic(t *testing.T) {
	cases := []struct {
		repo Repo
		want bool
	}{
		{Repo{Private: false}, true},
		{Repo{Private: true}, false},
		{Repo{Visibility: "internal"}, false},
		{Repo{Visibility: "public"}, true},
	}
	for _, c := range cases {
		if got := c.repo.IsPublic(); got != c.want {
			t.Errorf("IsPublic(%+v) = %v, want %v", c.repo, got, c.want)
		}
	}
}

package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
)

// ErrNotFound is returned for a missing repository, branch or file.
var ErrNotFound = errors.New("github resource not found")

// Repo is the subset of the repository resource the verifier reads.
type Repo struct {
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	Visibility    string `json:"visibility"`
	DefaultBranch string `json:"default_branch"`
}

// IsPublic reports whether anonymous readers can see the repository.
func (r Repo) IsPublic() bool {
	if r.Visibility != "" {
		return r.Visibility == "public"
	}
	return !r.Private
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Client reads repositories and files through the REST content API.
type Client struct {
	http *resty.Client
}

// NewRestClient builds the resty client with GitHub's media type and an
// optional token.
func NewRestClient(baseURL, token string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetHeader("User-Agent", "tokenverif")
	if token != "" {
		c.SetAuthToken(token)
	}
	return c
}

func NewClient(rc *resty.Client) *Client {
	return &Client{http: rc}
}

// GetRepo returns the repository or ErrNotFound.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (Repo, error) {
	var out Repo
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"owner": owner, "repo": repo}).
		SetResult(&out).
		Get("/repos/{owner}/{repo}")
	if err != nil {
		return Repo{}, proofs.NetworkError(models.ProofTypeGitHub, "get repository", err)
	}
	if err := handleError(resp); err != nil {
		return Repo{}, err
	}
	return out, nil
}

// GetFile returns the decoded content of path at ref or ErrNotFound.
func (c *Client) GetFile(ctx context.Context, owner, repo, path, ref string) (string, error) {
	var out contentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"owner": owner, "repo": repo}).
		SetQueryParam("ref", ref).
		SetResult(&out).
		Get("/repos/{owner}/{repo}/contents/" + path)
	if err != nil {
		return "", proofs.NetworkError(models.ProofTypeGitHub, "get file", err)
	}
	if err := handleError(resp); err != nil {
		return "", err
	}
	if out.Type != "" && out.Type != "file" {
		return "", ErrNotFound
	}
	if out.Encoding != "base64" {
		return out.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return "", proofs.NewProofError(proofs.ErrorInternal, models.ProofTypeGitHub, "decode file content", err)
	}
	return string(decoded), nil
}

// handleError maps a non-2xx response onto ErrNotFound or a ProofError.
func handleError(resp *resty.Response) error {
	status := resp.StatusCode()
	switch {
	case !resp.IsError():
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && resp.Header().Get("X-RateLimit-Remaining") == "0":
		return proofs.NewProofError(proofs.ErrorRateLimited, models.ProofTypeGitHub, "rate limited", fmt.Errorf("status %d", status))
	case status >= 500:
		return proofs.NewProofError(proofs.ErrorUnavailable, models.ProofTypeGitHub, "server error", fmt.Errorf("status %d", status))
	default:
		return proofs.NewProofError(proofs.ErrorInternal, models.ProofTypeGitHub, "unexpected response", fmt.Errorf("status %d: %s", status, truncate(resp.String(), 200)))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

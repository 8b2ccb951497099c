// Package github verifies repository control through a well-known file
// holding the request challenge.
package github

//go:generate mockgen -source=verifier.go -destination=mocks/mocks.go -package=mocks RepoReader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	"tokenverif/pkg/platform/retry"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

// RepoReader is the GitHub access the verifier needs. GetRepo and GetFile
// return ErrNotFound for missing or invisible repositories and files.
type RepoReader interface {
	GetRepo(ctx context.Context, owner, repo string) (Repo, error)
	GetFile(ctx context.Context, owner, repo, path, ref string) (string, error)
}

var _ RepoReader = (*Client)(nil)

type Verifier struct {
	client RepoReader
	policy retry.Policy
	logger *slog.Logger
}

type Option func(*Verifier)

func WithRetryPolicy(p retry.Policy) Option {
	return func(v *Verifier) {
		v.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func New(client RepoReader, opts ...Option) *Verifier {
	v := &Verifier{
		client: client,
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Type() models.ProofType {
	return models.ProofTypeGitHub
}

// Verify requires a public repository whose well-known file, trimmed, equals
// the expected challenge. The file is read from the default branch and, if
// absent there, once from the other common default branch name.
func (v *Verifier) Verify(ctx context.Context, target proofs.Target, raw json.RawMessage) (proofs.Outcome, error) {
	var claim models.GitHubClaim
	if err := models.DecodeClaim(raw, &claim); err != nil {
		return proofs.Invalid("github claim is unreadable: "+err.Error(), nil), nil
	}
	owner, name := strings.TrimSpace(claim.Owner), strings.TrimSpace(claim.Repo)
	if !namePattern.MatchString(owner) || !namePattern.MatchString(name) {
		return proofs.Invalid("github claim needs a valid owner and repo", nil), nil
	}
	slug := owner + "/" + name
	details := map[string]string{"repository": slug}

	var repo Repo
	err := retry.Do(ctx, v.policy, proofs.IsTransient, func(ctx context.Context) error {
		var callErr error
		repo, callErr = v.client.GetRepo(ctx, owner, name)
		return callErr
	})
	if errors.Is(err, ErrNotFound) {
		return proofs.Invalid("repository "+slug+" does not exist or is not visible", details), nil
	}
	if err != nil {
		return proofs.Outcome{}, err
	}
	if !repo.IsPublic() {
		return proofs.Invalid("repository "+slug+" is private", details), nil
	}

	ref := repo.DefaultBranch
	if ref == "" {
		ref = "main"
	}
	content, usedRef, err := v.fetchWithFallback(ctx, owner, name, ref)
	if errors.Is(err, ErrNotFound) {
		return proofs.Invalid(fmt.Sprintf("%s not found in %s on %s or %s",
			proofs.GitHubWellKnownPath, slug, ref, alternateBranch(ref)), details), nil
	}
	if err != nil {
		return proofs.Outcome{}, err
	}
	details["ref"] = usedRef

	if strings.TrimSpace(content) != target.ExpectedChallenge() {
		return proofs.Invalid(proofs.GitHubWellKnownPath+" in "+slug+" does not match the expected challenge", details), nil
	}
	return proofs.Valid(models.TierHintNone, details), nil
}

func (v *Verifier) fetchWithFallback(ctx context.Context, owner, name, ref string) (string, string, error) {
	content, err := v.fetch(ctx, owner, name, ref)
	if !errors.Is(err, ErrNotFound) {
		return content, ref, err
	}
	alt := alternateBranch(ref)
	if v.logger != nil {
		v.logger.DebugContext(ctx, "well-known file missing, trying alternate branch",
			"repository", owner+"/"+name,
			"ref", ref,
			"alternate", alt,
		)
	}
	content, err = v.fetch(ctx, owner, name, alt)
	return content, alt, err
}

func (v *Verifier) fetch(ctx context.Context, owner, name, ref string) (string, error) {
	var content string
	err := retry.Do(ctx, v.policy, proofs.IsTransient, func(ctx context.Context) error {
		var callErr error
		content, callErr = v.client.GetFile(ctx, owner, name, proofs.GitHubWellKnownPath, ref)
		return callErr
	})
	return content, err
}

func alternateBranch(ref string) string {
	if ref == "main" {
		return "master"
	}
	return "main"
}

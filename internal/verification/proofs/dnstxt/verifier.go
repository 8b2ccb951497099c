// Package dnstxt verifies domain control through a TXT record at
// token-verify.<domain> holding the request challenge.
package dnstxt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	"tokenverif/pkg/platform/retry"
)

type Verifier struct {
	resolver Resolver
	policy   retry.Policy
	logger   *slog.Logger
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

func New(resolver Resolver, opts ...Option) *Verifier {
	v := &Verifier{
		resolver: resolver,
		policy:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Type() models.ProofType {
	return models.ProofTypeDNS
}

// Verify looks for an exact, case-sensitive match of the expected challenge
// among the TXT records. Absent records are a negative verdict; any other
// resolver failure is retried and then returned as a transient error.
func (v *Verifier) Verify(ctx context.Context, target proofs.Target, raw json.RawMessage) (proofs.Outcome, error) {
	var claim models.DNSClaim
	if err := models.DecodeClaim(raw, &claim); err != nil {
		return proofs.Invalid("dns claim is unreadable: "+err.Error(), nil), nil
	}
	domain := strings.TrimSpace(claim.Domain)
	if domain == "" || strings.ContainsAny(domain, " /:@") {
		return proofs.Invalid("dns claim has no valid domain", nil), nil
	}

	host := proofs.DNSHost(domain)
	expected := target.ExpectedChallenge()

	var records []string
	err := retry.Do(ctx, v.policy, proofs.IsTransient, func(ctx context.Context) error {
		var lookupErr error
		records, lookupErr = v.resolver.LookupTXT(ctx, host)
		if lookupErr == nil || errors.Is(lookupErr, ErrNoRecords) {
			return lookupErr
		}
		return proofs.NetworkError(models.ProofTypeDNS, "TXT lookup for "+host, lookupErr)
	})

	details := map[string]string{"host": host}
	if errors.Is(err, ErrNoRecords) {
		return proofs.Invalid("no TXT records found at "+host, details), nil
	}
	if err != nil {
		if v.logger != nil {
			v.logger.WarnContext(ctx, "dns lookup failed after retries", "host", host, "error", err)
		}
		return proofs.Outcome{}, err
	}

	details["records"] = strconv.Itoa(len(records))
	for _, record := range records {
		if record == expected {
			return proofs.Valid(models.TierHintNone, details), nil
		}
	}
	return proofs.Invalid("no TXT record at "+host+" matches the expected challenge", details), nil
}

package proofs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	ChallengeScheme  = "tokenverif"
	ChallengeVersion = "v1"

	// DNSHostLabel is prepended to the claimed domain for the TXT lookup.
	DNSHostLabel = "token-verify"

	// GitHubWellKnownPath is the repository file holding the challenge.
	GitHubWellKnownPath = ".well-known/tokenverif.txt"

	nonceBytes = 16
)

var (
	requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	noncePattern     = regexp.MustCompile(`^[0-9a-f]+$`)
)

// Challenge is the decoded form of a published proof string.
type Challenge struct {
	RequestID string
	Nonce     string
}

// FormatChallenge builds tokenverif:v1:<requestId>:<nonce>.
func FormatChallenge(requestID, nonce string) string {
	return ChallengeScheme + ":" + ChallengeVersion + ":" + requestID + ":" + nonce
}

// ParseChallenge is the strict inverse of FormatChallenge. Prefix and
// version are case-sensitive and exactly four segments are required.
func ParseChallenge(s string) (Challenge, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Challenge{}, fmt.Errorf("%w: expected 4 segments, got %d", ErrMalformedChallenge, len(parts))
	}
	if parts[0] != ChallengeScheme {
		return Challenge{}, fmt.Errorf("%w: unknown scheme %q", ErrMalformedChallenge, parts[0])
	}
	if parts[1] != ChallengeVersion {
		return Challenge{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedChallenge, parts[1])
	}
	if !requestIDPattern.MatchString(parts[2]) {
		return Challenge{}, fmt.Errorf("%w: invalid request id", ErrMalformedChallenge)
	}
	if !noncePattern.MatchString(parts[3]) {
		return Challenge{}, fmt.Errorf("%w: invalid nonce", ErrMalformedChallenge)
	}
	return Challenge{RequestID: parts[2], Nonce: parts[3]}, nil
}

// NewNonce returns 16 random bytes as lowercase hex.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DNSHost returns the TXT record name for a claimed domain.
func DNSHost(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	return DNSHostLabel + "." + domain
}

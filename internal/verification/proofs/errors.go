package proofs

import (
	"context"
	"errors"
	"fmt"
	"net"

	"tokenverif/internal/verification/models"
)

// ErrorCategory defines the normalized failure taxonomy for proof checks.
type ErrorCategory string

const (
	// ErrorTimeout indicates the external system took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorUnavailable indicates a network failure or a 5xx/SERVFAIL answer
	ErrorUnavailable ErrorCategory = "unavailable"

	// ErrorRateLimited indicates the external system throttled us
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorBadClaim indicates the stored claim cannot be checked at all
	ErrorBadClaim ErrorCategory = "bad_claim"

	// ErrorInternal indicates an unexpected internal error
	ErrorInternal ErrorCategory = "internal"
)

// ProofError wraps verifier failures with normalized categorization. A
// verifier returns a ProofError only when it could not reach a verdict;
// negative verdicts are an Outcome with Valid false.
type ProofError struct {
	Category   ErrorCategory
	ProofType  models.ProofType
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProofError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s proof [%s]: %s: %v", e.ProofType, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s proof [%s]: %s", e.ProofType, e.Category, e.Message)
}

func (e *ProofError) Unwrap() error {
	return e.Underlying
}

// NewProofError creates a new normalized proof error.
func NewProofError(category ErrorCategory, proofType models.ProofType, message string, underlying error) *ProofError {
	retryable := category == ErrorTimeout ||
		category == ErrorUnavailable ||
		category == ErrorRateLimited

	return &ProofError{
		Category:   category,
		ProofType:  proofType,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// NetworkError classifies a transport failure as timeout or unavailable.
func NetworkError(proofType models.ProofType, message string, err error) *ProofError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProofError(ErrorTimeout, proofType, message, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewProofError(ErrorTimeout, proofType, message, err)
	}
	return NewProofError(ErrorUnavailable, proofType, message, err)
}

// IsTransient reports whether err is worth retrying and, once retries are
// exhausted, should be recorded as an error status rather than a verdict.
func IsTransient(err error) bool {
	var pe *ProofError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var pe *ProofError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

var (
	ErrVerifierNotFound   = errors.New("no verifier registered for proof type")
	ErrMalformedChallenge = errors.New("malformed challenge")
	ErrUnsupportedChain   = errors.New("chain is not configured")
	ErrDuplicateVerifier  = errors.New("verifier already registered")
)

package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: a uniqueness rule rejected the write (one active key,
//     one live attestation per token, one proof per type)
//   - ErrInvalidState: entity is in the wrong state for the requested write
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

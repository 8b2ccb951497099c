package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	id "tokenverif/pkg/domain"
)

// ReverifyStatus summarises a token's standing in periodic re-verification.
type ReverifyStatus string

const (
	ReverifyStatusNone    ReverifyStatus = ""
	ReverifyStatusOK      ReverifyStatus = "ok"
	ReverifyStatusGrace   ReverifyStatus = "grace"
	ReverifyStatusFailing ReverifyStatus = "failing"
	ReverifyStatusRevoked ReverifyStatus = "revoked"
)

// Token is an on-chain token identified by the immutable (chain id, contract
// address) pair. Symbols are not unique.
type Token struct {
	ID                  id.TokenID
	ProjectID           id.ProjectID
	ChainID             int64
	ContractAddress     string
	Symbol              string
	Name                string
	Decimals            *int
	LogoURL             string
	WebsiteURL          string
	ReverifyStatus      ReverifyStatus
	ConsecutiveFailures int
	CreatedAt           time.Time
}

// Project is the organisation that registered one or more tokens.
type Project struct {
	ID          id.ProjectID
	DisplayName string
	WebsiteURL  string
}

// NormalizeAddress validates a 0x-prefixed EVM address and lowercases it so
// lookups by (chain id, address) are case-insensitive.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid contract address %q", address)
	}
	return strings.ToLower(address), nil
}

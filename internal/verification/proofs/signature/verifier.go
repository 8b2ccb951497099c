// Package signature verifies that the token's controller signed the request
// challenge with personal_sign.
//
// The signer is recovered from the signature and compared to the contract's
// owner() when the contract exposes one (tier hint "owner"). Contracts
// without an owner accessor fall back to a self-asserted deployer address
// that must equal the recovered signer (tier hint "deployer").
package signature

//go:generate mockgen -source=chain.go -destination=mocks/mocks.go -package=mocks ChainReader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	"tokenverif/pkg/platform/retry"
)

// Verifier checks signature proofs.
type Verifier struct {
	chain  ChainReader
	policy retry.Policy
	logger *slog.Logger
}

// Option configures the Verifier.
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

func New(chain ChainReader, opts ...Option) *Verifier {
	v := &Verifier{
		chain:  chain,
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Type() models.ProofType {
	return models.ProofTypeSignature
}

func (v *Verifier) Verify(ctx context.Context, target proofs.Target, raw json.RawMessage) (proofs.Outcome, error) {
	var claim models.SignatureClaim
	if err := models.DecodeClaim(raw, &claim); err != nil {
		return proofs.Invalid("signature claim is unreadable: "+err.Error(), nil), nil
	}
	if strings.TrimSpace(claim.Signature) == "" {
		return proofs.Invalid("signature claim has no signature", nil), nil
	}
	if strings.TrimSpace(claim.Timestamp) == "" {
		return proofs.Invalid("signature claim has no timestamp", nil), nil
	}

	var claimed common.Address
	hasClaimed := strings.TrimSpace(claim.ClaimedAddress) != ""
	if hasClaimed {
		if !common.IsHexAddress(claim.ClaimedAddress) {
			return proofs.Invalid("claimed address is not a valid EVM address", nil), nil
		}
		claimed = common.HexToAddress(claim.ClaimedAddress)
	}

	contract := common.HexToAddress(target.ContractAddress)
	msg := proofs.SignatureMessage(target.ChainID, target.ContractAddress, target.RequestID.String(), target.Nonce, claim.Timestamp)
	signer, err := RecoverSigner(msg, claim.Signature)
	if err != nil {
		return proofs.Invalid("signature does not recover a signer: "+err.Error(), nil), nil
	}

	details := map[string]string{
		"recovered_address": strings.ToLower(signer.Hex()),
		"chain_id":          strconv.FormatInt(target.ChainID, 10),
	}
	if hasClaimed && claimed != signer {
		return proofs.Invalid(fmt.Sprintf("signature was produced by %s, not the claimed address %s",
			strings.ToLower(signer.Hex()), strings.ToLower(claimed.Hex())), details), nil
	}

	var code []byte
	err = retry.Do(ctx, v.policy, proofs.IsTransient, func(ctx context.Context) error {
		var callErr error
		code, callErr = v.chain.CodeAt(ctx, target.ChainID, contract)
		return v.classify("eth_getCode", callErr)
	})
	if err != nil {
		if errors.Is(err, proofs.ErrUnsupportedChain) {
			return proofs.Invalid(fmt.Sprintf("chain %d is not supported", target.ChainID), details), nil
		}
		return proofs.Outcome{}, err
	}
	if len(code) == 0 {
		return proofs.Invalid("no contract code deployed at "+target.ContractAddress, details), nil
	}
	details["code_size"] = strconv.Itoa(len(code))

	var owner common.Address
	err = retry.Do(ctx, v.policy, proofs.IsTransient, func(ctx context.Context) error {
		var callErr error
		owner, callErr = v.chain.Owner(ctx, target.ChainID, contract)
		if errors.Is(callErr, ErrNoOwnerAccessor) {
			return callErr
		}
		return v.classify("owner()", callErr)
	})
	switch {
	case err == nil && owner != (common.Address{}):
		details["owner"] = strings.ToLower(owner.Hex())
		if owner == signer {
			return proofs.Valid(models.TierHintOwner, details), nil
		}
		return proofs.Invalid(fmt.Sprintf("signer %s is not the contract owner %s",
			strings.ToLower(signer.Hex()), strings.ToLower(owner.Hex())), details), nil
	case err == nil, errors.Is(err, ErrNoOwnerAccessor):
		// owner() absent, reverted, or renounced to the zero address.
	default:
		return proofs.Outcome{}, err
	}

	if v.logger != nil {
		v.logger.DebugContext(ctx, "owner accessor unavailable, checking deployer claim",
			"contract", target.ContractAddress,
			"chain_id", target.ChainID,
		)
	}
	if !hasClaimed {
		return proofs.Invalid("contract has no owner and no deployer address was claimed", details), nil
	}
	details["deployer"] = strings.ToLower(claimed.Hex())
	return proofs.Valid(models.TierHintDeployer, details), nil
}

// classify turns a chain call failure into a ProofError. Unsupported chains
// stay as-is so the caller can report them as a negative result.
func (v *Verifier) classify(call string, err error) error {
	if err == nil || errors.Is(err, proofs.ErrUnsupportedChain) {
		return err
	}
	if isRateLimited(err) {
		return proofs.NewProofError(proofs.ErrorRateLimited, models.ProofTypeSignature, call+" rate limited", err)
	}
	return proofs.NetworkError(models.ProofTypeSignature, call+" failed", err)
}

// Package tier derives an attestation tier from a request's proofs.
package tier

import "tokenverif/internal/verification/models"

// Calculate applies the tier policy to one request's proof set.
// This is pure domain logic - no I/O, no side effects.
//
// Rule priority:
//  1. A valid signature proof is required for any tier above UNVERIFIED.
//  2. The signature's tier hint says whether the signer owns or deployed the contract.
//  3. owner with two or more valid offchain proofs is VERIFIED.
//  4. owner with exactly one valid offchain proof is downgraded to DEPLOYER_VERIFIED.
//  5. deployer with at least one valid offchain proof is DEPLOYER_VERIFIED.
//
// Proofs in pending or error status count as neither valid nor invalid.
func Calculate(proofs []models.Proof) models.Tier {
	sig, ok := signatureProof(proofs)
	if !ok || !sig.IsValid() {
		return models.TierUnverified
	}

	offchain := CountValidOffchain(proofs)
	switch sig.Evidence.TierHint {
	case models.TierHintOwner:
		if offchain >= 2 {
			return models.TierVerified
		}
		if offchain == 1 {
			return models.TierDeployerVerified
		}
	case models.TierHintDeployer:
		if offchain >= 1 {
			return models.TierDeployerVerified
		}
	}
	return models.TierUnverified
}

// CountValidOffchain counts valid proofs among the non-signature types.
// Each type is counted once even if the slice holds duplicates.
func CountValidOffchain(proofs []models.Proof) int {
	seen := make(map[models.ProofType]bool, 2)
	for _, p := range proofs {
		if p.Type.IsOffchain() && p.IsValid() {
			seen[p.Type] = true
		}
	}
	return len(seen)
}

func signatureProof(proofs []models.Proof) (models.Proof, bool) {
	for _, p := range proofs {
		if p.Type == models.ProofTypeSignature {
			return p, true
		}
	}
	return models.Proof{}, false
}

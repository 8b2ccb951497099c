package models

// Tier is the trust level asserted by an attestation.
type Tier string

const (
	TierVerified         Tier = "VERIFIED"
	TierDeployerVerified Tier = "DEPLOYER_VERIFIED"
	TierUnverified       Tier = "UNVERIFIED"
)

// IsApproved reports whether the tier is high enough to issue an attestation.
func (t Tier) IsApproved() bool {
	return t == TierVerified || t == TierDeployerVerified
}

package model

// Tier is the outreach classification bucket a lead lands in.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
)

// TierFor classifies a verified score into a tier. The second return is
// false when the record does not qualify for export at all.
func TierFor(score int, status VerificationStatus, hotThreshold, warmThreshold int) (Tier, bool) {
	if status != VerifyValid {
		return "", false
	}
	switch {
	case score >= hotThreshold:
		return TierHot, true
	case score >= warmThreshold:
		return TierWarm, true
	default:
		return "", false
	}
}

// SenderReadyRecord is the final join of permit, contractor, contact and
// verification. One record per contractor per run.
type SenderReadyRecord struct {
	Permit       ScoredPermit       `json:"permit"`
	Contractor   ContractorRecord   `json:"contractor"`
	Contact      ContactCandidate   `json:"contact"`
	Verification VerificationRecord `json:"verification"`
	Tier         Tier               `json:"tier"`
}

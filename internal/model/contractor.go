package model

// ResolutionMethod records which tier of the resolver produced a domain.
type ResolutionMethod string

const (
	ResolutionSeed       ResolutionMethod = "seed"
	ResolutionSeedFuzzy  ResolutionMethod = "seed-fuzzy"
	ResolutionRegistry   ResolutionMethod = "registry"
	ResolutionClaude     ResolutionMethod = "claude"
	ResolutionUnresolved ResolutionMethod = "unresolved"
)

// ContractorRecord maps a normalized contractor name to a company domain.
// Many permits may reference one record.
type ContractorRecord struct {
	NameNormalized string           `json:"contractor_name_normalized"`
	Domain         string           `json:"contractor_domain,omitempty"`
	Method         ResolutionMethod `json:"resolution_method"`
	Confidence     float64          `json:"resolution_confidence"`
}

// Resolved reports whether the contractor has a usable domain.
func (c ContractorRecord) Resolved() bool {
	return c.Domain != "" && c.Method != ResolutionUnresolved
}

// Upgrade applies a new resolution only if it carries strictly higher
// confidence than the existing one. A resolved domain is never overwritten
// downward.
func (c *ContractorRecord) Upgrade(domain string, method ResolutionMethod, confidence float64) bool {
	if domain == "" {
		return false
	}
	if c.Resolved() && confidence <= c.Confidence {
		return false
	}
	c.Domain = domain
	c.Method = method
	c.Confidence = confidence
	return true
}

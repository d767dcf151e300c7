package model

import (
	"encoding/json"
	"time"
)

// DiscoveryMethod records how a contact candidate was found.
type DiscoveryMethod string

const (
	DiscoveryPageScrape   DiscoveryMethod = "page-scrape"
	DiscoveryPatternGuess DiscoveryMethod = "pattern-guess"
)

// ContactCandidate is the single best contact found for a domain in one run.
type ContactCandidate struct {
	Domain        string          `json:"domain"`
	Email         string          `json:"candidate_email"`
	Method        DiscoveryMethod `json:"discovery_method"`
	SourcePageURL string          `json:"source_page_url,omitempty"`
}

// VerificationStatus classifies deliverability of an email.
type VerificationStatus string

const (
	VerifyValid   VerificationStatus = "valid"
	VerifyInvalid VerificationStatus = "invalid"
	VerifyRisky   VerificationStatus = "risky"
	VerifyUnknown VerificationStatus = "unknown"
)

// Terminal reports whether the status is final for the lifetime of the
// cache. Terminal statuses are never re-submitted to the provider.
func (s VerificationStatus) Terminal() bool {
	return s == VerifyValid || s == VerifyInvalid
}

// VerificationRecord is the cached outcome of a deliverability check,
// keyed by normalized email.
type VerificationRecord struct {
	Email       string             `json:"email"`
	Status      VerificationStatus `json:"verification_status"`
	CheckedAt   time.Time          `json:"checked_at"`
	RawResponse json.RawMessage    `json:"provider_raw_response,omitempty"` // opaque, retained for audit
}

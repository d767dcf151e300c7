// Package model defines the core data types flowing through the intent pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PermitClass buckets free-text permit types into a fixed set of classes.
type PermitClass string

const (
	ClassEquipmentIntensive PermitClass = "equipment-intensive"
	ClassStructural         PermitClass = "structural"
	ClassRoutine            PermitClass = "routine"
	ClassUnclassified       PermitClass = "unclassified"
)

// RawPermitRow is a permit filing as produced by a source adapter.
// Rows are immutable once scraped; the normalizer consumes them without mutation.
type RawPermitRow struct {
	SourceID       string    `json:"source_id"`
	Jurisdiction   string    `json:"jurisdiction"`
	ExternalID     string    `json:"permit_id"`
	ContractorName string    `json:"contractor_name"`
	PermitType     string    `json:"permit_type"`
	RecordStatus   string    `json:"record_status"`
	FiledDate      string    `json:"filed_date"` // as published, parsed by the normalizer
	Address        string    `json:"address"`
	City           string    `json:"city"`
	State          string    `json:"state"`
	Description    string    `json:"description"`
	SourceURL      string    `json:"source_url"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// PermitKey derives the stable cross-run dedup key for a permit.
// Identical (source, external id) pairs always produce the same key.
func PermitKey(sourceID, externalID string) string {
	sum := sha256.Sum256([]byte(sourceID + "|" + externalID))
	return hex.EncodeToString(sum[:])
}

// NormalizedPermit is the canonical form of a RawPermitRow.
// One raw row maps to exactly one normalized permit.
type NormalizedPermit struct {
	PermitKey      string      `json:"permit_key"`
	SourceID       string      `json:"source_id"`
	Jurisdiction   string      `json:"jurisdiction"`
	ExternalID     string      `json:"permit_id"`
	ContractorRaw  string      `json:"contractor_name_raw"`
	ContractorNorm string      `json:"contractor_name_normalized"`
	Class          PermitClass `json:"permit_type_class"`
	FiledDate      time.Time   `json:"filed_date"` // zero when the source date did not parse
	RecordStatus   string      `json:"record_status"`
	Address        string      `json:"address"`
	City           string      `json:"city"`
	State          string      `json:"state"`
	Description    string      `json:"description"`
	SourceURL      string      `json:"source_url"`
	ScrapedAt      time.Time   `json:"scraped_at"`
	RowIndex       int         `json:"row_index"` // order within its source, used for tie-breaks
}

// ScoredPermit attaches a deterministic 0-10 intent score to a permit.
type ScoredPermit struct {
	NormalizedPermit
	Score     int      `json:"intent_score"`
	ScoreHits []string `json:"score_hits,omitempty"` // matched rule names, for QA and personalization
}

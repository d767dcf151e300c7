package model

import "time"

// Defect records a row or source that was skipped, with the reason.
// Defects never abort the run; they surface in the QA report.
type Defect struct {
	Stage     string `json:"stage"`
	SourceID  string `json:"source_id,omitempty"`
	PermitKey string `json:"permit_key,omitempty"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// Defect reasons used across stages.
const (
	DefectMissingField     = "missing-required-field"
	DefectDateParse        = "date-parse"
	DefectSourceFetch      = "source-fetch"
	DefectUnresolvedDomain = "unresolved-domain"
	DefectNoContact        = "no-contact-found"
)

// SourceStatus summarizes one adapter's outcome for the run.
type SourceStatus struct {
	SourceID        string `json:"source_id"`
	Rows            int    `json:"rows"`
	Error           string `json:"error,omitempty"`
	ConsecutiveZero int    `json:"consecutive_zero_runs"`
	Quarantined     bool   `json:"quarantined"`
}

// StageCounts holds per-stage row counts for the run-health summary.
type StageCounts struct {
	Ingested        int `json:"ingested"`
	Normalized      int `json:"normalized"`
	Scored          int `json:"scored"`
	Queued          int `json:"queued"` // at or above the warm threshold
	Resolved        int `json:"resolved"`
	Unresolved      int `json:"unresolved"`
	Contacted       int `json:"contacted"`
	Verified        int `json:"verified"`
	VerifiedValid   int `json:"verified_valid"`
	Unverified      int `json:"resolved_but_unverified"`
	ExportedHot     int `json:"exported_hot"`
	ExportedWarm    int `json:"exported_warm"`
	CatchallReview  int `json:"catchall_review"`
	AlreadyExported int `json:"already_exported"`
}

// GateReport is the outcome of the pre-export monitoring gates.
// Halt means sender CSVs were not written.
type GateReport struct {
	Halt     bool     `json:"halt"`
	Failures []string `json:"failures,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// QAReport is the structured run-health summary. It is written on every
// run, including runs exporting zero leads.
type QAReport struct {
	RunID            string         `json:"run_id"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Counts           StageCounts    `json:"counts"`
	Sources          []SourceStatus `json:"sources"`
	Defects          []Defect       `json:"defects"`
	BudgetRemaining  int            `json:"verification_budget_remaining"`
	BudgetExhausted  bool           `json:"budget_exhausted"`
	Truncated        bool           `json:"run_truncated"`
	ValidEmailRate   float64        `json:"valid_email_rate"`
	DomainResolution float64        `json:"domain_resolution_rate"`
	Gate             GateReport     `json:"gate_report"`
}

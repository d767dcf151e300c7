// Package state persists everything that must survive across weekly runs:
// the verification cache, the exported-lead dedup set, contractor
// resolutions, verification budget counters, and per-source health.
package state

import (
	"context"
	"time"

	"github.com/dark30-ventures/intent-cli/internal/model"
)

// BudgetWindow names one budget counter and its ceiling. The gate spends
// against the run window and the billing-month window together.
type BudgetWindow struct {
	Key   string
	Limit int
}

// SourceHealth is the persisted health row for one source adapter.
type SourceHealth struct {
	SourceID        string    `json:"source_id"`
	LastSuccess     time.Time `json:"last_success"`
	LastRows        int       `json:"last_rows"`
	LastError       string    `json:"last_error,omitempty"`
	ConsecutiveZero int       `json:"consecutive_zero_runs"`
}

// Stats summarizes the sizes of the cross-run data sets.
type Stats struct {
	Runs          int `json:"runs"`
	Contractors   int `json:"contractors"`
	Verifications int `json:"verifications"`
	Exported      int `json:"exported_leads"`
}

// Store is the persistence interface for the pipeline's cross-run state.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, startedAt time.Time) (string, error)
	FinishRun(ctx context.Context, runID string, report *model.QAReport) error
	LatestReport(ctx context.Context) (*model.QAReport, error)

	// Contractor resolutions
	GetContractors(ctx context.Context, names []string) (map[string]model.ContractorRecord, error)
	PutContractors(ctx context.Context, records map[string]model.ContractorRecord) error

	// Verification cache
	GetVerification(ctx context.Context, email string) (*model.VerificationRecord, error)
	PutVerification(ctx context.Context, rec model.VerificationRecord) error

	// Budget. SpendBudget atomically increments every window by one if and
	// only if all of them are still under their limit; it is the single
	// serialization point preventing double-spend under concurrency.
	SpendBudget(ctx context.Context, windows ...BudgetWindow) (bool, error)
	BudgetUsed(ctx context.Context, window string) (int, error)

	// Exported-lead dedup set. The set only ever grows; MarkExported
	// commits all keys for a run in one transaction after the CSVs are on
	// disk.
	ExportedSet(ctx context.Context, permitKeys []string) (map[string]bool, error)
	MarkExported(ctx context.Context, runID string, permitKeys []string) error

	// Stats reports row counts for the ops surface.
	Stats(ctx context.Context) (*Stats, error)

	// Source health
	SourceState(ctx context.Context, sourceID string) (*SourceHealth, error)
	RecordSourceResult(ctx context.Context, sourceID string, rows int, fetchErr error, at time.Time) (*SourceHealth, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dark30-ventures/intent-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One writer at a time keeps budget spends serialized.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	report      TEXT
);

CREATE TABLE IF NOT EXISTS contractors (
	name_normalized TEXT PRIMARY KEY,
	domain          TEXT NOT NULL DEFAULT '',
	method          TEXT NOT NULL DEFAULT 'unresolved',
	confidence      REAL NOT NULL DEFAULT 0,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS verifications (
	email        TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	checked_at   DATETIME NOT NULL,
	raw_response TEXT
);

CREATE TABLE IF NOT EXISTS budget_spend (
	window TEXT PRIMARY KEY,
	used   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS exported_leads (
	permit_key  TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	exported_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS source_health (
	source_id        TEXT PRIMARY KEY,
	last_success     DATETIME,
	last_rows        INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	consecutive_zero INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_verifications_checked_at ON verifications(checked_at);
CREATE INDEX IF NOT EXISTS idx_exported_leads_run_id ON exported_leads(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, startedAt time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		id, startedAt.UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert run")
	}
	return id, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, report *model.QAReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, report = ? WHERE id = ?`,
		time.Now().UTC(), string(reportJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

func (s *SQLiteStore) LatestReport(ctx context.Context) (*model.QAReport, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs WHERE report IS NOT NULL ORDER BY started_at DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest report")
	}
	var report model.QAReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &report, nil
}

func (s *SQLiteStore) GetContractors(ctx context.Context, names []string) (map[string]model.ContractorRecord, error) {
	out := make(map[string]model.ContractorRecord, len(names))
	if len(names) == 0 {
		return out, nil
	}
	query := `SELECT name_normalized, domain, method, confidence FROM contractors WHERE name_normalized IN (?` +
		strings.Repeat(",?", len(names)-1) + `)`
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get contractors")
	}
	defer rows.Close()
	for rows.Next() {
		var rec model.ContractorRecord
		var method string
		if err := rows.Scan(&rec.NameNormalized, &rec.Domain, &method, &rec.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contractor")
		}
		rec.Method = model.ResolutionMethod(method)
		out[rec.NameNormalized] = rec
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate contractors")
}

func (s *SQLiteStore) PutContractors(ctx context.Context, records map[string]model.ContractorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin contractors tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, rec := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contractors (name_normalized, domain, method, confidence, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(name_normalized) DO UPDATE SET
			   domain = excluded.domain,
			   method = excluded.method,
			   confidence = excluded.confidence,
			   updated_at = excluded.updated_at
			 WHERE excluded.confidence > contractors.confidence OR contractors.domain = ''`,
			rec.NameNormalized, rec.Domain, string(rec.Method), rec.Confidence, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert contractor %s", rec.NameNormalized)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit contractors")
}

func (s *SQLiteStore) GetVerification(ctx context.Context, email string) (*model.VerificationRecord, error) {
	var rec model.VerificationRecord
	var status, raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT email, status, checked_at, raw_response FROM verifications WHERE email = ?`,
		email,
	).Scan(&rec.Email, &status, &rec.CheckedAt, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get verification %s", email)
	}
	rec.Status = model.VerificationStatus(status)
	if raw != "" {
		rec.RawResponse = json.RawMessage(raw)
	}
	return &rec, nil
}

func (s *SQLiteStore) PutVerification(ctx context.Context, rec model.VerificationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications (email, status, checked_at, raw_response)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   status = excluded.status,
		   checked_at = excluded.checked_at,
		   raw_response = excluded.raw_response`,
		rec.Email, string(rec.Status), rec.CheckedAt.UTC(), string(rec.RawResponse),
	)
	return eris.Wrapf(err, "sqlite: put verification %s", rec.Email)
}

// SpendBudget increments every window inside one transaction, refusing the
// spend when any window is already at its limit.
func (s *SQLiteStore) SpendBudget(ctx context.Context, windows ...BudgetWindow) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin budget tx")
	}
	defer tx.Rollback()

	for _, w := range windows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO budget_spend (window, used) VALUES (?, 0) ON CONFLICT(window) DO NOTHING`, w.Key,
		); err != nil {
			return false, eris.Wrapf(err, "sqlite: init budget window %s", w.Key)
		}
		var used int
		if err := tx.QueryRowContext(ctx,
			`SELECT used FROM budget_spend WHERE window = ?`, w.Key,
		).Scan(&used); err != nil {
			return false, eris.Wrapf(err, "sqlite: read budget window %s", w.Key)
		}
		if used >= w.Limit {
			return false, nil
		}
	}
	for _, w := range windows {
		if _, err := tx.ExecContext(ctx,
			`UPDATE budget_spend SET used = used + 1 WHERE window = ?`, w.Key,
		); err != nil {
			return false, eris.Wrapf(err, "sqlite: spend budget window %s", w.Key)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit budget")
	}
	return true, nil
}

func (s *SQLiteStore) BudgetUsed(ctx context.Context, window string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM budget_spend WHERE window = ?`, window,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, eris.Wrapf(err, "sqlite: budget used %s", window)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM contractors),
			(SELECT COUNT(*) FROM verifications),
			(SELECT COUNT(*) FROM exported_leads)`,
	).Scan(&st.Runs, &st.Contractors, &st.Verifications, &st.Exported)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return &st, nil
}

func (s *SQLiteStore) ExportedSet(ctx context.Context, permitKeys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(permitKeys))
	if len(permitKeys) == 0 {
		return out, nil
	}
	query := `SELECT permit_key FROM exported_leads WHERE permit_key IN (?` +
		strings.Repeat(",?", len(permitKeys)-1) + `)`
	args := make([]any, len(permitKeys))
	for i, k := range permitKeys {
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: exported set")
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exported key")
		}
		out[key] = true
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate exported set")
}

func (s *SQLiteStore) MarkExported(ctx context.Context, runID string, permitKeys []string) error {
	if len(permitKeys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin export tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, key := range permitKeys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exported_leads (permit_key, run_id, exported_at) VALUES (?, ?, ?)
			 ON CONFLICT(permit_key) DO NOTHING`,
			key, runID, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: mark exported %s", key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit export marks")
}

func (s *SQLiteStore) SourceState(ctx context.Context, sourceID string) (*SourceHealth, error) {
	var h SourceHealth
	var lastSuccess sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, last_success, last_rows, last_error, consecutive_zero
		 FROM source_health WHERE source_id = ?`,
		sourceID,
	).Scan(&h.SourceID, &lastSuccess, &h.LastRows, &h.LastError, &h.ConsecutiveZero)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: source state %s", sourceID)
	}
	if lastSuccess.Valid {
		h.LastSuccess = lastSuccess.Time
	}
	return &h, nil
}

func (s *SQLiteStore) RecordSourceResult(ctx context.Context, sourceID string, rows int, fetchErr error, at time.Time) (*SourceHealth, error) {
	prev, err := s.SourceState(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	h := SourceHealth{SourceID: sourceID, LastRows: rows}
	if prev != nil {
		h = *prev
		h.LastRows = rows
	}
	if fetchErr != nil {
		h.LastError = fetchErr.Error()
		h.ConsecutiveZero++
	} else {
		h.LastError = ""
		h.LastSuccess = at.UTC()
		if rows == 0 {
			h.ConsecutiveZero++
		} else {
			h.ConsecutiveZero = 0
		}
	}

	var lastSuccess any
	if !h.LastSuccess.IsZero() {
		lastSuccess = h.LastSuccess
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_health (source_id, last_success, last_rows, last_error, consecutive_zero)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET
		   last_success = excluded.last_success,
		   last_rows = excluded.last_rows,
		   last_error = excluded.last_error,
		   consecutive_zero = excluded.consecutive_zero`,
		sourceID, lastSuccess, h.LastRows, h.LastError, h.ConsecutiveZero,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record source result %s", sourceID)
	}
	return &h, nil
}

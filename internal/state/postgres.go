package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dark30-ventures/intent-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool, for deployments where the
// state database is shared between machines.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	report      JSONB
);

CREATE TABLE IF NOT EXISTS contractors (
	name_normalized TEXT PRIMARY KEY,
	domain          TEXT NOT NULL DEFAULT '',
	method          TEXT NOT NULL DEFAULT 'unresolved',
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS verifications (
	email        TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	checked_at   TIMESTAMPTZ NOT NULL,
	raw_response JSONB
);

CREATE TABLE IF NOT EXISTS budget_spend (
	window TEXT PRIMARY KEY,
	used   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS exported_leads (
	permit_key  TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	exported_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS source_health (
	source_id        TEXT PRIMARY KEY,
	last_success     TIMESTAMPTZ,
	last_rows        INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	consecutive_zero INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_verifications_checked_at ON verifications(checked_at);
CREATE INDEX IF NOT EXISTS idx_exported_leads_run_id ON exported_leads(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, startedAt time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, started_at) VALUES ($1, $2)`,
		id, startedAt.UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert run")
	}
	return id, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, report *model.QAReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $1, report = $2 WHERE id = $3`,
		time.Now().UTC(), reportJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) LatestReport(ctx context.Context) (*model.QAReport, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM runs WHERE report IS NOT NULL ORDER BY started_at DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest report")
	}
	var report model.QAReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &report, nil
}

func (s *PostgresStore) GetContractors(ctx context.Context, names []string) (map[string]model.ContractorRecord, error) {
	out := make(map[string]model.ContractorRecord, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT name_normalized, domain, method, confidence FROM contractors WHERE name_normalized = ANY($1)`,
		names,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get contractors")
	}
	defer rows.Close()
	for rows.Next() {
		var rec model.ContractorRecord
		var method string
		if err := rows.Scan(&rec.NameNormalized, &rec.Domain, &method, &rec.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contractor")
		}
		rec.Method = model.ResolutionMethod(method)
		out[rec.NameNormalized] = rec
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate contractors")
}

func (s *PostgresStore) PutContractors(ctx context.Context, records map[string]model.ContractorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin contractors tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, rec := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO contractors (name_normalized, domain, method, confidence, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (name_normalized) DO UPDATE SET
			   domain = EXCLUDED.domain,
			   method = EXCLUDED.method,
			   confidence = EXCLUDED.confidence,
			   updated_at = EXCLUDED.updated_at
			 WHERE EXCLUDED.confidence > contractors.confidence OR contractors.domain = ''`,
			rec.NameNormalized, rec.Domain, string(rec.Method), rec.Confidence, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert contractor %s", rec.NameNormalized)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit contractors")
}

func (s *PostgresStore) GetVerification(ctx context.Context, email string) (*model.VerificationRecord, error) {
	var rec model.VerificationRecord
	var status string
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT email, status, checked_at, raw_response FROM verifications WHERE email = $1`,
		email,
	).Scan(&rec.Email, &status, &rec.CheckedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get verification %s", email)
	}
	rec.Status = model.VerificationStatus(status)
	rec.RawResponse = json.RawMessage(raw)
	return &rec, nil
}

func (s *PostgresStore) PutVerification(ctx context.Context, rec model.VerificationRecord) error {
	var raw any
	if len(rec.RawResponse) > 0 {
		raw = []byte(rec.RawResponse)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verifications (email, status, checked_at, raw_response)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET
		   status = EXCLUDED.status,
		   checked_at = EXCLUDED.checked_at,
		   raw_response = EXCLUDED.raw_response`,
		rec.Email, string(rec.Status), rec.CheckedAt.UTC(), raw,
	)
	return eris.Wrapf(err, "postgres: put verification %s", rec.Email)
}

func (s *PostgresStore) SpendBudget(ctx context.Context, windows ...BudgetWindow) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin budget tx")
	}
	defer tx.Rollback(ctx)

	for _, w := range windows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO budget_spend (window, used) VALUES ($1, 0) ON CONFLICT (window) DO NOTHING`, w.Key,
		); err != nil {
			return false, eris.Wrapf(err, "postgres: init budget window %s", w.Key)
		}
		var used int
		if err := tx.QueryRow(ctx,
			`SELECT used FROM budget_spend WHERE window = $1 FOR UPDATE`, w.Key,
		).Scan(&used); err != nil {
			return false, eris.Wrapf(err, "postgres: read budget window %s", w.Key)
		}
		if used >= w.Limit {
			return false, nil
		}
	}
	for _, w := range windows {
		if _, err := tx.Exec(ctx,
			`UPDATE budget_spend SET used = used + 1 WHERE window = $1`, w.Key,
		); err != nil {
			return false, eris.Wrapf(err, "postgres: spend budget window %s", w.Key)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit budget")
	}
	return true, nil
}

func (s *PostgresStore) BudgetUsed(ctx context.Context, window string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM budget_spend WHERE window = $1`, window,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return used, eris.Wrapf(err, "postgres: budget used %s", window)
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM contractors),
			(SELECT COUNT(*) FROM verifications),
			(SELECT COUNT(*) FROM exported_leads)`,
	).Scan(&st.Runs, &st.Contractors, &st.Verifications, &st.Exported)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

func (s *PostgresStore) ExportedSet(ctx context.Context, permitKeys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(permitKeys))
	if len(permitKeys) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT permit_key FROM exported_leads WHERE permit_key = ANY($1)`,
		permitKeys,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: exported set")
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exported key")
		}
		out[key] = true
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate exported set")
}

func (s *PostgresStore) MarkExported(ctx context.Context, runID string, permitKeys []string) error {
	if len(permitKeys) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin export tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, key := range permitKeys {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exported_leads (permit_key, run_id, exported_at) VALUES ($1, $2, $3)
			 ON CONFLICT (permit_key) DO NOTHING`,
			key, runID, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: mark exported %s", key)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit export marks")
}

func (s *PostgresStore) SourceState(ctx context.Context, sourceID string) (*SourceHealth, error) {
	var h SourceHealth
	var lastSuccess *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT source_id, last_success, last_rows, last_error, consecutive_zero
		 FROM source_health WHERE source_id = $1`,
		sourceID,
	).Scan(&h.SourceID, &lastSuccess, &h.LastRows, &h.LastError, &h.ConsecutiveZero)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: source state %s", sourceID)
	}
	if lastSuccess != nil {
		h.LastSuccess = *lastSuccess
	}
	return &h, nil
}

func (s *PostgresStore) RecordSourceResult(ctx context.Context, sourceID string, rows int, fetchErr error, at time.Time) (*SourceHealth, error) {
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

	var lastSuccess *time.Time
	if !h.LastSuccess.IsZero() {
		lastSuccess = &h.LastSuccess
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_health (source_id, last_success, last_rows, last_error, consecutive_zero)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_id) DO UPDATE SET
		   last_success = EXCLUDED.last_success,
		   last_rows = EXCLUDED.last_rows,
		   last_error = EXCLUDED.last_error,
		   consecutive_zero = EXCLUDED.consecutive_zero`,
		sourceID, lastSuccess, h.LastRows, h.LastError, h.ConsecutiveZero,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record source result %s", sourceID)
	}
	return &h, nil
}

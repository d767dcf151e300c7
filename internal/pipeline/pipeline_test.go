package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/export"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/state"
)

const typeMapYAML = `classes:
  equipment-intensive:
    - crane
    - tower crane
    - shoring
  structural:
    - foundation
    - new commercial
  routine:
    - reroof
    - water heater
`

func testConfig(t *testing.T, sources []config.SourceConfig) *config.Config {
	t.Helper()
	dir := t.TempDir()

	typeMapPath := filepath.Join(dir, "permit_types.yaml")
	require.NoError(t, os.WriteFile(typeMapPath, []byte(typeMapYAML), 0o644))

	seedPath := filepath.Join(dir, "seeds.csv")
	require.NoError(t, os.WriteFile(seedPath,
		[]byte("contractor_name_normalized,contractor_domain\n"), 0o644))

	return &config.Config{
		Sources: sources,
		Normal: config.NormalizeConfig{
			LegalSuffixes: []string{"llc", "inc"},
			TypeMapFile:   typeMapPath,
		},
		Scoring: config.ScoringConfig{
			BaseWeights: map[string]int{
				"equipment-intensive": 6,
				"structural":          4,
				"routine":             1,
				"unclassified":        0,
			},
			RecencyDays:   90,
			RecencyMax:    3,
			RepeatBonus:   1,
			RepeatCap:     2,
			LookbackDays:  90,
			ThresholdHot:  7,
			ThresholdWarm: 5,
			Gates: config.GatesConfig{
				MinValidEmailRate:       0.30,
				MinDomainResolutionRate: 0.25,
				MinSampleSize:           10,
				MaxZeroRuns:             2,
			},
		},
		Resolver: config.ResolverConfig{
			SeedFile:         seedPath,
			SimilarityCutoff: 0.85,
		},
		Miner:  config.MinerConfig{Paths: []string{"/"}, RoleAliases: []string{"info"}, MaxPages: 1},
		Verify: config.VerifyConfig{Key: "test", BudgetPerRun: 10, RecheckDays: 30},
		Export: config.ExportConfig{OutDir: filepath.Join(dir, "out")},
	}
}

func testStore(t *testing.T) state.Store {
	t.Helper()
	st, err := state.NewSQLite(filepath.Join(t.TempDir(), "intent.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRunWithNoSources(t *testing.T) {
	cfg := testConfig(t, nil)
	st := testStore(t)

	p, err := New(cfg, st, Options{})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, report.Counts.Ingested)
	assert.False(t, report.Gate.Halt)

	// Artifacts land even on an empty run.
	for _, name := range []string{export.HotFile, export.WarmFile, export.ReportFile} {
		_, err := os.Stat(filepath.Join(cfg.Export.OutDir, name))
		assert.NoError(t, err, name)
	}

	latest, err := st.LatestReport(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, report.RunID, latest.RunID)
}

func TestRunHaltsWhenNothingSurvives(t *testing.T) {
	// High-intent permits whose contractors never resolve: the gate must
	// halt the run before sender files are written.
	csvBody := "PermitNumber,IssuedDate,ContractorName,ProjectDescription,StatusCurrent\n" +
		"991,2026-08-28,ABC Electrical LLC,tower crane erection,Issued\n" +
		"992,2026-08-27,Desert Plumbing Inc,crane pad shoring,Issued\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csvBody))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, []config.SourceConfig{{
		ID:           "phx",
		Jurisdiction: "Phoenix",
		Method:       "csv",
		URL:          srv.URL,
		Enabled:      true,
	}})
	st := testStore(t)

	p, err := New(cfg, st, Options{})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Counts.Ingested)
	assert.Equal(t, 2, report.Counts.Scored)
	assert.Equal(t, 2, report.Counts.Queued)
	assert.Equal(t, 2, report.Counts.Unresolved)
	assert.Zero(t, report.Counts.Resolved)

	assert.True(t, report.Gate.Halt)
	_, err = os.Stat(filepath.Join(cfg.Export.OutDir, export.HotFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.Export.OutDir, export.ReportFile))
	assert.NoError(t, err)
}

func TestRunLowScoresNeverSpendDownstreamQuota(t *testing.T) {
	csvBody := "PermitNumber,IssuedDate,ContractorName,ProjectDescription,StatusCurrent\n" +
		"101,2020-01-02,Roofers LLC,reroof existing home,Issued\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csvBody))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, []config.SourceConfig{{
		ID: "phx", Jurisdiction: "Phoenix", Method: "csv", URL: srv.URL, Enabled: true,
	}})
	st := testStore(t)

	p, err := New(cfg, st, Options{})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts.Scored)
	assert.Zero(t, report.Counts.Queued)
	assert.Zero(t, report.Counts.Resolved)
	assert.Zero(t, report.Counts.Contacted)
	assert.False(t, report.Gate.Halt)
}

func TestRunRecordsDefectWhenResolvedDomainYieldsNoContact(t *testing.T) {
	csvBody := "PermitNumber,IssuedDate,ContractorName,ProjectDescription,StatusCurrent\n" +
		"991,2026-08-28,ABC Electrical LLC,tower crane erection,Issued\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csvBody))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, []config.SourceConfig{{
		ID: "phx", Jurisdiction: "Phoenix", Method: "csv", URL: srv.URL, Enabled: true,
	}})
	// Seed resolves the contractor, but the domain is unreachable and no
	// role alias is configured, so mining comes up empty.
	require.NoError(t, os.WriteFile(cfg.Resolver.SeedFile,
		[]byte("abc electrical,abcelectrical.invalid\n"), 0o644))
	cfg.Miner.RoleAliases = nil
	st := testStore(t)

	p, err := New(cfg, st, Options{})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts.Resolved)
	assert.Zero(t, report.Counts.Contacted)

	var reasons []string
	for _, d := range report.Defects {
		if d.Stage == "mine" {
			reasons = append(reasons, d.Reason+":"+d.Detail)
		}
	}
	assert.Equal(t, []string{model.DefectNoContact + ":abcelectrical.invalid"}, reasons)
}

func TestRunQuarantinesSilentSource(t *testing.T) {
	csvBody := "PermitNumber,IssuedDate,ContractorName,ProjectDescription,StatusCurrent\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csvBody))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, []config.SourceConfig{{
		ID: "phx", Jurisdiction: "Phoenix", Method: "csv", URL: srv.URL, Enabled: true,
	}})
	st := testStore(t)

	p, err := New(cfg, st, Options{})
	require.NoError(t, err)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Sources, 1)
	assert.Equal(t, 1, first.Sources[0].ConsecutiveZero)
	assert.False(t, first.Sources[0].Quarantined)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Sources, 1)
	assert.Equal(t, 2, second.Sources[0].ConsecutiveZero)
	assert.True(t, second.Sources[0].Quarantined)
}

func TestRunIsolatesBrokenSource(t *testing.T) {
	good := "PermitNumber,IssuedDate,ContractorName,ProjectDescription,StatusCurrent\n" +
		"101,2020-01-02,Roofers LLC,reroof existing home,Issued\n"
	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(good))
	}))
	t.Cleanup(goodSrv.Close)
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(badSrv.Close)

	cfg := testConfig(t, []config.SourceConfig{
		{ID: "bad", Jurisdiction: "Dallas", Method: "csv", URL: badSrv.URL, Enabled: true},
		{ID: "phx", Jurisdiction: "Phoenix", Method: "csv", URL: goodSrv.URL, Enabled: true},
	})
	st := testStore(t)

	p, err := New(cfg, st, Options{})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts.Ingested)
	require.Len(t, report.Sources, 2)
	assert.NotEmpty(t, report.Sources[0].Error)
	assert.Empty(t, report.Sources[1].Error)
}

func TestExportReplayIsIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	runID, err := st.CreateRun(ctx, time.Now())
	require.NoError(t, err)

	in := baseInput()
	in.Permits = []model.ScoredPermit{scoredPermit("p1", "abc electrical", 9)}
	in.Contractors["abc electrical"] = resolved("abc electrical", "abcelectrical.com")
	in.Contacts["abcelectrical.com"] = contact("abcelectrical.com")
	in.Verifications["info@abcelectrical.com"] = model.VerificationRecord{
		Email: "info@abcelectrical.com", Status: model.VerifyValid,
	}

	first := Merge(in)
	require.Len(t, first.Records, 1)

	outDir := t.TempDir()
	require.NoError(t, export.WriteLeads(outDir, first.Records, nil))
	require.NoError(t, st.MarkExported(ctx, runID, ExportKeys(first.Records)))

	// Replay: the exported set must swallow the same permit.
	exported, err := st.ExportedSet(ctx, []string{"p1"})
	require.NoError(t, err)
	in.Exported = exported

	second := Merge(in)
	assert.Empty(t, second.Records)
	assert.Equal(t, 1, second.AlreadyExported)
}

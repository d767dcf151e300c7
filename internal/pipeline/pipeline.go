// Package pipeline orchestrates a full run: ingest, normalize, score,
// resolve, mine, verify, merge, export. Stages run sequentially; the
// concurrency lives inside the stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/export"
	"github.com/dark30-ventures/intent-cli/internal/fetcher"
	"github.com/dark30-ventures/intent-cli/internal/miner"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/normalize"
	"github.com/dark30-ventures/intent-cli/internal/resolve"
	"github.com/dark30-ventures/intent-cli/internal/score"
	"github.com/dark30-ventures/intent-cli/internal/source"
	"github.com/dark30-ventures/intent-cli/internal/state"
	"github.com/dark30-ventures/intent-cli/internal/verify"
	"github.com/dark30-ventures/intent-cli/pkg/anthropic"
	"github.com/dark30-ventures/intent-cli/pkg/millionverifier"
	"github.com/dark30-ventures/intent-cli/pkg/rocregistry"
)

// Options are the per-invocation knobs layered on top of config.
type Options struct {
	OutDir        string
	ForceReexport bool
	Timeout       time.Duration // zero means use the configured run timeout
}

// Pipeline wires the stages together around a shared state store.
type Pipeline struct {
	cfg        *config.Config
	store      state.Store
	adapters   []source.Adapter
	normalizer *normalize.Normalizer
	resolver   *resolve.Resolver
	miner      *miner.Miner
	gate       *verify.Gate
	opts       Options
}

// New builds a pipeline from configuration. Optional tiers degrade to
// disabled when their credentials or endpoints are absent.
func New(cfg *config.Config, store state.Store, opts Options) (*Pipeline, error) {
	dispatcher := &fetcher.Dispatcher{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		FTP:  fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
	}
	adapters, err := source.BuildAll(cfg.Sources, dispatcher)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build sources")
	}

	typeMap, err := normalize.LoadTypeMap(cfg.Normal.TypeMapFile)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load type map")
	}

	seeds, err := resolve.LoadSeeds(cfg.Resolver.SeedFile)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load seeds")
	}

	var registry rocregistry.Client
	if cfg.Resolver.RegistryBaseURL != "" {
		registry = rocregistry.NewClient(cfg.Resolver.RegistryBaseURL)
	}
	var enricher *resolve.Enricher
	if cfg.Resolver.AnthropicKey != "" {
		enricher = resolve.NewEnricher(anthropic.NewClient(cfg.Resolver.AnthropicKey), cfg.Resolver.AnthropicModel)
	}

	if opts.OutDir == "" {
		opts.OutDir = cfg.Export.OutDir
	}
	if opts.Timeout == 0 && cfg.Pipeline.RunTimeoutSecs > 0 {
		opts.Timeout = time.Duration(cfg.Pipeline.RunTimeoutSecs) * time.Second
	}

	var verifyOpts []millionverifier.Option
	if cfg.Verify.BaseURL != "" {
		verifyOpts = append(verifyOpts, millionverifier.WithBaseURL(cfg.Verify.BaseURL))
	}

	return &Pipeline{
		cfg:        cfg,
		store:      store,
		adapters:   adapters,
		normalizer: normalize.New(cfg.Normal.LegalSuffixes, typeMap),
		resolver:   resolve.New(cfg.Resolver, seeds, registry, enricher),
		miner:      miner.New(cfg.Miner),
		gate:       verify.New(cfg.Verify, store, millionverifier.NewClient(cfg.Verify.Key, verifyOpts...)),
		opts:       opts,
	}, nil
}

// Run executes one end-to-end pipeline run and returns the QA report.
// A run timeout truncates the remaining network stages but still merges,
// exports and persists whatever completed.
func (p *Pipeline) Run(ctx context.Context) (*model.QAReport, error) {
	started := time.Now()
	runID, err := p.store.CreateRun(ctx, started)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: run started", zap.Int("sources", len(p.adapters)))

	// The deadline governs the network stages only. Persistence and export
	// at the end of the run use the parent context so a truncated run still
	// lands its partial results.
	runCtx := ctx
	cancel := func() {}
	if p.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
	}
	defer cancel()

	report := &model.QAReport{RunID: runID, StartedAt: started}

	stage := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		if err != nil {
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Duration("took", time.Since(start)), zap.Error(err))
			return err
		}
		log.Info("pipeline: stage complete", zap.String("stage", name), zap.Duration("took", time.Since(start)))
		return nil
	}
	truncated := func() bool {
		if runCtx.Err() != nil && ctx.Err() == nil {
			report.Truncated = true
			return true
		}
		return false
	}

	// Ingest. Source failures are isolated; one broken portal never takes
	// the run down.
	var raw []model.RawPermitRow
	_ = stage("ingest", func() error {
		raw = p.ingest(runCtx, report)
		return nil
	})
	report.Counts.Ingested = len(raw)

	var permits []model.NormalizedPermit
	_ = stage("normalize", func() error {
		var defects []model.Defect
		permits, defects = p.normalizer.Run(raw)
		report.Defects = append(report.Defects, defects...)
		return nil
	})
	report.Counts.Normalized = len(permits)

	var scored []model.ScoredPermit
	_ = stage("score", func() error {
		scored = score.New(p.cfg.Scoring, started).Run(permits)
		return nil
	})
	report.Counts.Scored = len(scored)

	// Only permits at or above the warm threshold spend downstream quota.
	var queued []model.ScoredPermit
	for _, sp := range scored {
		if sp.Score >= p.cfg.Scoring.ThresholdWarm {
			queued = append(queued, sp)
		}
	}
	report.Counts.Queued = len(queued)

	queuedPermits := make([]model.NormalizedPermit, 0, len(queued))
	names := make([]string, 0, len(queued))
	seen := make(map[string]bool, len(queued))
	for _, sp := range queued {
		queuedPermits = append(queuedPermits, sp.NormalizedPermit)
		if !seen[sp.ContractorNorm] {
			seen[sp.ContractorNorm] = true
			names = append(names, sp.ContractorNorm)
		}
	}

	contractors := map[string]model.ContractorRecord{}
	if !truncated() && len(queuedPermits) > 0 {
		if err := stage("resolve", func() error {
			existing, err := p.store.GetContractors(runCtx, names)
			if err != nil {
				return err
			}
			contractors = p.resolver.Run(runCtx, queuedPermits, existing)
			return p.store.PutContractors(ctx, contractors)
		}); err != nil {
			return nil, eris.Wrap(err, "pipeline: resolve")
		}
	}
	for _, name := range names {
		if contractors[name].Resolved() {
			report.Counts.Resolved++
		} else {
			report.Counts.Unresolved++
			report.Defects = append(report.Defects, model.Defect{
				Stage:  "resolve",
				Reason: model.DefectUnresolvedDomain,
				Detail: name,
			})
		}
	}

	var domains []string
	for _, name := range names {
		if rec := contractors[name]; rec.Resolved() {
			domains = append(domains, rec.Domain)
		}
	}

	contacts := map[string]model.ContactCandidate{}
	if !truncated() && len(domains) > 0 {
		_ = stage("mine", func() error {
			contacts = p.miner.Run(runCtx, domains)
			return nil
		})
	}
	report.Counts.Contacted = len(contacts)
	noContact := map[string]struct{}{}
	for _, domain := range domains {
		if _, ok := contacts[domain]; ok {
			continue
		}
		if _, dup := noContact[domain]; dup {
			continue
		}
		noContact[domain] = struct{}{}
		report.Defects = append(report.Defects, model.Defect{
			Stage:  "mine",
			Reason: model.DefectNoContact,
			Detail: domain,
		})
	}

	emails := make([]string, 0, len(contacts))
	for _, c := range contacts {
		emails = append(emails, c.Email)
	}

	verifications := map[string]model.VerificationRecord{}
	if !truncated() && len(emails) > 0 {
		var res *verify.Result
		if err := stage("verify", func() error {
			var err error
			res, err = p.gate.Run(runCtx, runID, emails)
			return err
		}); err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return nil, eris.Wrap(err, "pipeline: verify")
			}
			report.Truncated = true
		}
		if res != nil {
			verifications = res.Records
			report.BudgetExhausted = res.BudgetExhausted
			report.BudgetRemaining = p.cfg.Verify.BudgetPerRun - res.APICalls
		}
	}
	for _, rec := range verifications {
		if rec.Status != model.VerifyUnknown {
			report.Counts.Verified++
		}
		if rec.Status == model.VerifyValid {
			report.Counts.VerifiedValid++
		}
	}

	// Merge and export run on the parent context: a deadline on the network
	// stages must not lose the work already done.
	keys := make([]string, 0, len(queued))
	for _, sp := range queued {
		keys = append(keys, sp.PermitKey)
	}
	exported, err := p.store.ExportedSet(ctx, keys)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: exported set")
	}

	merged := Merge(MergeInput{
		Permits:       queued,
		Contractors:   contractors,
		Contacts:      contacts,
		Verifications: verifications,
		Exported:      exported,
		ForceReexport: p.opts.ForceReexport,
		ThresholdHot:  p.cfg.Scoring.ThresholdHot,
		ThresholdWarm: p.cfg.Scoring.ThresholdWarm,
	})
	report.Counts.AlreadyExported = merged.AlreadyExported
	report.Counts.Unverified = merged.Unverified
	report.Counts.CatchallReview = len(merged.Catchall)
	for _, r := range merged.Records {
		if r.Tier == model.TierHot {
			report.Counts.ExportedHot++
		} else {
			report.Counts.ExportedWarm++
		}
	}

	if report.Counts.Verified > 0 {
		report.ValidEmailRate = float64(report.Counts.VerifiedValid) / float64(report.Counts.Verified)
	}
	if len(names) > 0 {
		report.DomainResolution = float64(report.Counts.Resolved) / float64(len(names))
	}

	report.Gate = export.EvaluateGates(p.cfg.Scoring.Gates, export.GateInput{
		Scored:           report.Counts.Scored,
		DistinctDomains:  len(names),
		ResolvedDomains:  report.Counts.Resolved,
		VerifiedTotal:    report.Counts.Verified,
		VerifiedValid:    report.Counts.VerifiedValid,
		ExportCandidates: len(merged.Records) + len(merged.Catchall),
	})

	if report.Gate.Halt {
		log.Error("pipeline: halted before export", zap.Strings("failures", report.Gate.Failures))
	} else {
		if err := stage("export", func() error {
			if err := export.WriteLeads(p.opts.OutDir, merged.Records, merged.Catchall); err != nil {
				return err
			}
			// Mark only after the CSVs are on disk. A crash in between
			// re-exports next run, which beats silently losing leads.
			return p.store.MarkExported(ctx, runID, ExportKeys(merged.Records))
		}); err != nil {
			return nil, eris.Wrap(err, "pipeline: export")
		}
	}

	report.FinishedAt = time.Now()
	if err := export.WriteReport(p.opts.OutDir, report); err != nil {
		return nil, eris.Wrap(err, "pipeline: write report")
	}
	if err := p.store.FinishRun(ctx, runID, report); err != nil {
		return nil, eris.Wrap(err, "pipeline: finish run")
	}

	log.Info("pipeline: run finished",
		zap.Int("hot", report.Counts.ExportedHot),
		zap.Int("warm", report.Counts.ExportedWarm),
		zap.Int("catchall_review", report.Counts.CatchallReview),
		zap.Bool("halted", report.Gate.Halt),
		zap.Bool("truncated", report.Truncated),
		zap.Duration("took", report.FinishedAt.Sub(started)),
	)
	return report, nil
}

// ingest fetches every enabled source sequentially, isolating failures and
// updating per-source health. Quarantined sources are still fetched so they
// can recover on their own; the flag is an operator alert.
func (p *Pipeline) ingest(ctx context.Context, report *model.QAReport) []model.RawPermitRow {
	var all []model.RawPermitRow
	for _, a := range p.adapters {
		status := model.SourceStatus{SourceID: a.ID()}

		var since time.Time
		if health, err := p.store.SourceState(ctx, a.ID()); err == nil && health != nil {
			since = health.LastSuccess
		}

		rows, err := a.FetchSince(ctx, since)
		if err != nil {
			status.Error = err.Error()
			report.Defects = append(report.Defects, model.Defect{
				Stage:    "ingest",
				SourceID: a.ID(),
				Reason:   model.DefectSourceFetch,
				Detail:   err.Error(),
			})
			zap.L().Warn("pipeline: source fetch failed", zap.String("source", a.ID()), zap.Error(err))
		}
		status.Rows = len(rows)
		all = append(all, rows...)

		health, recErr := p.store.RecordSourceResult(ctx, a.ID(), len(rows), err, time.Now())
		if recErr != nil {
			zap.L().Warn("pipeline: record source health", zap.String("source", a.ID()), zap.Error(recErr))
		} else if health != nil {
			status.ConsecutiveZero = health.ConsecutiveZero
			if p.cfg.Scoring.Gates.MaxZeroRuns > 0 && health.ConsecutiveZero >= p.cfg.Scoring.Gates.MaxZeroRuns {
				status.Quarantined = true
				zap.L().Error(fmt.Sprintf(
					"pipeline: source %q returned zero rows for %d consecutive runs, check whether the portal changed",
					a.ID(), health.ConsecutiveZero))
			}
		}
		report.Sources = append(report.Sources, status)
	}
	return all
}

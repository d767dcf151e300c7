// Package verify decides deliverability of mined contact emails while
// respecting the paid provider's per-run and per-month call budgets.
package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/resilience"
	"github.com/dark30-ventures/intent-cli/internal/state"
	"github.com/dark30-ventures/intent-cli/pkg/millionverifier"
)

// Result is the outcome of gating one run's candidates.
type Result struct {
	Records         map[string]model.VerificationRecord
	APICalls        int
	BudgetExhausted bool
}

// Gate runs verification. The store is the single serialization point for
// budget spends and cache writes; workers never hold local budget state.
type Gate struct {
	cfg    config.VerifyConfig
	store  state.Store
	client millionverifier.Client
	now    func() time.Time

	mu        sync.Mutex
	calls     int
	exhausted bool
}

// New builds a gate.
func New(cfg config.VerifyConfig, store state.Store, client millionverifier.Client) *Gate {
	return &Gate{cfg: cfg, store: store, client: client, now: time.Now}
}

// Run verifies every email with a bounded worker pool and returns one
// record per email. Provider trouble degrades a record to unknown; it
// never fails the run.
func (g *Gate) Run(ctx context.Context, runID string, emails []string) (*Result, error) {
	distinct := dedupe(emails)

	workers := g.cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	records := make(map[string]model.VerificationRecord, len(distinct))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, email := range distinct {
		eg.Go(func() error {
			rec, err := g.Check(gctx, runID, email)
			if err != nil {
				return err
			}
			mu.Lock()
			records[email] = rec
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	res := &Result{Records: records, APICalls: g.calls, BudgetExhausted: g.exhausted}
	g.mu.Unlock()

	zap.L().Info("verify: gate complete",
		zap.Int("emails", len(distinct)),
		zap.Int("api_calls", res.APICalls),
		zap.Bool("budget_exhausted", res.BudgetExhausted),
	)
	return res, nil
}

// Check gates one email. Only persistence failures are returned as errors;
// everything the provider can do wrong becomes an unknown record.
func (g *Gate) Check(ctx context.Context, runID, email string) (model.VerificationRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	cached, err := g.store.GetVerification(ctx, email)
	if err != nil {
		return model.VerificationRecord{}, err
	}
	if cached != nil {
		if cached.Status.Terminal() {
			return *cached, nil
		}
		cooldown := time.Duration(g.cfg.RecheckDays) * 24 * time.Hour
		if g.now().Sub(cached.CheckedAt) < cooldown {
			return *cached, nil
		}
		// risky/unknown past the cooldown earns one re-check below.
	}

	ok, err := g.store.SpendBudget(ctx, g.budgetWindows(runID)...)
	if err != nil {
		return model.VerificationRecord{}, err
	}
	if !ok {
		g.mu.Lock()
		g.exhausted = true
		g.mu.Unlock()
		zap.L().Warn("verify: budget exhausted", zap.String("email", email))
		if cached != nil {
			return *cached, nil
		}
		// No spend happened, so nothing is cached; the unknown verdict is
		// for this run only and the email stays eligible next run.
		return model.VerificationRecord{Email: email, Status: model.VerifyUnknown, CheckedAt: g.now().UTC()}, nil
	}

	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	rec := g.callProvider(ctx, email)
	if err := g.store.PutVerification(ctx, rec); err != nil {
		return model.VerificationRecord{}, err
	}
	return rec, nil
}

// callProvider performs the API call with bounded retries on transient
// failures. An unreachable verifier yields unknown, never invalid.
func (g *Gate) callProvider(ctx context.Context, email string) model.VerificationRecord {
	retryCfg := resilience.DefaultRetryConfig()
	if g.cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = g.cfg.MaxAttempts
	}
	retryCfg.InitialBackoff = 1 * time.Second
	retryCfg.MaxBackoff = 15 * time.Second
	retryCfg.OnRetry = resilience.RetryLogger("millionverifier", "verify")

	result, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*millionverifier.Result, error) {
		return g.client.Verify(ctx, email)
	})

	rec := model.VerificationRecord{Email: email, CheckedAt: g.now().UTC()}
	if err != nil {
		zap.L().Warn("verify: provider unreachable, recording unknown",
			zap.String("email", email),
			zap.Error(err),
		)
		rec.Status = model.VerifyUnknown
		return rec
	}

	rec.Status = model.VerificationStatus(millionverifier.StatusFromResult(result.ResultText))
	rec.RawResponse = result.Raw
	return rec
}

func (g *Gate) budgetWindows(runID string) []state.BudgetWindow {
	windows := []state.BudgetWindow{
		{Key: "run:" + runID, Limit: g.cfg.BudgetPerRun},
	}
	if g.cfg.BudgetPerMonth > 0 {
		windows = append(windows, state.BudgetWindow{
			Key:   fmt.Sprintf("month:%s", g.now().UTC().Format("2006-01")),
			Limit: g.cfg.BudgetPerMonth,
		})
	}
	return windows
}

func dedupe(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	var out []string
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

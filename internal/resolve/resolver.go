// Package resolve maps normalized contractor names to company domains
// through a tiered lookup chain: exact seed, fuzzy seed, licensing
// registry, then model-based enrichment for whatever is left.
package resolve

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/resilience"
	"github.com/dark30-ventures/intent-cli/pkg/rocregistry"
)

// Tier confidence levels. Fuzzy matches carry their achieved similarity,
// always below an exact seed hit.
const (
	confSeedExact = 1.0
	confRegistry  = 0.8
	confClaude    = 0.6
)

// Resolver runs the lookup chain. Registry lookups are the only network
// tier here and are rate limited and bounded.
type Resolver struct {
	cfg      config.ResolverConfig
	seeds    *Seeds
	registry rocregistry.Client
	enricher *Enricher
	limiter  *rate.Limiter
}

// New builds a resolver. registry and enricher may be nil; their tiers are
// skipped.
func New(cfg config.ResolverConfig, seeds *Seeds, registry rocregistry.Client, enricher *Enricher) *Resolver {
	rps := cfg.RegistryRPS
	if rps <= 0 {
		rps = 1
	}
	return &Resolver{
		cfg:      cfg,
		seeds:    seeds,
		registry: registry,
		enricher: enricher,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Run resolves every distinct contractor in the batch, starting from the
// records persisted by earlier runs. A record already resolved with higher
// confidence is left alone.
func (r *Resolver) Run(ctx context.Context, permits []model.NormalizedPermit, existing map[string]model.ContractorRecord) map[string]model.ContractorRecord {
	records := make(map[string]model.ContractorRecord, len(existing))
	for name, rec := range existing {
		records[name] = rec
	}

	targets := distinctContractors(permits)
	for _, t := range targets {
		rec, ok := records[t.Name]
		if !ok {
			rec = model.ContractorRecord{NameNormalized: t.Name, Method: model.ResolutionUnresolved}
		}
		if domain, hit := r.seeds.Exact(t.Name); hit {
			rec.Upgrade(domain, model.ResolutionSeed, confSeedExact)
		} else if domain, sim, hit := r.seeds.Fuzzy(t.Name, r.cfg.SimilarityCutoff); hit {
			if sim > 0.99 {
				sim = 0.99
			}
			rec.Upgrade(domain, model.ResolutionSeedFuzzy, sim)
		}
		records[t.Name] = rec
	}

	r.registryPass(ctx, targets, records)
	r.enrichPass(ctx, targets, records)

	resolved := 0
	for _, t := range targets {
		if records[t.Name].Resolved() {
			resolved++
		}
	}
	zap.L().Info("resolve: batch complete",
		zap.Int("contractors", len(targets)),
		zap.Int("resolved", resolved),
	)
	return records
}

// registryPass runs the licensing-registry tier over still-unresolved names
// with a bounded worker pool. A registry failure leaves the contractor
// unresolved; it never aborts the batch.
func (r *Resolver) registryPass(ctx context.Context, targets []EnrichTarget, records map[string]model.ContractorRecord) {
	if r.registry == nil {
		return
	}
	var pending []EnrichTarget
	for _, t := range targets {
		if !records[t.Name].Resolved() {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return
	}

	workers := r.cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, t := range pending {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return nil
			}
			domain, err := r.lookupRegistry(gctx, t.Name)
			if err != nil {
				zap.L().Debug("resolve: registry miss",
					zap.String("contractor", t.Name),
					zap.Error(err),
				)
				return nil
			}
			if domain == "" {
				return nil
			}
			mu.Lock()
			rec := records[t.Name]
			rec.Upgrade(domain, model.ResolutionRegistry, confRegistry)
			records[t.Name] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Resolver) lookupRegistry(ctx context.Context, name string) (string, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("rocregistry", "search")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		hits, err := r.registry.SearchByName(ctx, name)
		if err != nil {
			return "", err
		}
		for _, hit := range hits {
			if !strings.EqualFold(hit.Status, "active") {
				continue
			}
			if d := domainFromURL(hit.Website); d != "" {
				return d, nil
			}
		}
		return "", nil
	})
}

// enrichPass hands whatever the seed and registry tiers missed to the
// model tier.
func (r *Resolver) enrichPass(ctx context.Context, targets []EnrichTarget, records map[string]model.ContractorRecord) {
	if !r.enricher.Enabled() {
		return
	}
	var pending []EnrichTarget
	for _, t := range targets {
		if !records[t.Name].Resolved() {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return
	}

	for name, domain := range r.enricher.Resolve(ctx, pending) {
		rec, ok := records[name]
		if !ok {
			continue
		}
		rec.Upgrade(domain, model.ResolutionClaude, confClaude)
		records[name] = rec
	}
}

// distinctContractors returns one target per normalized name, sorted for
// reproducible tier ordering, carrying a city/state sample for the
// enrichment prompt.
func distinctContractors(permits []model.NormalizedPermit) []EnrichTarget {
	seen := make(map[string]EnrichTarget)
	for _, p := range permits {
		if p.ContractorNorm == "" {
			continue
		}
		if _, ok := seen[p.ContractorNorm]; !ok {
			seen[p.ContractorNorm] = EnrichTarget{Name: p.ContractorNorm, City: p.City, State: p.State}
		}
	}
	out := make([]EnrichTarget, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// domainFromURL extracts a bare registrable-looking domain from a website
// URL or raw host string.
func domainFromURL(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

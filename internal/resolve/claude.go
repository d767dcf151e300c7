package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/pkg/anthropic"
)

const enrichBatchSize = 20

// enrichSystemPrompt keeps the model honest: it must only return domains it
// is confident about and must never invent one.
const enrichSystemPrompt = `You are a business research assistant. For each contractor you are given, return their most likely website domain.

Rules:
- Return ONLY a JSON object mapping the exact company name (as given) to its domain
- Domain format: just the domain, no https:// or www (e.g. "beckgroup.com")
- If you are not confident about a company, use null
- Do not guess or hallucinate domains - only return domains you are reasonably confident about
- These are construction, electrical, and mechanical contractors`

// EnrichTarget is one unresolved contractor passed to the model. City and
// state narrow down common names.
type EnrichTarget struct {
	Name  string
	City  string
	State string
}

// Enricher resolves leftover contractor names through a language model.
// It is the lowest-confidence tier and only sees names every other tier
// already missed.
type Enricher struct {
	client anthropic.Client
	model  string
}

// NewEnricher builds an enricher. A nil client disables the tier.
func NewEnricher(client anthropic.Client, model string) *Enricher {
	return &Enricher{client: client, model: model}
}

// Enabled reports whether the tier has a client to call.
func (e *Enricher) Enabled() bool { return e != nil && e.client != nil }

// Resolve queries the model in fixed-size batches and returns a name to
// domain map. Failed batches are logged and skipped; enrichment is best
// effort on top of an already-working resolver.
func (e *Enricher) Resolve(ctx context.Context, targets []EnrichTarget) map[string]string {
	out := make(map[string]string)
	if !e.Enabled() || len(targets) == 0 {
		return out
	}

	for start := 0; start < len(targets); start += enrichBatchSize {
		end := start + enrichBatchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]

		resolved, err := e.resolveBatch(ctx, batch)
		if err != nil {
			zap.L().Warn("resolve: enrichment batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			continue
		}
		for name, domain := range resolved {
			out[name] = domain
		}
	}

	zap.L().Info("resolve: enrichment complete",
		zap.Int("targets", len(targets)),
		zap.Int("resolved", len(out)),
	)
	return out
}

func (e *Enricher) resolveBatch(ctx context.Context, batch []EnrichTarget) (map[string]string, error) {
	var b strings.Builder
	b.WriteString("Companies:\n")
	for i, t := range batch {
		fmt.Fprintf(&b, "%d. %s (%s, %s)\n", i+1, t.Name, t.City, t.State)
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 1024,
		System:    enrichSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(e.model, "domain-enrichment")

	parsed, err := parseEnrichResponse(resp.Text())
	if err != nil {
		return nil, err
	}

	// Only keep answers for names we actually asked about.
	asked := make(map[string]struct{}, len(batch))
	for _, t := range batch {
		asked[strings.ToLower(t.Name)] = struct{}{}
	}
	out := make(map[string]string)
	for name, domain := range parsed {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := asked[key]; ok && domain != "" {
			out[key] = domain
		}
	}
	return out, nil
}

// parseEnrichResponse pulls the JSON object out of the model's reply,
// tolerating prose or code fences around it.
func parseEnrichResponse(text string) (map[string]string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("resolve: no JSON object in enrichment reply")
	}

	var raw map[string]*string
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "resolve: parse enrichment reply")
	}

	out := make(map[string]string, len(raw))
	for name, domain := range raw {
		if domain == nil {
			continue
		}
		d := strings.ToLower(strings.TrimSpace(*domain))
		d = strings.TrimPrefix(d, "https://")
		d = strings.TrimPrefix(d, "http://")
		d = strings.TrimPrefix(d, "www.")
		d = strings.TrimSuffix(d, "/")
		if d == "" || !strings.Contains(d, ".") {
			continue
		}
		out[name] = d
	}
	return out, nil
}

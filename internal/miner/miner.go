// Package miner discovers a contact email for a resolved contractor
// domain. It walks a handful of conventional pages, scrapes addresses out
// of the HTML, and falls back to a role-inbox guess when the site gives
// nothing away.
package miner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/resilience"
)

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// personLocalRe matches mailbox locals shaped like a person's name
// (first.last, f.last, first_last).
var personLocalRe = regexp.MustCompile(`^[a-z]+[._][a-z]+$`)

// linkKeywords marks on-site links worth following past the conventional
// paths.
var linkKeywords = []string{"contact", "about", "team", "staff", "people", "leadership"}

// Miner crawls contractor sites. Each domain is fetched by exactly one
// worker at a time and at most once per run.
type Miner struct {
	cfg  config.MinerConfig
	http *http.Client

	mu    sync.Mutex
	cache map[string]*model.ContactCandidate // nil entry = mined, nothing found
}

// New builds a miner with its own bounded-timeout HTTP client.
func New(cfg config.MinerConfig) *Miner {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Miner{
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		cache: make(map[string]*model.ContactCandidate),
	}
}

// Run mines every distinct domain with a bounded worker pool and returns
// the best candidate per domain. Domains that yield nothing are absent
// from the result.
func (m *Miner) Run(ctx context.Context, domains []string) map[string]model.ContactCandidate {
	distinct := dedupeSorted(domains)

	workers := m.cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, domain := range distinct {
		g.Go(func() error {
			m.Mine(gctx, domain)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]model.ContactCandidate)
	m.mu.Lock()
	for _, domain := range distinct {
		if c := m.cache[domain]; c != nil {
			out[domain] = *c
		}
	}
	m.mu.Unlock()

	zap.L().Info("miner: run complete",
		zap.Int("domains", len(distinct)),
		zap.Int("with_contact", len(out)),
	)
	return out
}

// Mine returns the cached candidate for a domain, crawling it on first
// call. Nil means the domain was mined and nothing usable was found.
func (m *Miner) Mine(ctx context.Context, domain string) *model.ContactCandidate {
	m.mu.Lock()
	if c, done := m.cache[domain]; done {
		m.mu.Unlock()
		return c
	}
	m.mu.Unlock()

	c := m.mineDomain(ctx, domain)

	m.mu.Lock()
	m.cache[domain] = c
	m.mu.Unlock()
	return c
}

func (m *Miner) mineDomain(ctx context.Context, domain string) *model.ContactCandidate {
	queue := make([]string, 0, len(m.cfg.Paths)+4)
	for _, p := range m.cfg.Paths {
		queue = append(queue, fmt.Sprintf("https://%s%s", domain, p))
	}

	visited := make(map[string]struct{})
	found := make(map[string]string) // email -> page url
	fetched := 0

	for len(queue) > 0 && fetched < m.cfg.MaxPages {
		pageURL := queue[0]
		queue = queue[1:]
		if _, seen := visited[pageURL]; seen {
			continue
		}
		visited[pageURL] = struct{}{}

		if fetched > 0 && m.cfg.PerDomainDelay > 0 {
			select {
			case <-ctx.Done():
				return m.fallback(domain, found)
			case <-time.After(time.Duration(m.cfg.PerDomainDelay * float64(time.Second))):
			}
		}

		body, err := m.fetchPage(ctx, pageURL)
		fetched++
		if err != nil {
			zap.L().Debug("miner: page fetch failed",
				zap.String("url", pageURL),
				zap.Error(err),
			)
			continue
		}

		for _, email := range extractEmails(body, domain) {
			if _, dup := found[email]; !dup {
				found[email] = pageURL
			}
		}
		for _, link := range contactLinks(body, pageURL, domain) {
			if _, seen := visited[link]; !seen {
				queue = append(queue, link)
			}
		}
	}

	return m.fallback(domain, found)
}

// fallback picks the best scraped email, or synthesizes a role-inbox guess
// when scraping came up empty.
func (m *Miner) fallback(domain string, found map[string]string) *model.ContactCandidate {
	if email, page, ok := pickBest(found, m.cfg.RoleAliases); ok {
		return &model.ContactCandidate{
			Domain:        domain,
			Email:         email,
			Method:        model.DiscoveryPageScrape,
			SourcePageURL: page,
		}
	}
	if len(m.cfg.RoleAliases) == 0 {
		return nil
	}
	return &model.ContactCandidate{
		Domain: domain,
		Email:  fmt.Sprintf("%s@%s", m.cfg.RoleAliases[0], domain),
		Method: model.DiscoveryPatternGuess,
	}
}

// fetchPage fetches one page. Connection-level failures get one retry with
// backoff; any 4xx is terminal.
func (m *Miner) fetchPage(ctx context.Context, pageURL string) (string, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = 500 * time.Millisecond
	cfg.MaxBackoff = 2 * time.Second
	cfg.OnRetry = resilience.RetryLogger("miner", "fetch page")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return "", eris.Wrapf(err, "miner: build request %s", pageURL)
		}
		req.Header.Set("User-Agent", m.cfg.UserAgent)

		resp, err := m.http.Do(req)
		if err != nil {
			return "", resilience.NewTransientError(eris.Wrapf(err, "miner: fetch %s", pageURL), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(eris.Errorf("miner: status %d for %s", resp.StatusCode, pageURL), resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return "", eris.Errorf("miner: status %d for %s", resp.StatusCode, pageURL)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		if err != nil {
			return "", eris.Wrapf(err, "miner: read %s", pageURL)
		}
		return string(body), nil
	})
}

// extractEmails pulls addresses on the contractor's own domain out of page
// text, lowercased and deduplicated.
func extractEmails(body, domain string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range emailRe.FindAllString(body, -1) {
		email := strings.ToLower(strings.TrimSuffix(raw, "."))
		at := strings.LastIndex(email, "@")
		host := email[at+1:]
		if host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}

// contactLinks returns same-site links whose path looks contact-flavored.
func contactLinks(body, baseURL, domain string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, err := base.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		if u.Hostname() != domain && !strings.HasSuffix(u.Hostname(), "."+domain) {
			return
		}
		path := strings.ToLower(u.Path)
		for _, kw := range linkKeywords {
			if strings.Contains(path, kw) {
				u.Fragment = ""
				out = append(out, u.String())
				return
			}
		}
	})
	return out
}

// pickBest chooses one address: a configured role inbox first (in alias
// order), then a person-shaped mailbox, then whatever is left,
// alphabetically for determinism.
func pickBest(found map[string]string, roleAliases []string) (email, page string, ok bool) {
	if len(found) == 0 {
		return "", "", false
	}
	emails := make([]string, 0, len(found))
	for e := range found {
		emails = append(emails, e)
	}
	sort.Strings(emails)

	for _, alias := range roleAliases {
		for _, e := range emails {
			if strings.HasPrefix(e, alias+"@") {
				return e, found[e], true
			}
		}
	}
	for _, e := range emails {
		if personLocalRe.MatchString(e[:strings.Index(e, "@")]) {
			return e, found[e], true
		}
	}
	return emails[0], found[emails[0]], true
}

func dedupeSorted(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	var out []string
	for _, d := range domains {
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

package miner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
)

// rewriteTransport sends every request to the test server regardless of the
// domain being mined.
type rewriteTransport struct {
	host string
}

func (t rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Host = r.URL.Host
	r.URL.Scheme = "http"
	r.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(r)
}

func testMiner(srv *httptest.Server) *Miner {
	m := New(config.MinerConfig{
		Paths:       []string{"/", "/contact"},
		RoleAliases: []string{"info", "sales", "estimating"},
		TimeoutSecs: 5,
		MaxPages:    6,
		UserAgent:   "IntentLeadBot/1.0",
		Concurrency: 2,
	})
	m.http.Transport = rewriteTransport{host: srv.Listener.Addr().String()}
	return m
}

func TestMineScrapesRoleInbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contact":
			_, _ = w.Write([]byte(`<html><body>Reach us at info@abcelectrical.com or thirdparty@gmail.com</body></html>`))
		default:
			_, _ = w.Write([]byte(`<html><body>welcome</body></html>`))
		}
	}))
	defer srv.Close()

	c := testMiner(srv).Mine(context.Background(), "abcelectrical.com")
	require.NotNil(t, c)
	assert.Equal(t, "info@abcelectrical.com", c.Email)
	assert.Equal(t, model.DiscoveryPageScrape, c.Method)
	assert.Equal(t, "https://abcelectrical.com/contact", c.SourcePageURL)
}

func TestMineFollowsContactLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`<html><body><a href="/our-team">Team</a> <a href="https://facebook.com/x">fb</a></body></html>`))
		case "/our-team":
			_, _ = w.Write([]byte(`<html><body>jane.doe@lonestarbuilders.com</body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := testMiner(srv).Mine(context.Background(), "lonestarbuilders.com")
	require.NotNil(t, c)
	assert.Equal(t, "jane.doe@lonestarbuilders.com", c.Email)
	assert.Equal(t, model.DiscoveryPageScrape, c.Method)
}

func TestMineFallsBackToPatternGuess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testMiner(srv).Mine(context.Background(), "silent.example.com")
	require.NotNil(t, c)
	assert.Equal(t, "info@silent.example.com", c.Email)
	assert.Equal(t, model.DiscoveryPatternGuess, c.Method)
	assert.Empty(t, c.SourcePageURL)
}

func TestMineCachesPerDomain(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`<html><body>sales@abcelectrical.com</body></html>`))
	}))
	defer srv.Close()

	m := testMiner(srv)
	first := m.Mine(context.Background(), "abcelectrical.com")
	after := hits.Load()
	second := m.Mine(context.Background(), "abcelectrical.com")

	assert.Equal(t, first, second)
	assert.Equal(t, after, hits.Load())
}

func TestMineRespectsMaxPages(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// Every page links to two more contact-flavored pages.
		_, _ = w.Write([]byte(`<html><body>
			<a href="` + r.URL.Path + `contact-a/">a</a>
			<a href="` + r.URL.Path + `contact-b/">b</a>
		</body></html>`))
	}))
	defer srv.Close()

	m := testMiner(srv)
	m.Mine(context.Background(), "deep.example.com")
	assert.LessOrEqual(t, hits.Load(), int64(6))
}

func TestRunMinesDistinctDomains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>info@` + r.Host + `</body></html>`))
	}))
	defer srv.Close()

	m := testMiner(srv)
	out := m.Run(context.Background(), []string{"a.example.com", "b.example.com", "a.example.com", ""})
	require.Len(t, out, 2)
	assert.Equal(t, "info@a.example.com", out["a.example.com"].Email)
	assert.Equal(t, "info@b.example.com", out["b.example.com"].Email)
}

func TestExtractEmailsFiltersForeignDomains(t *testing.T) {
	body := `Contact Info@ABCElectrical.com, webmaster@wixsite.com, or jobs.dept@hr.abcelectrical.com.`
	emails := extractEmails(body, "abcelectrical.com")
	assert.Equal(t, []string{"info@abcelectrical.com", "jobs.dept@hr.abcelectrical.com"}, emails)
}

func TestPickBestPrefersRoleThenPerson(t *testing.T) {
	found := map[string]string{
		"zz@x.com":         "p1",
		"jane.doe@x.com":   "p2",
		"estimating@x.com": "p3",
	}
	email, page, ok := pickBest(found, []string{"info", "estimating"})
	require.True(t, ok)
	assert.Equal(t, "estimating@x.com", email)
	assert.Equal(t, "p3", page)

	delete(found, "estimating@x.com")
	email, _, ok = pickBest(found, []string{"info"})
	require.True(t, ok)
	assert.Equal(t, "jane.doe@x.com", email)

	delete(found, "jane.doe@x.com")
	email, _, ok = pickBest(found, nil)
	require.True(t, ok)
	assert.Equal(t, "zz@x.com", email)
}

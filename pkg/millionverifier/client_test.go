package millionverifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dark30-ventures/intent-cli/internal/resilience"
)

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.URL.Query().Get("api"))
		assert.Equal(t, "info@abcelectrical.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"email":"info@abcelectrical.com","quality":"good","result":"ok","resultcode":1,"free":false,"role":true,"credits":4182}`))
	}))
	defer srv.Close()

	c := NewClient("key-123", WithBaseURL(srv.URL))
	res, err := c.Verify(context.Background(), "info@abcelectrical.com")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.ResultText)
	assert.Equal(t, 4182, res.Credits)
	assert.True(t, res.Role)
	assert.Contains(t, string(res.Raw), `"result":"ok"`)
}

func TestVerifyAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"api key invalid"}`))
	}))
	defer srv.Close()

	c := NewClient("bad", WithBaseURL(srv.URL))
	_, err := c.Verify(context.Background(), "x@y.com")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestVerifyTransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	_, err := c.Verify(context.Background(), "x@y.com")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/credits", r.URL.Path)
		_, _ = w.Write([]byte(`{"credits":1999}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithBaseURL(srv.URL))
	n, err := c.Credits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1999, n)
}

func TestStatusFromResult(t *testing.T) {
	cases := map[string]string{
		"ok":          "valid",
		"OK":          "valid",
		"deliverable": "valid",
		"invalid":     "invalid",
		"bad":         "invalid",
		"catch_all":   "risky",
		"catchall":    "risky",
		"disposable":  "unknown",
		"":            "unknown",
		"timeout":     "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, StatusFromResult(in), "result %q", in)
	}
}

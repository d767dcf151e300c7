package rocregistry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dark30-ventures/intent-cli/internal/resilience"
)

func TestSearchByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/contractors/search", r.URL.Path)
		assert.Equal(t, "abc electrical", r.URL.Query().Get("name"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{"results":[
			{"business_name":"ABC Electrical Inc","license_number":"ROC-331208","status":"active","website":"https://abcelectrical.com","city":"Phoenix","state":"AZ"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	hits, err := c.SearchByName(context.Background(), "abc electrical")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ABC Electrical Inc", hits[0].BusinessName)
	assert.Equal(t, "https://abcelectrical.com", hits[0].Website)
}

func TestSearchByNameEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	hits, err := NewClient(srv.URL).SearchByName(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchByNameTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SearchByName(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestSearchByNameHardFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SearchByName(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/pkg/anthropic"
	"github.com/dark30-ventures/intent-cli/pkg/rocregistry"
)

func writeSeeds(t *testing.T, rows string) *Seeds {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(path, []byte(rows), 0o644))
	s, err := LoadSeeds(path)
	require.NoError(t, err)
	return s
}

type fakeRegistry struct {
	hits  map[string][]rocregistry.License
	calls []string
}

func (f *fakeRegistry) SearchByName(_ context.Context, name string) ([]rocregistry.License, error) {
	f.calls = append(f.calls, name)
	return f.hits[name], nil
}

type fakeModel struct {
	reply string
}

func (f *fakeModel) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: f.reply}}}, nil
}

func testResolverConfig() config.ResolverConfig {
	return config.ResolverConfig{
		SimilarityCutoff: 0.85,
		RegistryRPS:      100,
		Concurrency:      2,
	}
}

func permitFor(name string) model.NormalizedPermit {
	return model.NormalizedPermit{ContractorNorm: name, City: "Phoenix", State: "AZ"}
}

func TestLoadSeedsSkipsHeaderAndDuplicates(t *testing.T) {
	s := writeSeeds(t, "contractor_name_normalized,contractor_domain\n"+
		"abc electrical,abcelectrical.com\n"+
		"abc electrical,other.com\n"+
		"desert plumbing,desertplumbing.com\n")
	assert.Equal(t, 2, s.Len())
	d, ok := s.Exact("abc electrical")
	require.True(t, ok)
	assert.Equal(t, "abcelectrical.com", d)
}

func TestLoadSeedsMissingFileIsAnError(t *testing.T) {
	_, err := LoadSeeds(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "open seed file")
}

func TestSeedExactTier(t *testing.T) {
	s := writeSeeds(t, "abc electrical,abcelectrical.com\n")
	r := New(testResolverConfig(), s, nil, nil)

	records := r.Run(context.Background(), []model.NormalizedPermit{permitFor("abc electrical")}, nil)
	rec := records["abc electrical"]
	assert.Equal(t, "abcelectrical.com", rec.Domain)
	assert.Equal(t, model.ResolutionSeed, rec.Method)
	assert.Equal(t, 1.0, rec.Confidence)
}

func TestSeedFuzzyTier(t *testing.T) {
	s := writeSeeds(t, "abc electrical services,abcelectrical.com\n")
	r := New(testResolverConfig(), s, nil, nil)

	records := r.Run(context.Background(), []model.NormalizedPermit{permitFor("abc electrical service")}, nil)
	rec := records["abc electrical service"]
	assert.Equal(t, "abcelectrical.com", rec.Domain)
	assert.Equal(t, model.ResolutionSeedFuzzy, rec.Method)
	assert.Less(t, rec.Confidence, 1.0)
	assert.GreaterOrEqual(t, rec.Confidence, 0.85)
}

func TestFuzzyBelowCutoffStaysUnresolved(t *testing.T) {
	s := writeSeeds(t, "totally different name,nothing.com\n")
	r := New(testResolverConfig(), s, nil, nil)

	records := r.Run(context.Background(), []model.NormalizedPermit{permitFor("abc electrical")}, nil)
	assert.False(t, records["abc electrical"].Resolved())
	assert.Equal(t, model.ResolutionUnresolved, records["abc electrical"].Method)
}

func TestRegistryTier(t *testing.T) {
	s := writeSeeds(t, "")
	reg := &fakeRegistry{hits: map[string][]rocregistry.License{
		"lone star builders": {
			{BusinessName: "Lone Star Builders", Status: "expired", Website: "https://stale.example.com"},
			{BusinessName: "Lone Star Builders LLC", Status: "active", Website: "https://www.lonestarbuilders.com/"},
		},
	}}
	r := New(testResolverConfig(), s, reg, nil)

	records := r.Run(context.Background(), []model.NormalizedPermit{permitFor("lone star builders")}, nil)
	rec := records["lone star builders"]
	assert.Equal(t, "lonestarbuilders.com", rec.Domain)
	assert.Equal(t, model.ResolutionRegistry, rec.Method)
	assert.Equal(t, 0.8, rec.Confidence)
}

func TestRegistrySkippedWhenSeedResolves(t *testing.T) {
	s := writeSeeds(t, "abc electrical,abcelectrical.com\n")
	reg := &fakeRegistry{}
	r := New(testResolverConfig(), s, reg, nil)

	r.Run(context.Background(), []model.NormalizedPermit{permitFor("abc electrical")}, nil)
	assert.Empty(t, reg.calls)
}

func TestEnrichmentTier(t *testing.T) {
	s := writeSeeds(t, "")
	enricher := NewEnricher(&fakeModel{reply: `{"mystery mechanical":"mysterymech.com","other co":null}`}, "claude-haiku-4-5-20251001")
	r := New(testResolverConfig(), s, nil, enricher)

	records := r.Run(context.Background(), []model.NormalizedPermit{permitFor("mystery mechanical")}, nil)
	rec := records["mystery mechanical"]
	assert.Equal(t, "mysterymech.com", rec.Domain)
	assert.Equal(t, model.ResolutionClaude, rec.Method)
	assert.Equal(t, 0.6, rec.Confidence)
}

func TestNeverDowngradesExistingResolution(t *testing.T) {
	s := writeSeeds(t, "")
	reg := &fakeRegistry{hits: map[string][]rocregistry.License{
		"abc electrical": {{Status: "active", Website: "https://imposter.com"}},
	}}
	r := New(testResolverConfig(), s, reg, nil)

	existing := map[string]model.ContractorRecord{
		"abc electrical": {
			NameNormalized: "abc electrical",
			Domain:         "abcelectrical.com",
			Method:         model.ResolutionSeed,
			Confidence:     1.0,
		},
	}
	records := r.Run(context.Background(), []model.NormalizedPermit{permitFor("abc electrical")}, existing)
	assert.Equal(t, "abcelectrical.com", records["abc electrical"].Domain)
	assert.Equal(t, model.ResolutionSeed, records["abc electrical"].Method)
}

func TestParseEnrichResponseCodeFence(t *testing.T) {
	out, err := parseEnrichResponse("Here you go:\n```json\n{\"a co\":\"https://www.aco.com/\",\"b co\":\"not-a-domain\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a co": "aco.com"}, out)
}

func TestDomainFromURL(t *testing.T) {
	cases := map[string]string{
		"https://www.lonestarbuilders.com/contact": "lonestarbuilders.com",
		"abcelectrical.com":                        "abcelectrical.com",
		"www.abcelectrical.com":                    "abcelectrical.com",
		"localhost":                                "",
		"":                                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, domainFromURL(in), "input %q", in)
	}
}

package resolve

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Seeds is the ground-truth contractor name to domain mapping. Keys are
// normalized names; iteration order is fixed so fuzzy matches are
// reproducible run to run.
type Seeds struct {
	domains map[string]string
	keys    []string
}

// LoadSeeds reads the two-column seed CSV (contractor_name_normalized,
// contractor_domain). A header row is detected and skipped. A missing or
// unreadable file is a configuration error, same as a bad type map.
func LoadSeeds(path string) (*Seeds, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: open seed file %s", path)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	s := &Seeds{domains: map[string]string{}}
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: parse seed file %s", path)
		}
		if len(record) < 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(record[0]))
		domain := strings.ToLower(strings.TrimSpace(record[1]))
		if first {
			first = false
			if strings.Contains(name, "name") && strings.Contains(domain, "domain") {
				continue
			}
		}
		if name == "" || domain == "" {
			continue
		}
		if _, dup := s.domains[name]; !dup {
			s.domains[name] = domain
			s.keys = append(s.keys, name)
		}
	}
	sort.Strings(s.keys)

	zap.L().Info("resolve: seed map loaded",
		zap.String("path", path),
		zap.Int("entries", len(s.keys)),
	)
	return s, nil
}

// Len returns the number of seed entries.
func (s *Seeds) Len() int { return len(s.keys) }

// Exact returns the seed domain for a normalized name.
func (s *Seeds) Exact(name string) (string, bool) {
	d, ok := s.domains[name]
	return d, ok
}

// Fuzzy scans the seed map for the best key above cutoff. Each pair is
// scored by normalized edit-distance similarity and by token overlap,
// whichever is stronger: edit distance catches typos, token overlap catches
// reordered or partially-qualified names. Returns the matched domain and
// the similarity actually achieved.
func (s *Seeds) Fuzzy(name string, cutoff float64) (domain string, sim float64, ok bool) {
	if name == "" {
		return "", 0, false
	}
	tokens := tokenSet(name)

	best := ""
	bestSim := 0.0
	for _, key := range s.keys {
		score := levenshtein.Similarity(name, key, nil)
		if jac := jaccard(tokens, tokenSet(key)); jac > score {
			score = jac
		}
		if score > bestSim {
			best = key
			bestSim = score
		}
	}
	if best == "" || bestSim < cutoff {
		return "", 0, false
	}
	return s.domains[best], bestSim, true
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

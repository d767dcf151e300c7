package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
)

func testConfig() config.ScoringConfig {
	return config.ScoringConfig{
		BaseWeights: map[string]int{
			"equipment-intensive": 6,
			"structural":          4,
			"routine":             1,
			"unclassified":        0,
		},
		RecencyDays:   90,
		RecencyMax:    3,
		RepeatBonus:   1,
		RepeatCap:     2,
		LookbackDays:  90,
		ThresholdHot:  7,
		ThresholdWarm: 5,
	}
}

func permit(contractorNorm string, class model.PermitClass, filed time.Time) model.NormalizedPermit {
	return model.NormalizedPermit{
		ContractorNorm: contractorNorm,
		Class:          class,
		FiledDate:      filed,
	}
}

func TestFreshEquipmentPermitScoresHot(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s := New(testConfig(), now)

	out := s.Run([]model.NormalizedPermit{
		permit("abc electrical", model.ClassEquipmentIntensive, now.AddDate(0, 0, -5)),
	})
	require.Len(t, out, 1)

	// base 6 + nearly full recency bonus 3.
	assert.Equal(t, 9, out[0].Score)
	assert.Contains(t, out[0].ScoreHits, "base:equipment-intensive:+6")
	assert.Contains(t, out[0].ScoreHits, "recency:+3")
}

func TestRecencyDecaysLinearly(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	s := New(testConfig(), now)

	cases := []struct {
		ageDays int
		bonus   int
	}{
		{0, 3},
		{30, 2},
		{45, 2},
		{60, 1},
		{89, 0},
		{90, 0},
		{400, 0},
	}
	for _, tc := range cases {
		got := s.recencyBonus(now.AddDate(0, 0, -tc.ageDays))
		assert.Equal(t, tc.bonus, got, "age %d days", tc.ageDays)
	}
}

func TestNoRecencyBonusWithoutDate(t *testing.T) {
	s := New(testConfig(), time.Now())
	assert.Equal(t, 0, s.recencyBonus(time.Time{}))
}

func TestRepeatBonusCapped(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	s := New(testConfig(), now)

	var batch []model.NormalizedPermit
	for i := 0; i < 5; i++ {
		batch = append(batch, permit("busy builders", model.ClassRoutine, now.AddDate(0, 0, -i)))
	}
	batch = append(batch, permit("one timer", model.ClassRoutine, now))

	out := s.Run(batch)
	// 5 permits would earn +4 uncapped; cap holds it at +2.
	assert.Equal(t, 1+3+2, out[0].Score)
	assert.Contains(t, out[0].ScoreHits, "repeat:+2")
	// Single filing earns nothing.
	assert.Equal(t, 1+3, out[5].Score)
}

func TestRepeatCountIgnoresStaleFilings(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	s := New(testConfig(), now)

	out := s.Run([]model.NormalizedPermit{
		permit("abc electrical", model.ClassStructural, now.AddDate(0, 0, -3)),
		permit("abc electrical", model.ClassStructural, now.AddDate(0, 0, -200)),
	})
	// The stale filing neither scores recency nor counts toward repeats.
	assert.NotContains(t, out[0].ScoreHits, "repeat:+1")
	assert.Equal(t, 4+3, out[0].Score)
}

func TestScoreClampedAtTen(t *testing.T) {
	cfg := testConfig()
	cfg.BaseWeights["equipment-intensive"] = 9
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	s := New(cfg, now)

	out := s.Run([]model.NormalizedPermit{
		permit("abc", model.ClassEquipmentIntensive, now),
		permit("abc", model.ClassEquipmentIntensive, now),
	})
	assert.Equal(t, 10, out[0].Score)
}

func TestUnclassifiedScoresZeroBase(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	s := New(testConfig(), now)

	out := s.Run([]model.NormalizedPermit{
		permit("mystery co", model.ClassUnclassified, time.Time{}),
	})
	assert.Equal(t, 0, out[0].Score)
}

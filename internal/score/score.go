// Package score assigns each normalized permit an intent score on the 0-10
// scale that drives tiering downstream.
package score

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
)

// Scorer is a pure function of its config and the batch. Same batch and
// same clock in, same scores out.
type Scorer struct {
	cfg config.ScoringConfig
	now time.Time
}

// New builds a scorer pinned to now. Pinning keeps a run internally
// consistent even when scoring crosses a midnight boundary.
func New(cfg config.ScoringConfig, now time.Time) *Scorer {
	return &Scorer{cfg: cfg, now: now.UTC()}
}

// Run scores a batch. The repeat bonus counts how many other permits in the
// batch the same contractor filed inside the lookback window.
func (s *Scorer) Run(permits []model.NormalizedPermit) []model.ScoredPermit {
	repeats := s.repeatCounts(permits)

	scored := make([]model.ScoredPermit, 0, len(permits))
	for _, p := range permits {
		sp := model.ScoredPermit{NormalizedPermit: p}

		base := s.cfg.BaseWeights[string(p.Class)]
		sp.Score = base
		sp.ScoreHits = append(sp.ScoreHits, fmt.Sprintf("base:%s:+%d", p.Class, base))

		if bonus := s.recencyBonus(p.FiledDate); bonus > 0 {
			sp.Score += bonus
			sp.ScoreHits = append(sp.ScoreHits, fmt.Sprintf("recency:+%d", bonus))
		}

		if bonus := s.repeatBonus(repeats[p.ContractorNorm]); bonus > 0 {
			sp.Score += bonus
			sp.ScoreHits = append(sp.ScoreHits, fmt.Sprintf("repeat:+%d", bonus))
		}

		if sp.Score > 10 {
			sp.Score = 10
		}
		if sp.Score < 0 {
			sp.Score = 0
		}
		scored = append(scored, sp)
	}

	zap.L().Info("score: batch scored",
		zap.Int("permits", len(scored)),
		zap.Int("hot_or_better", countAtLeast(scored, s.cfg.ThresholdHot)),
	)
	return scored
}

// recencyBonus decays linearly from RecencyMax at age zero to nothing at
// the window edge. Unparsed dates earn no bonus.
func (s *Scorer) recencyBonus(filed time.Time) int {
	if filed.IsZero() || s.cfg.RecencyDays <= 0 {
		return 0
	}
	age := s.now.Sub(filed)
	if age < 0 {
		age = 0
	}
	window := time.Duration(s.cfg.RecencyDays) * 24 * time.Hour
	if age >= window {
		return 0
	}
	frac := 1 - float64(age)/float64(window)
	return int(math.Round(frac * float64(s.cfg.RecencyMax)))
}

// repeatBonus rewards contractors pulling more than one permit in the
// window. Capped so a tract-home builder cannot saturate the scale.
func (s *Scorer) repeatBonus(count int) int {
	if count <= 1 {
		return 0
	}
	bonus := (count - 1) * s.cfg.RepeatBonus
	if bonus > s.cfg.RepeatCap {
		bonus = s.cfg.RepeatCap
	}
	return bonus
}

func (s *Scorer) repeatCounts(permits []model.NormalizedPermit) map[string]int {
	cutoff := s.now.AddDate(0, 0, -s.cfg.LookbackDays)
	counts := make(map[string]int)
	for _, p := range permits {
		if p.ContractorNorm == "" {
			continue
		}
		if !p.FiledDate.IsZero() && p.FiledDate.Before(cutoff) {
			continue
		}
		counts[p.ContractorNorm]++
	}
	return counts
}

func countAtLeast(scored []model.ScoredPermit, threshold int) int {
	n := 0
	for _, sp := range scored {
		if sp.Score >= threshold {
			n++
		}
	}
	return n
}

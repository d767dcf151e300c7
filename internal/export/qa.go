package export

import (
	"fmt"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/model"
)

// GateInput carries the rates and counts the monitoring gates inspect.
type GateInput struct {
	Scored           int
	DistinctDomains  int // contractors queued for resolution
	ResolvedDomains  int // contractors with a usable domain
	VerifiedTotal    int // emails with a terminal or risky verdict this run
	VerifiedValid    int
	ExportCandidates int // records that passed tiering
}

// EvaluateGates applies the pre-export quality gates. Any failure halts
// the run before sender CSVs are written; warnings are recorded but do
// not block export.
func EvaluateGates(cfg config.GatesConfig, in GateInput) model.GateReport {
	var rep model.GateReport

	if in.Scored > 0 && in.ExportCandidates == 0 && in.VerifiedTotal == 0 {
		rep.Failures = append(rep.Failures,
			"zero records survived the pipeline despite scored input")
	}

	if in.VerifiedTotal > 0 {
		rate := float64(in.VerifiedValid) / float64(in.VerifiedTotal)
		switch {
		case in.VerifiedTotal <= cfg.MinSampleSize:
			if rate < cfg.MinValidEmailRate {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf(
					"valid email rate %.2f below %.2f on small sample (%d verified)",
					rate, cfg.MinValidEmailRate, in.VerifiedTotal))
			}
		case rate < cfg.MinValidEmailRate:
			rep.Failures = append(rep.Failures, fmt.Sprintf(
				"valid email rate %.2f below minimum %.2f (%d verified)",
				rate, cfg.MinValidEmailRate, in.VerifiedTotal))
		}
	}

	if in.DistinctDomains > 0 {
		rate := float64(in.ResolvedDomains) / float64(in.DistinctDomains)
		if rate < cfg.MinDomainResolutionRate {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf(
				"domain resolution rate %.2f below %.2f (%d of %d contractors)",
				rate, cfg.MinDomainResolutionRate, in.ResolvedDomains, in.DistinctDomains))
		}
	}

	rep.Halt = len(rep.Failures) > 0
	return rep
}

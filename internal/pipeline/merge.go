package pipeline

import (
	"sort"

	"github.com/dark30-ventures/intent-cli/internal/model"
)

// MergeInput carries everything the merger joins: scored permits, the
// contractor resolutions, the per-domain contacts, the verification
// verdicts, and the cross-run exported set.
type MergeInput struct {
	Permits       []model.ScoredPermit
	Contractors   map[string]model.ContractorRecord
	Contacts      map[string]model.ContactCandidate
	Verifications map[string]model.VerificationRecord
	Exported      map[string]bool
	ForceReexport bool
	ThresholdHot  int
	ThresholdWarm int
}

// MergeOutput is the merger's result. Records qualify for the sender CSVs;
// Catchall holds risky-but-scored leads for manual review. Unverified
// counts resolved contractors whose email never got a valid/invalid
// verdict.
type MergeOutput struct {
	Records         []model.SenderReadyRecord
	Catchall        []model.SenderReadyRecord
	AlreadyExported int
	Unverified      int
}

// Merge produces at most one sender-ready record per contractor: the
// highest-scoring permit represents the contractor, ties broken by most
// recent filed date, then source row order. Permits already exported in a
// prior run are dropped first unless force re-export is set.
func Merge(in MergeInput) MergeOutput {
	var out MergeOutput

	best := make(map[string]model.ScoredPermit)
	for _, p := range in.Permits {
		if !in.ForceReexport && in.Exported[p.PermitKey] {
			out.AlreadyExported++
			continue
		}
		cur, ok := best[p.ContractorNorm]
		if !ok || betterRepresentative(p, cur) {
			best[p.ContractorNorm] = p
		}
	}

	for name, permit := range best {
		contractor, ok := in.Contractors[name]
		if !ok || !contractor.Resolved() {
			continue
		}
		contact, ok := in.Contacts[contractor.Domain]
		if !ok {
			continue
		}
		verification, ok := in.Verifications[contact.Email]
		if !ok {
			verification = model.VerificationRecord{Email: contact.Email, Status: model.VerifyUnknown}
		}

		rec := model.SenderReadyRecord{
			Permit:       permit,
			Contractor:   contractor,
			Contact:      contact,
			Verification: verification,
		}

		if tier, qualifies := model.TierFor(permit.Score, verification.Status, in.ThresholdHot, in.ThresholdWarm); qualifies {
			rec.Tier = tier
			out.Records = append(out.Records, rec)
			continue
		}
		if verification.Status == model.VerifyRisky && permit.Score >= in.ThresholdWarm {
			out.Catchall = append(out.Catchall, rec)
		}
		if !verification.Status.Terminal() {
			out.Unverified++
		}
	}

	sortRecords(out.Records)
	sortRecords(out.Catchall)
	return out
}

// betterRepresentative reports whether a should replace b as the
// contractor's representative permit.
func betterRepresentative(a, b model.ScoredPermit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.FiledDate.Equal(b.FiledDate) {
		return a.FiledDate.After(b.FiledDate)
	}
	return a.RowIndex < b.RowIndex
}

// sortRecords fixes the export order: tier, score descending, contractor
// name. Concurrent stage completion order never leaks into the files.
func sortRecords(records []model.SenderReadyRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Tier != b.Tier {
			return a.Tier == model.TierHot
		}
		if a.Permit.Score != b.Permit.Score {
			return a.Permit.Score > b.Permit.Score
		}
		return a.Contractor.NameNormalized < b.Contractor.NameNormalized
	})
}

// ExportKeys lists the permit keys that a successful export must add to
// the cross-run dedup set.
func ExportKeys(records []model.SenderReadyRecord) []string {
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.Permit.PermitKey)
	}
	return keys
}

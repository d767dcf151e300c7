// Package export writes the run's output artifacts: the hot and warm
// sender CSVs, the catchall review list, and the QA report JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/model"
)

// File names inside the output directory.
const (
	HotFile      = "sender_ready_hot.csv"
	WarmFile     = "sender_ready_warm.csv"
	CatchallFile = "catchall_review.csv"
	ReportFile   = "qa_report.json"
)

// csvHeader is the stable column order of every lead CSV.
var csvHeader = []string{
	"contractor",
	"domain",
	"contact_email",
	"verification_status",
	"score",
	"tier",
	"source_permit_id",
	"source_url",
	"filed_date",
	"discovery_method",
	"resolution_method",
	"personalization_tokens",
}

// WriteLeads writes tiered records into the hot and warm CSVs plus the
// catchall review list. Files are written to a temp name and renamed so a
// crash mid-write never leaves a partial artifact behind.
func WriteLeads(outDir string, records, catchall []model.SenderReadyRecord) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create out dir %s", outDir)
	}

	var hot, warm []model.SenderReadyRecord
	for _, r := range records {
		if r.Tier == model.TierHot {
			hot = append(hot, r)
		} else {
			warm = append(warm, r)
		}
	}

	for _, f := range []struct {
		name string
		rows []model.SenderReadyRecord
	}{
		{HotFile, hot},
		{WarmFile, warm},
		{CatchallFile, catchall},
	} {
		if err := writeCSV(filepath.Join(outDir, f.name), f.rows); err != nil {
			return err
		}
	}

	zap.L().Info("export: lead files written",
		zap.String("dir", outDir),
		zap.Int("hot", len(hot)),
		zap.Int("warm", len(warm)),
		zap.Int("catchall_review", len(catchall)),
	)
	return nil
}

func writeCSV(path string, records []model.SenderReadyRecord) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "export: create temp for %s", path)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		return eris.Wrapf(err, "export: write header %s", path)
	}
	for _, r := range records {
		if err := w.Write(leadRow(r)); err != nil {
			return eris.Wrapf(err, "export: write row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "export: flush %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "export: close temp %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "export: rename %s", path)
	}
	return nil
}

func leadRow(r model.SenderReadyRecord) []string {
	filed := ""
	if !r.Permit.FiledDate.IsZero() {
		filed = r.Permit.FiledDate.Format("2006-01-02")
	}
	return []string{
		r.Contractor.NameNormalized,
		r.Contractor.Domain,
		r.Contact.Email,
		string(r.Verification.Status),
		strconv.Itoa(r.Permit.Score),
		string(r.Tier),
		r.Permit.ExternalID,
		r.Permit.SourceURL,
		filed,
		string(r.Contact.Method),
		string(r.Contractor.Method),
		personalizationTokens(r),
	}
}

// personalizationTokens packs the context an outreach template can splice
// into the first line of an email.
func personalizationTokens(r model.SenderReadyRecord) string {
	tokens := map[string]any{
		"jurisdiction": r.Permit.Jurisdiction,
		"city":         r.Permit.City,
		"state":        r.Permit.State,
		"address":      r.Permit.Address,
		"permit_id":    r.Permit.ExternalID,
		"status":       r.Permit.RecordStatus,
		"trigger":      r.Permit.ScoreHits,
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// WriteReport writes the QA report JSON next to the CSVs, atomically.
func WriteReport(outDir string, report *model.QAReport) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create out dir %s", outDir)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal report")
	}

	path := filepath.Join(outDir, ReportFile)
	tmp, err := os.CreateTemp(outDir, ReportFile+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "export: create temp for %s", path)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "export: close temp %s", path)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "export: rename %s", path)
}

package normalize

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/model"
)

// Normalizer converts raw permit rows into canonical normalized permits.
type Normalizer struct {
	suffixes []string
	typeMap  *TypeMap
}

// New creates a Normalizer.
func New(legalSuffixes []string, typeMap *TypeMap) *Normalizer {
	return &Normalizer{suffixes: legalSuffixes, typeMap: typeMap}
}

// dateLayouts covers the formats municipal portals actually publish.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
}

// ParseFiledDate parses a portal-published date string. Returns the zero
// time when no layout matches.
func ParseFiledDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Run normalizes a batch of raw rows. Rows missing a contractor name or
// permit id are skipped and counted as defects, not pipeline aborts.
// Within a source, duplicate permit keys keep the first occurrence;
// source row order is preserved for downstream tie-breaks.
func (n *Normalizer) Run(rows []model.RawPermitRow) ([]model.NormalizedPermit, []model.Defect) {
	permits := make([]model.NormalizedPermit, 0, len(rows))
	var defects []model.Defect
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		if strings.TrimSpace(row.ExternalID) == "" || strings.TrimSpace(row.ContractorName) == "" {
			defects = append(defects, model.Defect{
				Stage:    "normalize",
				SourceID: row.SourceID,
				Reason:   model.DefectMissingField,
				Detail:   missingFieldDetail(row),
			})
			continue
		}

		key := model.PermitKey(row.SourceID, row.ExternalID)
		if seen[key] {
			continue
		}
		seen[key] = true

		filed, ok := ParseFiledDate(row.FiledDate)
		if !ok && row.FiledDate != "" {
			defects = append(defects, model.Defect{
				Stage:     "normalize",
				SourceID:  row.SourceID,
				PermitKey: key,
				Reason:    model.DefectDateParse,
				Detail:    row.FiledDate,
			})
			// Row is kept; it scores without a recency bonus.
		}

		permits = append(permits, model.NormalizedPermit{
			PermitKey:      key,
			SourceID:       row.SourceID,
			Jurisdiction:   row.Jurisdiction,
			ExternalID:     strings.TrimSpace(row.ExternalID),
			ContractorRaw:  strings.TrimSpace(row.ContractorName),
			ContractorNorm: Name(row.ContractorName, n.suffixes),
			Class:          n.typeMap.Classify(row.PermitType, row.Description),
			FiledDate:      filed,
			RecordStatus:   strings.ToLower(strings.TrimSpace(row.RecordStatus)),
			Address:        strings.TrimSpace(row.Address),
			City:           strings.TrimSpace(row.City),
			State:          strings.ToUpper(strings.TrimSpace(row.State)),
			Description:    strings.TrimSpace(row.Description),
			SourceURL:      row.SourceURL,
			ScrapedAt:      row.ScrapedAt,
			RowIndex:       i,
		})
	}

	zap.L().Info("normalize: batch complete",
		zap.Int("rows_in", len(rows)),
		zap.Int("permits_out", len(permits)),
		zap.Int("defects", len(defects)),
	)
	return permits, defects
}

func missingFieldDetail(row model.RawPermitRow) string {
	switch {
	case strings.TrimSpace(row.ExternalID) == "" && strings.TrimSpace(row.ContractorName) == "":
		return "permit id and contractor name"
	case strings.TrimSpace(row.ExternalID) == "":
		return "permit id"
	default:
		return "contractor name"
	}
}

// Package source defines the per-portal adapter contract and the adapters
// for the portal publication formats we ingest: CSV, XLSX, and plain HTML
// permit tables.
package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/fetcher"
	"github.com/dark30-ventures/intent-cli/internal/model"
)

// Adapter is the uniform contract every portal implements. FetchSince
// returns raw permit rows filed at or after since (best effort; adapters
// filter when the portal publishes a parseable date). Errors are
// adapter-scoped: the pipeline records them and proceeds with the rest.
type Adapter interface {
	ID() string
	FetchSince(ctx context.Context, since time.Time) ([]model.RawPermitRow, error)
}

// canonical fields an adapter maps portal columns onto.
const (
	fieldPermitID   = "permit_id"
	fieldStatus     = "record_status"
	fieldDate       = "filed_date"
	fieldType       = "permit_type"
	fieldAddress    = "address"
	fieldCity       = "city"
	fieldState      = "state"
	fieldContractor = "contractor_name"
	fieldDesc       = "description"
)

// defaultAliases maps the column spellings the big open-data portals use
// (Phoenix/Accela, Socrata exports) onto canonical fields. Per-source
// config aliases are layered on top.
var defaultAliases = map[string]string{
	"PermitNumber":       fieldPermitID,
	"PermitNum":          fieldPermitID,
	"permit_number":      fieldPermitID,
	"permit_id":          fieldPermitID,
	"record_id":          fieldPermitID,
	"StatusCurrent":      fieldStatus,
	"Status":             fieldStatus,
	"permit_status":      fieldStatus,
	"IssuedDate":         fieldDate,
	"IssueDate":          fieldDate,
	"issued_date":        fieldDate,
	"AppliedDate":        fieldDate,
	"applied_date":       fieldDate,
	"PermitType":         fieldType,
	"permit_type":        fieldType,
	"WorkClass":          fieldType,
	"ProjectDescription": fieldDesc,
	"Description":        fieldDesc,
	"WorkDescription":    fieldDesc,
	"work_description":   fieldDesc,
	"ContractorName":     fieldContractor,
	"Contractor":         fieldContractor,
	"contractor":         fieldContractor,
	"contractor_name":    fieldContractor,
	"GCName":             fieldContractor,
	"SiteAddress":        fieldAddress,
	"Address":            fieldAddress,
	"street_address":     fieldAddress,
	"SiteCity":           fieldCity,
	"City":               fieldCity,
	"SiteState":          fieldState,
	"State":              fieldState,
}

// columnMap resolves a portal header row to canonical field positions.
type columnMap map[string]int

func buildColumnMap(header []string, extra map[string]string) columnMap {
	aliases := make(map[string]string, len(defaultAliases)+len(extra))
	for k, v := range defaultAliases {
		aliases[strings.ToLower(k)] = v
	}
	for k, v := range extra {
		aliases[strings.ToLower(k)] = v
	}

	cm := make(columnMap)
	for i, col := range header {
		canonical, ok := aliases[strings.ToLower(strings.TrimSpace(col))]
		if !ok {
			continue
		}
		if _, taken := cm[canonical]; !taken {
			cm[canonical] = i
		}
	}
	return cm
}

func (cm columnMap) get(row []string, field string) string {
	i, ok := cm[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// rowFromRecord builds a RawPermitRow from one mapped portal record.
// Returns false when the record carries neither contractor nor description
// (header junk, section separators).
func rowFromRecord(cfg config.SourceConfig, cm columnMap, record []string, now time.Time) (model.RawPermitRow, bool) {
	contractor := cm.get(record, fieldContractor)
	desc := cm.get(record, fieldDesc)
	if contractor == "" && desc == "" {
		return model.RawPermitRow{}, false
	}
	return model.RawPermitRow{
		SourceID:       cfg.ID,
		Jurisdiction:   cfg.Jurisdiction,
		ExternalID:     cm.get(record, fieldPermitID),
		ContractorName: contractor,
		PermitType:     cm.get(record, fieldType),
		RecordStatus:   cm.get(record, fieldStatus),
		FiledDate:      cm.get(record, fieldDate),
		Address:        cm.get(record, fieldAddress),
		City:           cm.get(record, fieldCity),
		State:          cm.get(record, fieldState),
		Description:    desc,
		SourceURL:      cfg.URL,
		ScrapedAt:      now,
	}, true
}

// filterSince drops rows filed before since when the filed date parses.
// Rows without a parseable date are kept; the normalizer records the defect.
func filterSince(rows []model.RawPermitRow, since time.Time, parse func(string) (time.Time, bool)) []model.RawPermitRow {
	if since.IsZero() {
		return rows
	}
	kept := rows[:0]
	for _, r := range rows {
		if filed, ok := parse(r.FiledDate); ok && filed.Before(since) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// Build constructs an adapter from a source config.
func Build(cfg config.SourceConfig, dl fetcher.Fetcher) (Adapter, error) {
	switch cfg.Method {
	case "csv":
		return &CSVAdapter{cfg: cfg, dl: dl}, nil
	case "xlsx":
		return &XLSXAdapter{cfg: cfg, dl: dl}, nil
	case "html_list":
		return &HTMLAdapter{cfg: cfg, dl: dl}, nil
	default:
		return nil, eris.Errorf("source %s: unknown method %q", cfg.ID, cfg.Method)
	}
}

// BuildAll constructs adapters for every enabled source.
func BuildAll(cfgs []config.SourceConfig, dl fetcher.Fetcher) ([]Adapter, error) {
	var adapters []Adapter
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		a, err := Build(cfg, dl)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/fetcher"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/normalize"
)

// CSVAdapter ingests portals that publish their permit list as a CSV
// download (the common open-data case, and the occasional ftp:// drop).
type CSVAdapter struct {
	cfg config.SourceConfig
	dl  fetcher.Fetcher
}

func (a *CSVAdapter) ID() string { return a.cfg.ID }

// FetchSince downloads and parses the portal CSV, mapping portal columns to
// canonical fields through the alias table.
func (a *CSVAdapter) FetchSince(ctx context.Context, since time.Time) ([]model.RawPermitRow, error) {
	body, err := a.dl.Download(ctx, a.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: download", a.cfg.ID)
	}
	defer func() { _ = body.Close() }()

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, body, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	now := time.Now().UTC()
	var cm columnMap
	var rows []model.RawPermitRow
	for record := range rowCh {
		if cm == nil {
			select {
			case header := <-headerCh:
				cm = buildColumnMap(header, a.cfg.FieldAliases)
			default:
				return nil, eris.Errorf("source %s: missing header row", a.cfg.ID)
			}
		}
		if row, ok := rowFromRecord(a.cfg, cm, record, now); ok {
			rows = append(rows, row)
		}
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "source %s: parse", a.cfg.ID)
	}

	rows = filterSince(rows, since, normalize.ParseFiledDate)
	zap.L().Info("source: csv fetch complete",
		zap.String("source", a.cfg.ID),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

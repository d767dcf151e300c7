package source

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/fetcher"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/normalize"
)

// XLSXAdapter ingests portals that publish the weekly permit list as a
// spreadsheet. First row is the header, first sheet is the data.
type XLSXAdapter struct {
	cfg config.SourceConfig
	dl  fetcher.Fetcher
}

func (a *XLSXAdapter) ID() string { return a.cfg.ID }

func (a *XLSXAdapter) FetchSince(ctx context.Context, since time.Time) ([]model.RawPermitRow, error) {
	body, err := a.dl.Download(ctx, a.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: download", a.cfg.ID)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, 64<<20))
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: read body", a.cfg.ID)
	}

	records, err := fetcher.ReadXLSX(data)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse", a.cfg.ID)
	}
	if len(records) == 0 {
		return nil, nil
	}

	cm := buildColumnMap(records[0], a.cfg.FieldAliases)
	now := time.Now().UTC()
	var rows []model.RawPermitRow
	for _, record := range records[1:] {
		if row, ok := rowFromRecord(a.cfg, cm, record, now); ok {
			rows = append(rows, row)
		}
	}

	rows = filterSince(rows, since, normalize.ParseFiledDate)
	zap.L().Info("source: xlsx fetch complete",
		zap.String("source", a.cfg.ID),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

package source

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/config"
	"github.com/dark30-ventures/intent-cli/internal/fetcher"
	"github.com/dark30-ventures/intent-cli/internal/model"
	"github.com/dark30-ventures/intent-cli/internal/normalize"
)

// HTMLAdapter scrapes portals that render the permit list as an HTML table.
// The header row (th cells, or the first tr when the table has none) is
// mapped to canonical fields the same way the CSV adapter maps its header.
type HTMLAdapter struct {
	cfg config.SourceConfig
	dl  fetcher.Fetcher
}

func (a *HTMLAdapter) ID() string { return a.cfg.ID }

func (a *HTMLAdapter) FetchSince(ctx context.Context, since time.Time) ([]model.RawPermitRow, error) {
	body, err := a.dl.Download(ctx, a.cfg.URL)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: download", a.cfg.ID)
	}
	defer func() { _ = body.Close() }()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, eris.Wrapf(err, "source %s: parse html", a.cfg.ID)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, eris.Errorf("source %s: no table in page", a.cfg.ID)
	}

	var header []string
	table.Find("th").Each(func(_ int, cell *goquery.Selection) {
		header = append(header, strings.TrimSpace(cell.Text()))
	})

	trs := table.Find("tr")
	start := 0
	if len(header) == 0 && trs.Length() > 0 {
		trs.First().Find("td").Each(func(_ int, cell *goquery.Selection) {
			header = append(header, strings.TrimSpace(cell.Text()))
		})
		start = 1
	}
	if len(header) == 0 {
		return nil, eris.Errorf("source %s: table has no header row", a.cfg.ID)
	}

	cm := buildColumnMap(header, a.cfg.FieldAliases)
	now := time.Now().UTC()
	var rows []model.RawPermitRow
	trs.Each(func(i int, tr *goquery.Selection) {
		if i < start || tr.Find("th").Length() > 0 {
			return
		}
		var record []string
		tr.Find("td").Each(func(_ int, cell *goquery.Selection) {
			record = append(record, strings.TrimSpace(cell.Text()))
		})
		if len(record) == 0 {
			return
		}
		if row, ok := rowFromRecord(a.cfg, cm, record, now); ok {
			rows = append(rows, row)
		}
	})

	rows = filterSince(rows, since, normalize.ParseFiledDate)
	zap.L().Info("source: html fetch complete",
		zap.String("source", a.cfg.ID),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

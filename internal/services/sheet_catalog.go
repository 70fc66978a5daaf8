package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/metrics"
	"github.com/codyseavey/card-desk/internal/models"
)

const sheetLoadTimeout = 60 * time.Second

// SheetRow is one catalog row from the shop's spreadsheet
type SheetRow struct {
	Row      int
	ID       string
	Name     string
	SetName  string
	Number   string
	Rarity   string
	ImageURL string
	Language string
	Price    *models.Cents
	Keywords []string
	Values   map[string]string
}

// sheetValuesResponse matches the Sheets API values.get response
type sheetValuesResponse struct {
	Range          string     `json:"range"`
	MajorDimension string     `json:"majorDimension"`
	Values         [][]string `json:"values"`
}

// Header aliases accepted for each known column
var sheetColumnAliases = map[string][]string{
	"id":       {"id", "sku", "card_id"},
	"name":     {"name", "card_name", "card"},
	"set":      {"set", "set_name", "expansion"},
	"number":   {"number", "card_number", "no", "#"},
	"rarity":   {"rarity"},
	"image":    {"image", "image_url", "img"},
	"language": {"language", "lang"},
	"price":    {"price", "market_price", "price_usd"},
	"keywords": {"keywords", "aliases", "alias"},
}

// SheetCatalogService reads the shop's own catalog spreadsheet.
// Rows are cached for the configured TTL.
type SheetCatalogService struct {
	cfg     config.SheetConfig
	fetcher *Fetcher
	rows    *expirable.LRU[string, []SheetRow]
	loads   singleflight.Group
}

func NewSheetCatalogService(cfg config.SheetConfig, fetcher *Fetcher) *SheetCatalogService {
	return &SheetCatalogService{
		cfg:     cfg,
		fetcher: fetcher,
		rows:    expirable.NewLRU[string, []SheetRow](4, nil, cfg.CacheTTL),
	}
}

var _ CardSource = (*SheetCatalogService)(nil)

func (s *SheetCatalogService) Tag() models.SourceTag {
	return models.SourceSheet
}

func (s *SheetCatalogService) Status() SourceStatus {
	return SourceStatus{Tag: s.Tag(), Name: "Shop spreadsheet", Configured: s.cfg.Enabled()}
}

// Search matches rows whose name or keywords overlap the query's key terms
func (s *SheetCatalogService) Search(ctx context.Context, query models.CardQuery, limit int) SourceResult {
	if !s.cfg.Enabled() {
		return configWarning(s.Tag(), "spreadsheet catalog is not configured")
	}

	rows, err := s.loadRows(ctx)
	if err != nil {
		return emptyResult(s.Tag(), err)
	}

	variations := GenerateVariations(query.CleanName())
	terms := ExtractKeyTerms(variations)
	normalizedQuery := normalizeCardText(query.CleanName())
	lang := query.CardLanguage()

	type scored struct {
		row   SheetRow
		score int
	}
	var matches []scored

	for _, row := range rows {
		if row.Language != "" && models.NormalizeLanguage(row.Language) != lang {
			continue
		}
		if score := sheetMatchScore(row, normalizedQuery, terms); score > 0 {
			matches = append(matches, scored{row, score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	cards := make([]models.CandidateCard, 0, len(matches))
	for _, m := range matches {
		cards = append(cards, s.toCandidate(m.row, lang))
	}

	log.Printf("[Sheet] %q matched %d of %d rows", query.Name, len(cards), len(rows))
	return SourceResult{Cards: cards}
}

// sheetMatchScore ranks exact names above name overlaps above keyword overlaps.
// Zero means no match.
func sheetMatchScore(row SheetRow, normalizedQuery string, terms []string) int {
	name := normalizeCardText(row.Name)
	switch {
	case name != "" && name == normalizedQuery:
		return 3
	case MatchesKeyTerms(row.Name, terms):
		return 2
	}
	for _, kw := range row.Keywords {
		if len([]rune(kw)) >= 3 && MatchesKeyTerms(kw, terms) {
			return 1
		}
	}
	return 0
}

func (s *SheetCatalogService) toCandidate(row SheetRow, queryLang models.CardLanguage) models.CandidateCard {
	lang := queryLang
	if row.Language != "" {
		lang = models.NormalizeLanguage(row.Language)
	}

	id := row.ID
	if id == "" {
		id = fmt.Sprintf("row-%d", row.Row)
	}

	body, _ := json.Marshal(row.Values)

	return models.CandidateCard{
		ID:        id,
		Name:      row.Name,
		SetName:   row.SetName,
		Number:    row.Number,
		Rarity:    row.Rarity,
		ImageURL:  row.ImageURL,
		Language:  lang,
		Price:     row.Price,
		SourceTag: models.SourceSheet,
		RawPayload: models.RawSourcePayload{
			Source: models.SourceSheet,
			Body:   body,
		},
	}
}

func (s *SheetCatalogService) cacheKey() string {
	return s.cfg.SpreadsheetID + "|" + s.cfg.Range
}

func (s *SheetCatalogService) loadRows(ctx context.Context) ([]SheetRow, error) {
	key := s.cacheKey()
	if rows, ok := s.rows.Get(key); ok {
		metrics.SheetCacheHits.Inc()
		return rows, nil
	}
	metrics.SheetCacheMisses.Inc()

	v, err, _ := s.loads.Do(key, func() (any, error) {
		// shared by every waiter, so one caller canceling must not fail the others
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sheetLoadTimeout)
		defer cancel()

		rows, err := s.fetchRows(loadCtx)
		if err != nil {
			return nil, err
		}
		s.rows.Add(key, rows)
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]SheetRow), nil
}

// InvalidateCache forces the next search to re-read the spreadsheet
func (s *SheetCatalogService) InvalidateCache() {
	s.rows.Purge()
}

func (s *SheetCatalogService) fetchRows(ctx context.Context) ([]SheetRow, error) {
	reqURL := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		strings.TrimRight(s.cfg.BaseURL, "/"),
		url.PathEscape(s.cfg.SpreadsheetID),
		url.PathEscape(s.cfg.Range))

	var resp sheetValuesResponse
	if err := s.fetcher.GetJSON(ctx, reqURL, map[string]string{"X-Goog-Api-Key": s.cfg.APIKey}, &resp); err != nil {
		return nil, err
	}

	rows, err := parseSheetRows(resp.Values)
	if err != nil {
		raw, _ := json.Marshal(resp.Values)
		return nil, &ParseError{Source: string(models.SourceSheet), Raw: string(raw), Err: err}
	}

	log.Printf("[Sheet] loaded %d catalog rows from %s", len(rows), resp.Range)
	return rows, nil
}

// parseSheetRows maps the header row to known columns and converts the rest.
// A row without a name is skipped; an unparseable price leaves the price unknown.
func parseSheetRows(values [][]string) ([]SheetRow, error) {
	if len(values) == 0 {
		return nil, nil
	}

	header := values[0]
	columns := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for col, aliases := range sheetColumnAliases {
			for _, a := range aliases {
				if h == a {
					if _, exists := columns[col]; !exists {
						columns[col] = i
					}
				}
			}
		}
	}
	if _, ok := columns["name"]; !ok {
		return nil, fmt.Errorf("header row has no name column: %v", header)
	}

	cell := func(row []string, col string) string {
		i, ok := columns[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rows []SheetRow
	for n, raw := range values[1:] {
		name := cell(raw, "name")
		if name == "" {
			continue
		}

		row := SheetRow{
			Row:      n + 2, // 1-based, after the header
			ID:       cell(raw, "id"),
			Name:     name,
			SetName:  cell(raw, "set"),
			Number:   cell(raw, "number"),
			Rarity:   cell(raw, "rarity"),
			ImageURL: cell(raw, "image"),
			Language: cell(raw, "language"),
			Values:   make(map[string]string),
		}

		for i, h := range header {
			if i < len(raw) && strings.TrimSpace(h) != "" {
				row.Values[strings.TrimSpace(h)] = raw[i]
			}
		}

		if priceText := cell(raw, "price"); priceText != "" {
			if dollars, ok := parseDollars(priceText); ok {
				row.Price = models.CentsPtr(models.CentsFromDollars(dollars))
			} else {
				log.Printf("[Sheet] row %d: unparseable price %q, leaving unknown", row.Row, priceText)
			}
		}

		for _, kw := range strings.FieldsFunc(cell(raw, "keywords"), func(r rune) bool { return r == ',' || r == ';' }) {
			if kw = strings.TrimSpace(kw); kw != "" {
				row.Keywords = append(row.Keywords, kw)
			}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

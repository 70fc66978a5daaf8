package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/metrics"
	"github.com/codyseavey/card-desk/internal/models"
)

const (
	justTCGDefaultDailyLimit  = 100 // free tier
	justTCGDefaultConcurrency = 4
)

// JustTCGService is the secondary catalog. Every request counts against a
// daily quota, and each variant it reports becomes a separate candidate.
type JustTCGService struct {
	fetcher     *Fetcher
	apiKey      string
	baseURL     string
	dailyLimit  int
	concurrency int

	// Rate limiting
	mu             sync.Mutex
	requestsToday  int
	lastRequestDay time.Time
	now            func() time.Time
}

// JustTCGCardsResponse is the envelope of GET /v1/cards
type JustTCGCardsResponse struct {
	Data     []JustTCGCard    `json:"data"`
	Meta     JustTCGMeta      `json:"meta"`
	Metadata *JustTCGMetadata `json:"_metadata,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// JustTCGCard is a card summary; Variants may be empty in search results
type JustTCGCard struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Game        string           `json:"game"`
	Set         string           `json:"set"`
	SetName     string           `json:"set_name,omitempty"`
	Number      string           `json:"number"`
	Rarity      string           `json:"rarity"`
	TCGPlayerID string           `json:"tcgplayerId,omitempty"`
	Variants    []JustTCGVariant `json:"variants,omitempty"`
}

// JustTCGVariant is one condition x printing x language price point
type JustTCGVariant struct {
	ID          string   `json:"id"`
	Condition   string   `json:"condition"`
	Printing    string   `json:"printing"`
	Language    string   `json:"language"`
	Price       *float64 `json:"price"`
	LastUpdated int64    `json:"lastUpdated,omitempty"`
}

type JustTCGMeta struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// JustTCGMetadata reports the account's usage as seen by JustTCG
type JustTCGMetadata struct {
	APIDailyLimit             int `json:"apiDailyLimit"`
	APIDailyRequestsUsed      int `json:"apiDailyRequestsUsed"`
	APIDailyRequestsRemaining int `json:"apiDailyRequestsRemaining"`
}

func NewJustTCGService(cfg config.JustTCGConfig, fetcher *Fetcher) *JustTCGService {
	dailyLimit := cfg.DailyLimit
	if dailyLimit <= 0 {
		dailyLimit = justTCGDefaultDailyLimit
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = justTCGDefaultConcurrency
	}

	s := &JustTCGService{
		fetcher:     fetcher,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		dailyLimit:  dailyLimit,
		concurrency: concurrency,
		now:         time.Now,
	}
	metrics.JustTCGQuotaRemaining.Set(float64(dailyLimit))
	return s
}

var _ CardSource = (*JustTCGService)(nil)

func (s *JustTCGService) Tag() models.SourceTag {
	return models.SourceSecondaryCatalog
}

func (s *JustTCGService) Status() SourceStatus {
	remaining := s.GetRequestsRemaining()
	return SourceStatus{
		Tag:            s.Tag(),
		Name:           "JustTCG",
		Configured:     s.apiKey != "",
		QuotaRemaining: &remaining,
	}
}

// checkRateLimit reserves one request from today's quota.
// Returns false when the quota is spent.
func (s *JustTCGService) checkRateLimit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Reset counter if new day
	if s.lastRequestDay.Before(today) {
		s.requestsToday = 0
		s.lastRequestDay = today
	}

	if s.requestsToday >= s.dailyLimit {
		return false
	}

	s.requestsToday++
	metrics.JustTCGRequestsTotal.Inc()
	metrics.JustTCGQuotaRemaining.Set(float64(s.dailyLimit - s.requestsToday))
	return true
}

// GetRequestsRemaining returns the number of requests remaining today
func (s *JustTCGService) GetRequestsRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Reset counter if new day
	if s.lastRequestDay.Before(today) {
		return s.dailyLimit
	}

	remaining := s.dailyLimit - s.requestsToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

// syncQuota trusts the server's count when it reports fewer remaining requests
func (s *JustTCGService) syncQuota(md *JustTCGMetadata) {
	if md == nil || md.APIDailyLimit == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if used := s.dailyLimit - md.APIDailyRequestsRemaining; used > s.requestsToday {
		s.requestsToday = used
		metrics.JustTCGQuotaRemaining.Set(float64(md.APIDailyRequestsRemaining))
	}
}

// Search finds card summaries by name, fills in missing variants with a
// bounded fan-out, and flattens every variant into its own candidate.
func (s *JustTCGService) Search(ctx context.Context, query models.CardQuery, limit int) SourceResult {
	if s.apiKey == "" {
		return configWarning(s.Tag(), "JustTCG API key is not configured")
	}

	name := cleanCardName(query.Name)
	if name == "" {
		return SourceResult{}
	}
	if limit <= 0 {
		limit = 25
	}

	cards, err := s.searchCards(ctx, stripNameSuffixes(name), limit)
	if err != nil {
		return emptyResult(s.Tag(), err)
	}
	if len(cards) == 0 {
		if word := firstSignificantWord(name); word != "" && !strings.EqualFold(word, stripNameSuffixes(name)) {
			log.Printf("[JustTCG] no results for %q, retrying with %q", name, word)
			cards, err = s.searchCards(ctx, word, limit)
			if err != nil {
				return emptyResult(s.Tag(), err)
			}
		}
	}

	s.fillVariants(ctx, cards)

	candidates := flattenJustTCGCards(cards, query)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	log.Printf("[JustTCG] %q: %d cards, %d candidates, %d requests left today",
		query.Name, len(cards), len(candidates), s.GetRequestsRemaining())
	return SourceResult{Cards: candidates}
}

func (s *JustTCGService) headers() map[string]string {
	return map[string]string{"x-api-key": s.apiKey}
}

func (s *JustTCGService) get(ctx context.Context, params url.Values) (*JustTCGCardsResponse, error) {
	if !s.checkRateLimit() {
		return nil, fmt.Errorf("JustTCG daily limit of %d requests: %w", s.dailyLimit, ErrQuotaExceeded)
	}

	reqURL := fmt.Sprintf("%s/v1/cards?%s", s.baseURL, params.Encode())

	var resp JustTCGCardsResponse
	if err := s.fetcher.GetJSON(ctx, reqURL, s.headers(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &PermanentError{Source: string(s.Tag()), StatusCode: 200, Body: resp.Error}
	}

	s.syncQuota(resp.Metadata)
	return &resp, nil
}

func (s *JustTCGService) searchCards(ctx context.Context, q string, limit int) ([]JustTCGCard, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("game", "pokemon")
	params.Set("limit", strconv.Itoa(limit))

	resp, err := s.get(ctx, params)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// fillVariants fetches variants for summaries that came back without them.
// A failed detail fetch leaves that card without variants.
func (s *JustTCGService) fillVariants(ctx context.Context, cards []JustTCGCard) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range cards {
		if len(cards[i].Variants) > 0 || cards[i].ID == "" {
			continue
		}
		g.Go(func() error {
			params := url.Values{}
			params.Set("cardId", cards[i].ID)

			resp, err := s.get(gctx, params)
			if err != nil {
				log.Printf("[JustTCG] variants for %s unavailable: %v", cards[i].ID, err)
				return nil
			}
			for _, detail := range resp.Data {
				if detail.ID == cards[i].ID {
					cards[i].Variants = detail.Variants
					if cards[i].SetName == "" {
						cards[i].SetName = detail.SetName
					}
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// flattenJustTCGCards emits one candidate per variant. Variants in the query's
// language (and condition, when given) are preferred when any exist.
func flattenJustTCGCards(cards []JustTCGCard, query models.CardQuery) []models.CandidateCard {
	wantLang := query.CardLanguage()
	wantCond := queryPriceCondition(query.Condition)

	var out []models.CandidateCard
	for _, card := range cards {
		variants := card.Variants
		variants = preferVariants(variants, func(v JustTCGVariant) bool {
			return models.NormalizeLanguage(v.Language) == wantLang
		})
		if wantCond != "" {
			variants = preferVariants(variants, func(v JustTCGVariant) bool {
				return mapJustTCGCondition(v.Condition) == wantCond
			})
		}

		if len(variants) == 0 {
			out = append(out, justTCGCandidate(card, nil))
			continue
		}
		for i := range variants {
			out = append(out, justTCGCandidate(card, &variants[i]))
		}
	}
	return out
}

func preferVariants(variants []JustTCGVariant, keep func(JustTCGVariant) bool) []JustTCGVariant {
	var kept []JustTCGVariant
	for _, v := range variants {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return variants
	}
	return kept
}

// justTCGVariantPayload is the raw payload kept for a flattened candidate
type justTCGVariantPayload struct {
	Card    JustTCGCard     `json:"card"`
	Variant *JustTCGVariant `json:"variant,omitempty"`
}

func justTCGCandidate(card JustTCGCard, v *JustTCGVariant) models.CandidateCard {
	summary := card
	summary.Variants = nil
	body, _ := json.Marshal(justTCGVariantPayload{Card: summary, Variant: v})

	setName := card.SetName
	if setName == "" {
		setName = card.Set
	}

	c := models.CandidateCard{
		ID:        card.ID,
		Name:      card.Name,
		SetName:   setName,
		SetCode:   card.Set,
		Number:    card.Number,
		Rarity:    card.Rarity,
		Language:  models.LanguageEnglish,
		SourceTag: models.SourceSecondaryCatalog,
		RawPayload: models.RawSourcePayload{
			Source: models.SourceSecondaryCatalog,
			Body:   body,
		},
	}
	if v == nil {
		return c
	}

	c.VariantID = v.ID
	c.Language = models.NormalizeLanguage(v.Language)
	c.Printing = normalizeJustTCGPrinting(v.Printing)
	c.Condition = string(mapJustTCGCondition(v.Condition))
	if v.Price != nil {
		c.Price = models.CentsPtr(models.CentsFromDollars(*v.Price))
	}
	return c
}

func queryPriceCondition(condition string) models.PriceCondition {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return ""
	}
	if c := models.Condition(strings.ToUpper(condition)); c.IsValid() {
		return models.MapConditionToPriceCondition(c)
	}
	return mapJustTCGCondition(condition)
}

// mapJustTCGCondition maps JustTCG condition strings to our PriceCondition type
func mapJustTCGCondition(condition string) models.PriceCondition {
	switch strings.ToUpper(strings.TrimSpace(condition)) {
	case "NM", "NEAR MINT":
		return models.PriceConditionNM
	case "LP", "LIGHTLY PLAYED":
		return models.PriceConditionLP
	case "MP", "MODERATELY PLAYED":
		return models.PriceConditionMP
	case "HP", "HEAVILY PLAYED":
		return models.PriceConditionHP
	case "DMG", "DAMAGED":
		return models.PriceConditionDMG
	default:
		return ""
	}
}

func normalizeJustTCGPrinting(printing string) models.PrintingType {
	switch strings.ToLower(strings.TrimSpace(printing)) {
	case "normal":
		return models.PrintingNormal
	case "holofoil", "holo", "foil":
		return models.PrintingHolofoil
	case "reverse holofoil", "reverse holo":
		return models.PrintingReverseHolo
	case "1st edition":
		return models.Printing1stEdition
	case "1st edition holofoil":
		return models.Printing1stEdHolo
	case "unlimited", "unlimited holofoil":
		return models.PrintingUnlimited
	case "":
		return ""
	default:
		return models.PrintingType(printing)
	}
}

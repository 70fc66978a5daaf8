package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/models"
)

const setIDCacheSize = 256

// PokemonTCGService is the primary catalog (pokemontcg.io).
type PokemonTCGService struct {
	fetcher *Fetcher
	apiKey  string
	baseURL string

	// set name (lower-cased) -> set id; "" caches a miss
	setIDs *lru.Cache[string, string]
}

func NewPokemonTCGService(cfg config.PokemonTCGConfig, fetcher *Fetcher) *PokemonTCGService {
	cache, _ := lru.New[string, string](setIDCacheSize)
	return &PokemonTCGService{
		fetcher: fetcher,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		setIDs:  cache,
	}
}

var _ CardSource = (*PokemonTCGService)(nil)

type pokemonSearchResponse struct {
	Data       []json.RawMessage `json:"data"`
	TotalCount int               `json:"totalCount"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	Count      int               `json:"count"`
}

type pokemonCard struct {
	TCGPlayer *pokemonTCGPrice `json:"tcgplayer"`
	Set       pokemonSet       `json:"set"`
	Images    pokemonImages    `json:"images"`
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Number    string           `json:"number"`
	Rarity    string           `json:"rarity"`
}

type pokemonSet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pokemonImages struct {
	Small string `json:"small"`
	Large string `json:"large"`
}

type pokemonTCGPrice struct {
	Prices    map[string]json.RawMessage `json:"prices"`
	URL       string                     `json:"url"`
	UpdatedAt string                     `json:"updatedAt"`
}

type pokemonSetsResponse struct {
	Data []pokemonSet `json:"data"`
}

func (s *PokemonTCGService) Tag() models.SourceTag {
	return models.SourcePrimaryCatalog
}

func (s *PokemonTCGService) Status() SourceStatus {
	// the API works without a key at a lower rate limit
	return SourceStatus{Tag: s.Tag(), Name: "Pokémon TCG API", Configured: true}
}

// Search queries by name, narrowed to the hinted set when it resolves to a set id.
// Without a set id, a zero-result query is retried once with a looser name prefix.
func (s *PokemonTCGService) Search(ctx context.Context, query models.CardQuery, limit int) SourceResult {
	name := cleanCardName(query.Name)
	if name == "" {
		return SourceResult{}
	}
	if limit <= 0 {
		limit = 25
	}

	setID := ""
	if query.SetName != "" {
		id, err := s.resolveSetID(ctx, query.SetName)
		if err != nil {
			log.Printf("[PokemonTCG] set lookup for %q failed, searching without it: %v", query.SetName, err)
		}
		setID = id
	}

	var q string
	if setID != "" {
		q = fmt.Sprintf(`name:"%s" set.id:%s`, name, setID)
	} else {
		q = unqualifiedNameQuery(stripNameSuffixes(name))
	}

	cards, err := s.searchCards(ctx, q, limit)
	if err != nil {
		return emptyResult(s.Tag(), err)
	}

	if len(cards) == 0 && setID == "" {
		if word := firstSignificantWord(name); word != "" {
			loose := fmt.Sprintf("name:%s*", word)
			log.Printf("[PokemonTCG] no results for %s, retrying with %s", q, loose)
			cards, err = s.searchCards(ctx, loose, limit)
			if err != nil {
				return emptyResult(s.Tag(), err)
			}
		}
	}

	return SourceResult{Cards: cards}
}

// unqualifiedNameQuery uses a prefix match for single words and a phrase otherwise
func unqualifiedNameQuery(name string) string {
	if !strings.Contains(name, " ") {
		return fmt.Sprintf("name:%s*", name)
	}
	return fmt.Sprintf(`name:"%s"`, name)
}

func (s *PokemonTCGService) headers() map[string]string {
	if s.apiKey == "" {
		return nil
	}
	return map[string]string{"X-Api-Key": s.apiKey}
}

func (s *PokemonTCGService) searchCards(ctx context.Context, q string, limit int) ([]models.CandidateCard, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("pageSize", strconv.Itoa(limit))
	params.Set("orderBy", "-set.releaseDate")
	reqURL := fmt.Sprintf("%s/v2/cards?%s", s.baseURL, params.Encode())

	var resp pokemonSearchResponse
	if err := s.fetcher.GetJSON(ctx, reqURL, s.headers(), &resp); err != nil {
		return nil, err
	}

	cards := make([]models.CandidateCard, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var pc pokemonCard
		if err := json.Unmarshal(raw, &pc); err != nil {
			return nil, &ParseError{Source: string(s.Tag()), Raw: string(raw), Err: err}
		}
		cards = append(cards, s.convertToCandidate(pc, raw))
	}
	return cards, nil
}

func (s *PokemonTCGService) convertToCandidate(pc pokemonCard, raw json.RawMessage) models.CandidateCard {
	payload := models.RawSourcePayload{Source: s.Tag(), Body: raw}

	card := models.CandidateCard{
		ID:         pc.ID,
		Name:       pc.Name,
		SetName:    pc.Set.Name,
		SetCode:    pc.Set.ID,
		Number:     pc.Number,
		Rarity:     pc.Rarity,
		ImageURL:   pc.Images.Small,
		Language:   models.LanguageEnglish,
		Printing:   pokemonPrinting(pc.TCGPlayer),
		SourceTag:  s.Tag(),
		RawPayload: payload,
	}
	if pc.Images.Large != "" {
		card.ImageURL = pc.Images.Large
	}
	if price, ok := ExtractPrice(payload); ok {
		card.Price = &price
	}
	return card
}

// pokemonPrinting names the printing whose market price backs the candidate
func pokemonPrinting(p *pokemonTCGPrice) models.PrintingType {
	if p == nil {
		return ""
	}
	for _, key := range marketPricePrintings {
		if _, ok := p.Prices[key]; ok {
			switch key {
			case "holofoil":
				return models.PrintingHolofoil
			case "normal":
				return models.PrintingNormal
			case "reverseHolofoil":
				return models.PrintingReverseHolo
			case "1stEditionHolofoil":
				return models.Printing1stEdHolo
			}
		}
	}
	return ""
}

// resolveSetID maps a set name hint to a pokemontcg.io set id
func (s *PokemonTCGService) resolveSetID(ctx context.Context, setName string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(setName))
	if id, ok := s.setIDs.Get(key); ok {
		return id, nil
	}

	params := url.Values{}
	params.Set("q", fmt.Sprintf(`name:"%s"`, strings.ReplaceAll(setName, `"`, "")))
	params.Set("pageSize", "10")
	reqURL := fmt.Sprintf("%s/v2/sets?%s", s.baseURL, params.Encode())

	var resp pokemonSetsResponse
	if err := s.fetcher.GetJSON(ctx, reqURL, s.headers(), &resp); err != nil {
		return "", err
	}

	id := ""
	for _, set := range resp.Data {
		if strings.EqualFold(set.Name, strings.TrimSpace(setName)) {
			id = set.ID
			break
		}
	}
	if id == "" && len(resp.Data) > 0 {
		id = resp.Data[0].ID
	}

	s.setIDs.Add(key, id)
	return id, nil
}

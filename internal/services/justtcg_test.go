package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/models"
)

const justTCGSearchFixture = `{
  "data": [
    {
      "id": "pokemon-base-set-charizard", "name": "Charizard", "game": "Pokemon",
      "set": "base-set-pokemon", "set_name": "Base Set", "number": "4/102", "rarity": "Holo Rare",
      "variants": [
        {"id": "v-nm-holo", "condition": "Near Mint", "printing": "Holofoil", "language": "English", "price": 350.00},
        {"id": "v-lp-holo", "condition": "Lightly Played", "printing": "Holofoil", "language": "English", "price": null}
      ]
    },
    {
      "id": "pokemon-celebrations-charizard", "name": "Charizard", "game": "Pokemon",
      "set": "celebrations-pokemon", "number": "4/102", "rarity": "Classic Collection"
    }
  ],
  "meta": {"total": 2, "limit": 25, "offset": 0, "hasMore": false}
}`

const justTCGDetailFixture = `{
  "data": [{
    "id": "pokemon-celebrations-charizard", "name": "Charizard", "set": "celebrations-pokemon",
    "set_name": "Celebrations: Classic Collection",
    "variants": [
      {"id": "v-cel-en", "condition": "Near Mint", "printing": "Holofoil", "language": "English", "price": 1.25},
      {"id": "v-cel-ja", "condition": "Near Mint", "printing": "Holofoil", "language": "Japanese", "price": 2.00}
    ]
  }],
  "_metadata": {"apiDailyLimit": 100, "apiDailyRequestsUsed": 2, "apiDailyRequestsRemaining": 98}
}`

func newJustTCGTestService(t *testing.T, cfg config.JustTCGConfig, handler http.HandlerFunc) *JustTCGService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "jt-key"
	}
	return NewJustTCGService(cfg, newTestFetcher(nil, WithMaxAttempts(1)))
}

func TestNewJustTCGServiceDefaults(t *testing.T) {
	svc := NewJustTCGService(config.JustTCGConfig{APIKey: "test-key"}, NewFetcher("justtcg"))
	if svc.dailyLimit != 100 {
		t.Errorf("Expected default daily limit of 100, got %d", svc.dailyLimit)
	}
	if svc.concurrency != 4 {
		t.Errorf("Expected default concurrency of 4, got %d", svc.concurrency)
	}

	svc = NewJustTCGService(config.JustTCGConfig{DailyLimit: 200, Concurrency: 2}, NewFetcher("justtcg"))
	if svc.dailyLimit != 200 || svc.concurrency != 2 {
		t.Errorf("Expected configured limits, got %d / %d", svc.dailyLimit, svc.concurrency)
	}
}

func TestJustTCGSearchFlattensVariants(t *testing.T) {
	var searches, details atomic.Int32
	svc := newJustTCGTestService(t, config.JustTCGConfig{}, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "jt-key" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("cardId") != "" {
			details.Add(1)
			w.Write([]byte(justTCGDetailFixture))
			return
		}
		searches.Add(1)
		if r.URL.Query().Get("game") != "pokemon" {
			t.Errorf("expected game=pokemon, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(justTCGSearchFixture))
	})

	result := svc.Search(context.Background(), models.CardQuery{Name: "Charizard"}, 25)
	if result.Warning != nil {
		t.Fatalf("unexpected warning: %v", result.Warning)
	}
	if searches.Load() != 1 || details.Load() != 1 {
		t.Errorf("expected 1 search and 1 detail request, got %d and %d", searches.Load(), details.Load())
	}

	if len(result.Cards) != 3 {
		t.Fatalf("expected 3 flattened candidates, got %d: %+v", len(result.Cards), result.Cards)
	}

	byVariant := make(map[string]models.CandidateCard)
	for _, c := range result.Cards {
		if c.SourceTag != models.SourceSecondaryCatalog {
			t.Errorf("expected secondary catalog tag, got %s", c.SourceTag)
		}
		byVariant[c.VariantID] = c
	}

	nm := byVariant["v-nm-holo"]
	if nm.Price == nil || *nm.Price != 35000 {
		t.Errorf("expected 35000 cents for NM holo, got %v", nm.Price)
	}
	if nm.Condition != string(models.PriceConditionNM) || nm.Printing != models.PrintingHolofoil {
		t.Errorf("unexpected condition/printing %q/%q", nm.Condition, nm.Printing)
	}

	if lp := byVariant["v-lp-holo"]; lp.Price != nil {
		t.Errorf("expected unknown price for null variant price, got %v", *lp.Price)
	}

	cel, ok := byVariant["v-cel-en"]
	if !ok {
		t.Fatalf("expected the English celebrations variant, got %v", byVariant)
	}
	if cel.SetName != "Celebrations: Classic Collection" {
		t.Errorf("expected set name from detail fetch, got %q", cel.SetName)
	}
	if _, ok := byVariant["v-cel-ja"]; ok {
		t.Errorf("expected Japanese variant to be filtered for an English query")
	}

	var payload justTCGVariantPayload
	if err := json.Unmarshal(cel.RawPayload.Body, &payload); err != nil {
		t.Fatalf("raw payload is not valid JSON: %v", err)
	}
	if payload.Variant == nil || payload.Variant.ID != "v-cel-en" {
		t.Errorf("expected the variant in the raw payload, got %+v", payload)
	}
}

func TestJustTCGConditionPreference(t *testing.T) {
	cards := flattenJustTCGCards([]JustTCGCard{{
		ID: "c1", Name: "Charizard",
		Variants: []JustTCGVariant{
			{ID: "nm", Condition: "Near Mint", Language: "English"},
			{ID: "lp", Condition: "Lightly Played", Language: "English"},
		},
	}}, models.CardQuery{Name: "Charizard", Condition: "EX"})
	if len(cards) != 1 || cards[0].VariantID != "lp" {
		t.Errorf("expected only the LP variant for an EX query, got %+v", cards)
	}

	// a condition that matches nothing keeps every variant
	cards = flattenJustTCGCards([]JustTCGCard{{
		ID: "c1", Variants: []JustTCGVariant{{ID: "nm", Condition: "Near Mint"}},
	}}, models.CardQuery{Name: "Charizard", Condition: "PR"})
	if len(cards) != 1 {
		t.Errorf("expected fallback to all variants, got %d", len(cards))
	}
}

func TestJustTCGDailyQuota(t *testing.T) {
	var calls atomic.Int32
	svc := newJustTCGTestService(t, config.JustTCGConfig{DailyLimit: 1}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(justTCGSearchFixture))
	})

	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day }

	// the search spends the only request; the detail fetch is skipped
	first := svc.Search(context.Background(), models.CardQuery{Name: "Charizard"}, 25)
	if first.Warning != nil {
		t.Fatalf("unexpected warning: %v", first.Warning)
	}
	if len(first.Cards) != 3 {
		t.Errorf("expected 2 variants plus 1 variant-less candidate, got %d", len(first.Cards))
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
	if svc.GetRequestsRemaining() != 0 {
		t.Errorf("expected 0 remaining, got %d", svc.GetRequestsRemaining())
	}

	second := svc.Search(context.Background(), models.CardQuery{Name: "Charizard"}, 25)
	if second.Warning == nil || second.Warning.Kind != WarningQuota {
		t.Fatalf("expected quota warning, got %+v", second.Warning)
	}
	if calls.Load() != 1 {
		t.Errorf("expected no upstream call once the quota is spent, got %d", calls.Load())
	}

	day = day.Add(24 * time.Hour)
	if svc.GetRequestsRemaining() != 1 {
		t.Errorf("expected quota to reset on a new day, got %d", svc.GetRequestsRemaining())
	}
}

func TestJustTCGLooseRetry(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	svc := newJustTCGTestService(t, config.JustTCGConfig{}, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()
		if q == "lillie" {
			w.Write([]byte(`{"data": [{"id": "lillie-1", "name": "Lillie", "variants": [{"id": "v1", "language": "English", "price": 0.5}]}]}`))
			return
		}
		w.Write([]byte(`{"data": []}`))
	})

	result := svc.Search(context.Background(), models.CardQuery{Name: "Lillie's Determination"}, 25)
	if len(result.Cards) != 1 || result.Cards[0].ID != "lillie-1" {
		t.Fatalf("expected loose retry hit, got %+v", result.Cards)
	}
	if len(queries) != 2 || queries[0] != "Lillie's Determination" || queries[1] != "lillie" {
		t.Errorf("unexpected queries %v", queries)
	}
}

func TestJustTCGBoundedFanOut(t *testing.T) {
	var inFlight, peak atomic.Int32
	svc := newJustTCGTestService(t, config.JustTCGConfig{Concurrency: 2}, func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("cardId")
		if id == "" {
			var data []string
			for i := 0; i < 6; i++ {
				data = append(data, fmt.Sprintf(`{"id": "card-%d", "name": "Eevee"}`, i))
			}
			fmt.Fprintf(w, `{"data": [%s]}`, strings.Join(data, ","))
			return
		}

		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprintf(w, `{"data": [{"id": %q, "name": "Eevee", "variants": [{"id": "%s-v", "language": "English", "price": 1}]}]}`, id, id)
	})

	result := svc.Search(context.Background(), models.CardQuery{Name: "Eevee"}, 25)
	if len(result.Cards) != 6 {
		t.Fatalf("expected 6 candidates, got %d", len(result.Cards))
	}
	for _, c := range result.Cards {
		if c.Price == nil || *c.Price != 100 {
			t.Errorf("expected every candidate to be enriched, got %+v", c)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent detail fetches, saw %d", peak.Load())
	}
}

func TestJustTCGNotConfigured(t *testing.T) {
	svc := NewJustTCGService(config.JustTCGConfig{}, NewFetcher("justtcg"))
	result := svc.Search(context.Background(), models.CardQuery{Name: "Pikachu"}, 10)
	if result.Warning == nil || result.Warning.Kind != WarningConfig {
		t.Fatalf("expected config warning, got %+v", result.Warning)
	}
}

func TestMapJustTCGCondition(t *testing.T) {
	tests := []struct {
		input    string
		expected models.PriceCondition
	}{
		{"NM", models.PriceConditionNM},
		{"Near Mint", models.PriceConditionNM},
		{"LP", models.PriceConditionLP},
		{"Lightly Played", models.PriceConditionLP},
		{"MP", models.PriceConditionMP},
		{"Moderately Played", models.PriceConditionMP},
		{"HP", models.PriceConditionHP},
		{"Heavily Played", models.PriceConditionHP},
		{"DMG", models.PriceConditionDMG},
		{"Damaged", models.PriceConditionDMG},
		{"Sealed", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := mapJustTCGCondition(tt.input); got != tt.expected {
				t.Errorf("mapJustTCGCondition(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

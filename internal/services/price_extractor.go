package services

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/codyseavey/card-desk/internal/models"
)

// Printings checked for a market price, most valuable first
var marketPricePrintings = []string{"holofoil", "normal", "reverseHolofoil", "1stEditionHolofoil"}

// pricePaths lists where vendor payloads keep a usable price, in priority order
var pricePaths = buildPricePaths()

func buildPricePaths() [][]string {
	paths := [][]string{{"avg"}}
	for _, p := range marketPricePrintings {
		paths = append(paths,
			[]string{"tcgplayer", p, "market"},
			[]string{"tcgplayer", "prices", p, "market"},
			[]string{"tcgplayer", p, "marketPrice"},
		)
	}
	// cardmarket is EUR; only used when no USD market price exists
	return append(paths,
		[]string{"cardmarket", "avg"},
		[]string{"cardmarket", "prices", "averageSellPrice"},
	)
}

// ExtractPrice pulls the first available price out of a raw vendor payload.
// The bool is false when the payload has no numeric price at any known path.
func ExtractPrice(payload models.RawSourcePayload) (models.Cents, bool) {
	if len(payload.Body) == 0 {
		return 0, false
	}

	dec := json.NewDecoder(bytes.NewReader(payload.Body))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return 0, false
	}
	return ExtractPriceFromMap(body)
}

// ExtractPriceFromMap is ExtractPrice over an already decoded payload
func ExtractPriceFromMap(body map[string]any) (models.Cents, bool) {
	for _, path := range pricePaths {
		if dollars, ok := numericValue(lookupPath(body, path)); ok {
			return models.CentsFromDollars(dollars), true
		}
	}
	return 0, false
}

func lookupPath(body map[string]any, path []string) any {
	var cur any = body
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func numericValue(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parseDollars(n)
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, validPrice(f)
}

// parseDollars accepts "12.50", "$12.50" and "1,250.00"
func parseDollars(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !validPrice(f) {
		return 0, false
	}
	return f, true
}

// validPrice rejects NaN, infinities and negative amounts
func validPrice(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// SourceTag identifies which catalog adapter produced a candidate
type SourceTag string

const (
	SourceSheet            SourceTag = "sheet"
	SourcePrimaryCatalog   SourceTag = "primary_catalog"
	SourceSecondaryCatalog SourceTag = "secondary_catalog"
	SourceManual           SourceTag = "manual"
)

// Cents is the canonical internal price unit (US cents).
// Every adapter converts its vendor unit to Cents at its boundary.
type Cents int64

// CentsFromDollars converts a major-unit amount to cents, rounding half away from zero
func CentsFromDollars(dollars float64) Cents {
	return Cents(math.Round(dollars * 100))
}

// CentsPtr is a helper for building nullable prices
func CentsPtr(c Cents) *Cents {
	return &c
}

// Dollars returns the amount in major units
func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// CardQuery is the input to resolution. It is never persisted.
type CardQuery struct {
	Name      string `json:"name"`
	SetName   string `json:"set_name,omitempty"`
	Language  string `json:"language"`
	Condition string `json:"condition,omitempty"`
}

// CleanName returns the trimmed card name
func (q CardQuery) CleanName() string {
	return strings.TrimSpace(q.Name)
}

// CardLanguage returns the normalized language of the query (English when unset)
func (q CardQuery) CardLanguage() CardLanguage {
	return NormalizeLanguage(q.Language)
}

// RawSourcePayload keeps the vendor-specific JSON for a candidate, tagged with
// the source that produced it so each shape is only ever parsed by its own adapter.
type RawSourcePayload struct {
	Source SourceTag       `json:"source"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// CandidateCard is a possible match produced by a source adapter. Candidates
// are ephemeral: only the one an admin confirms becomes an InventoryItem.
type CandidateCard struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	SetName   string       `json:"set_name"`
	SetCode   string       `json:"set_code,omitempty"`
	Number    string       `json:"number"`
	Rarity    string       `json:"rarity"`
	ImageURL  string       `json:"image_url"`
	Language  CardLanguage `json:"language"`
	Printing  PrintingType `json:"printing,omitempty"`
	Condition string       `json:"condition,omitempty"`
	VariantID string       `json:"variant_id,omitempty"`

	// Price is nil when the source has no price for this card.
	// A nil price means "unknown" and must never be read as zero.
	Price *Cents `json:"price_cents"`

	SourceTag  SourceTag        `json:"source_tag"`
	RawPayload RawSourcePayload `json:"raw_payload"`
}

// HasPrice reports whether the candidate carries a known price
func (c CandidateCard) HasPrice() bool {
	return c.Price != nil
}

package models

import (
	"time"
)

type Condition string

const (
	ConditionMint      Condition = "M"
	ConditionNearMint  Condition = "NM"
	ConditionExcellent Condition = "EX"
	ConditionGood      Condition = "GD"
	ConditionLightPlay Condition = "LP"
	ConditionPlayed    Condition = "PL"
	ConditionPoor      Condition = "PR"
)

// IsValid reports whether c is one of the known inventory conditions
func (c Condition) IsValid() bool {
	switch c {
	case ConditionMint, ConditionNearMint, ConditionExcellent, ConditionGood,
		ConditionLightPlay, ConditionPlayed, ConditionPoor:
		return true
	}
	return false
}

// InventoryItem is a card the shop has confirmed and listed.
// It is owned by the persistence layer; resolution never touches it.
type InventoryItem struct {
	ID               uint         `json:"id" gorm:"primaryKey;autoIncrement"`
	CardName         string       `json:"card_name" gorm:"not null;index"`
	SetName          string       `json:"set_name"`
	CardNumber       string       `json:"card_number"`
	Rarity           string       `json:"rarity"`
	ImageURL         string       `json:"image_url"`
	MarketPrice      *Cents       `json:"market_price_cents"` // nil when the source had no price
	ListedPrice      Cents        `json:"listed_price_cents" gorm:"not null"`
	Condition        Condition    `json:"condition" gorm:"not null"`
	Language         CardLanguage `json:"language" gorm:"not null"`
	Source           SourceTag    `json:"source" gorm:"not null;index"`
	SourceCardID     string       `json:"source_card_id" gorm:"index"`
	Availability     bool         `json:"availability" gorm:"not null"`
	IdempotencyKey   *string      `json:"-" gorm:"uniqueIndex"`
	ScannedImagePath string       `json:"scanned_image_path" gorm:"default:null"`
	AddedAt          time.Time    `json:"added_at" gorm:"index"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// PersistInventoryRequest is the admin's confirmation of a candidate
type PersistInventoryRequest struct {
	Candidate   CandidateCard `json:"candidate"`
	ListedPrice Cents         `json:"listed_price_cents"`
	Condition   Condition     `json:"condition"`
	Language    string        `json:"language"`

	// ConfirmZeroPrice must be set to list a card at zero
	ConfirmZeroPrice bool   `json:"confirm_zero_price"`
	ScannedImageData string `json:"scanned_image_data,omitempty"` // base64 encoded
}

type UpdateInventoryRequest struct {
	ListedPrice  *Cents     `json:"listed_price_cents"`
	MarketPrice  *Cents     `json:"market_price_cents"`
	Condition    *Condition `json:"condition"`
	Language     *string    `json:"language"`
	Availability *bool      `json:"availability"`
}

type InventoryStats struct {
	TotalItems       int   `json:"total_items"`
	AvailableItems   int   `json:"available_items"`
	ListedValue      Cents `json:"listed_value_cents"`
	MarketValue      Cents `json:"market_value_cents"`
	UnpricedItems    int   `json:"unpriced_items"`
	ItemsBySheet     int   `json:"items_from_sheet"`
	ItemsByPrimary   int   `json:"items_from_primary_catalog"`
	ItemsBySecondary int   `json:"items_from_secondary_catalog"`
}

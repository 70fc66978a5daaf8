package models

import (
	"strings"
)

// PriceCondition represents the condition for pricing purposes
// Maps to JustTCG conditions
type PriceCondition string

const (
	PriceConditionNM  PriceCondition = "NM"  // Near Mint
	PriceConditionLP  PriceCondition = "LP"  // Lightly Played
	PriceConditionMP  PriceCondition = "MP"  // Moderately Played
	PriceConditionHP  PriceCondition = "HP"  // Heavily Played
	PriceConditionDMG PriceCondition = "DMG" // Damaged
)

// PrintingType represents card printing variants reported by the catalogs
type PrintingType string

const (
	PrintingNormal      PrintingType = "Normal"
	PrintingHolofoil    PrintingType = "Holofoil"
	PrintingReverseHolo PrintingType = "Reverse Holofoil"
	Printing1stEdition  PrintingType = "1st Edition"
	Printing1stEdHolo   PrintingType = "1st Edition Holofoil"
	PrintingUnlimited   PrintingType = "Unlimited"
)

// CardLanguage represents the language/region of a card
type CardLanguage string

const (
	LanguageEnglish  CardLanguage = "English"
	LanguageJapanese CardLanguage = "Japanese"
	LanguageGerman   CardLanguage = "German"
	LanguageFrench   CardLanguage = "French"
	LanguageItalian  CardLanguage = "Italian"
	LanguageSpanish  CardLanguage = "Spanish"
)

// AllCardLanguages returns all supported card languages
func AllCardLanguages() []CardLanguage {
	return []CardLanguage{
		LanguageEnglish,
		LanguageJapanese,
		LanguageGerman,
		LanguageFrench,
		LanguageItalian,
		LanguageSpanish,
	}
}

// MapConditionToPriceCondition maps the inventory condition
// to the price condition used by JustTCG
func MapConditionToPriceCondition(condition Condition) PriceCondition {
	switch condition {
	case ConditionMint, ConditionNearMint:
		return PriceConditionNM
	case ConditionExcellent, ConditionLightPlay:
		return PriceConditionLP
	case ConditionGood:
		return PriceConditionMP
	case ConditionPlayed:
		return PriceConditionHP
	case ConditionPoor:
		return PriceConditionDMG
	default:
		return PriceConditionNM
	}
}

// NormalizeLanguage maps various language string formats to our CardLanguage type.
// Handles vendor responses, ISO codes, and common variations.
// Returns LanguageEnglish as default for unknown/empty values.
func NormalizeLanguage(lang string) CardLanguage {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "japanese", "jp", "ja", "jpn":
		return LanguageJapanese
	case "german", "de", "deu", "ger":
		return LanguageGerman
	case "french", "fr", "fra", "fre":
		return LanguageFrench
	case "italian", "it", "ita":
		return LanguageItalian
	case "spanish", "es", "spa":
		return LanguageSpanish
	case "english", "en", "eng", "":
		return LanguageEnglish
	default:
		return LanguageEnglish
	}
}

// Code returns the two-letter ISO code used by catalog APIs
func (l CardLanguage) Code() string {
	switch l {
	case LanguageJapanese:
		return "ja"
	case LanguageGerman:
		return "de"
	case LanguageFrench:
		return "fr"
	case LanguageItalian:
		return "it"
	case LanguageSpanish:
		return "es"
	default:
		return "en"
	}
}

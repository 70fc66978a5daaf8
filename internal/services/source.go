package services

import (
	"context"
	"strings"

	"github.com/codyseavey/card-desk/internal/models"
)

// CardSource is one catalog in the resolution chain. Search never fails:
// upstream problems come back as an empty result carrying a warning.
type CardSource interface {
	Tag() models.SourceTag
	Search(ctx context.Context, query models.CardQuery, limit int) SourceResult
}

// SourceResult is what one catalog returned for one query
type SourceResult struct {
	Cards   []models.CandidateCard
	Warning *SourceWarning
}

// SourceStatus is reported by GET /api/sources/status
type SourceStatus struct {
	Tag            models.SourceTag `json:"tag"`
	Name           string           `json:"name"`
	Configured     bool             `json:"configured"`
	QuotaRemaining *int             `json:"quota_remaining,omitempty"`
}

// StatusReporter is implemented by sources that can describe their own state
type StatusReporter interface {
	Status() SourceStatus
}

func emptyResult(source models.SourceTag, err error) SourceResult {
	return SourceResult{Warning: warningFromError(source, err)}
}

func configWarning(source models.SourceTag, message string) SourceResult {
	return SourceResult{Warning: &SourceWarning{Source: source, Kind: WarningConfig, Message: message}}
}

// Suffixes catalogs often omit or format differently; stripped for unqualified lookups
var nameSuffixes = []string{"vmax", "vstar", "gx", "ex", "break", "mega", "v"}

// stripNameSuffixes removes trailing mechanic suffixes ("Pikachu VMAX" -> "Pikachu")
// and a leading "Mega" ("Mega Charizard" -> "Charizard").
func stripNameSuffixes(name string) string {
	words := strings.Fields(name)
	for len(words) > 1 && isNameSuffix(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	if len(words) > 1 && strings.EqualFold(words[0], "mega") {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func isNameSuffix(word string) bool {
	word = strings.ToLower(strings.Trim(word, "-"))
	for _, s := range nameSuffixes {
		if word == s {
			return true
		}
	}
	return false
}

// firstSignificantWord is the loose fallback term: the first word that is not
// a stop word or suffix and is at least three characters long.
func firstSignificantWord(name string) string {
	for _, word := range strings.Fields(normalizeCardText(name)) {
		word = strings.Trim(possessiveRe.ReplaceAllString(word, ""), `.,!?"():;'`)
		if len([]rune(word)) < 3 || keyTermStopWords[word] || nameStopWords[word] {
			continue
		}
		return word
	}
	return ""
}

// cleanCardName prepares a user supplied name for an upstream query
func cleanCardName(name string) string {
	name = curlyApostrophe.Replace(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, `"`, "")
	return collapseSpaces(name)
}

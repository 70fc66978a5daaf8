package services

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Words dropped from the stop-word-stripped variation
var nameStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "of": true,
}

// Tokens that never identify a specific card on their own
var keyTermStopWords = map[string]bool{
	// English
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"into": true, "your": true, "you": true, "this": true, "that": true,
	"are": true, "was": true, "its": true, "not": true, "but": true,
	"all": true, "out": true, "our": true,
	// game and rarity suffixes
	"pokemon": true, "pokémon": true, "card": true, "cards": true,
	"holo": true, "rare": true, "promo": true, "foil": true,
	"reverse": true, "secret": true, "ultra": true, "full": true, "art": true,
	"vmax": true, "vstar": true, "gx": true, "ex": true, "mega": true,
	"break": true, "prism": true, "star": true, "lvx": true, "legend": true,
	"edition": true, "1st": true, "tag": true, "team": true,
}

var (
	possessiveRe    = regexp.MustCompile(`'s\b`)
	trailingApos    = regexp.MustCompile(`'(\s|$)`)
	curlyApostrophe = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'", "`", "'")
)

// normalizeCardText folds full-width characters, curly apostrophes and case
func normalizeCardText(s string) string {
	s = width.Fold.String(s)
	s = curlyApostrophe.Replace(s)
	return collapseSpaces(strings.ToLower(strings.TrimSpace(s)))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// GenerateVariations expands a raw card name into the spellings catalogs
// are known to use. The result is sorted, deduplicated and has no empty entries.
func GenerateVariations(rawName string) []string {
	seen := make(map[string]struct{})
	add := func(s string) {
		s = collapseSpaces(s)
		if s != "" {
			seen[s] = struct{}{}
		}
	}

	add(strings.ToLower(strings.TrimSpace(rawName)))

	base := normalizeCardText(rawName)
	if base == "" {
		return sortedKeys(seen)
	}
	add(base)

	if strings.Contains(base, "&") {
		add(strings.ReplaceAll(base, "&", " and "))
		add(strings.ReplaceAll(base, "&", " "))
		add(strings.ReplaceAll(base, "&", ""))
		add(strings.ReplaceAll(base, "&", "＆"))
	}

	if strings.ContainsFunc(base, unicode.IsSpace) {
		add(strings.Join(strings.Fields(base), ""))
		add(strings.ReplaceAll(base, " ", "-"))
	}

	if strings.Contains(base, "'") {
		add(possessiveRe.ReplaceAllString(base, ""))
		add(trailingApos.ReplaceAllString(base, "$1"))
		add(strings.ReplaceAll(base, "'", ""))
	}

	if strings.Contains(base, "-") {
		add(strings.ReplaceAll(base, "-", " "))
		add(strings.ReplaceAll(base, "-", ""))
	}

	add(norm.NFC.String(base))
	add(norm.NFD.String(base))

	var kept []string
	for _, word := range strings.Fields(base) {
		if !nameStopWords[word] {
			kept = append(kept, word)
		}
	}
	add(strings.Join(kept, " "))

	return sortedKeys(seen)
}

// ExtractKeyTerms returns the distinctive tokens of a set of variations,
// plus each whole variation, for substring matching against catalog text.
func ExtractKeyTerms(variations []string) []string {
	seen := make(map[string]struct{})
	add := func(term string) {
		if utf8.RuneCountInString(term) >= 3 && !keyTermStopWords[term] {
			seen[term] = struct{}{}
		}
	}

	for _, v := range variations {
		tokens := strings.FieldsFunc(v, func(r rune) bool {
			return unicode.IsSpace(r) || r == '-' || r == '_' || r == '\''
		})
		for _, tok := range tokens {
			add(strings.Trim(tok, `.,!?"():;`))
		}
		add(v)
	}

	return sortedKeys(seen)
}

// MatchesKeyTerms reports whether text overlaps any key term in either direction.
// Text shorter than three runes only matches by containing a term, so a
// one-letter name like "N" does not match every term with an n in it.
func MatchesKeyTerms(text string, terms []string) bool {
	text = normalizeCardText(text)
	if text == "" {
		return false
	}
	reverse := utf8.RuneCountInString(text) >= 3
	for _, term := range terms {
		if strings.Contains(text, term) || (reverse && strings.Contains(term, text)) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

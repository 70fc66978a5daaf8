package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/codyseavey/card-desk/internal/config"
	"github.com/codyseavey/card-desk/internal/metrics"
	"github.com/codyseavey/card-desk/internal/models"
)

const defaultMaxResults = 25

type ResolutionStatus string

const (
	StatusMatched         ResolutionStatus = "matched"
	StatusNoSourceMatched ResolutionStatus = "no_source_matched"
)

// Per-source outcome recorded in Resolution.Attempts
const (
	AttemptHit     = "hit"
	AttemptEmpty   = "empty"
	AttemptWarning = "warning"
)

type SourceAttempt struct {
	Source   models.SourceTag `json:"source"`
	State    string           `json:"state"`
	Count    int              `json:"count"`
	Duration time.Duration    `json:"duration_ns"`
}

// Resolution is the outcome of running a query through the source chain
type Resolution struct {
	Status   ResolutionStatus       `json:"status"`
	Source   models.SourceTag       `json:"source,omitempty"`
	Query    models.CardQuery       `json:"query"`
	Cards    []models.CandidateCard `json:"cards"`
	Warnings []SourceWarning        `json:"warnings,omitempty"`
	Attempts []SourceAttempt        `json:"attempts"`
}

// Resolver tries card sources in priority order. The first source that
// returns any candidate wins; results from different sources are never merged.
type Resolver struct {
	sources    []CardSource
	maxResults int
	timeout    time.Duration
}

func NewResolver(sources []CardSource, cfg config.ResolverConfig) *Resolver {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Resolver{
		sources:    sources,
		maxResults: maxResults,
		timeout:    cfg.Timeout,
	}
}

// Sources returns the chain in priority order
func (r *Resolver) Sources() []CardSource {
	return r.sources
}

// Resolve runs query through the chain. limit <= 0 means the configured cap.
// It returns *ValidationError for an empty name and *LookupFailedError when
// every source failed; a clean miss is StatusNoSourceMatched with a nil error.
func (r *Resolver) Resolve(ctx context.Context, query models.CardQuery, limit int) (*Resolution, error) {
	start := time.Now()

	if query.CleanName() == "" {
		metrics.ResolutionsTotal.WithLabelValues("invalid").Inc()
		return nil, &ValidationError{Field: "name", Err: ErrEmptyCardName}
	}
	query.Name = query.CleanName()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	effective := r.maxResults
	if limit > 0 && limit < effective {
		effective = limit
	}

	res := &Resolution{
		Status: StatusNoSourceMatched,
		Query:  query,
		Cards:  []models.CandidateCard{},
	}
	defer func() {
		metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	}()

	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			metrics.ResolutionsTotal.WithLabelValues("canceled").Inc()
			return nil, fmt.Errorf("card resolution for %q interrupted: %w", query.Name, err)
		}

		srcStart := time.Now()
		result := src.Search(ctx, query, r.maxResults)
		attempt := SourceAttempt{Source: src.Tag(), Count: len(result.Cards), Duration: time.Since(srcStart)}

		switch {
		case len(result.Cards) > 0:
			attempt.State = AttemptHit
		case result.Warning != nil:
			attempt.State = AttemptWarning
			res.Warnings = append(res.Warnings, *result.Warning)
		default:
			attempt.State = AttemptEmpty
		}
		res.Attempts = append(res.Attempts, attempt)
		metrics.SourceResultsTotal.WithLabelValues(string(src.Tag()), attempt.State).Inc()

		if attempt.State != AttemptHit {
			continue
		}

		cards := RankCandidates(result.Cards, query.SetName)
		if len(cards) > effective {
			cards = cards[:effective]
		}

		res.Status = StatusMatched
		res.Source = src.Tag()
		res.Cards = cards
		metrics.ResolutionsTotal.WithLabelValues(string(StatusMatched)).Inc()
		log.Printf("[Resolver] %q resolved by %s: %d candidates (%d returned)",
			query.Name, src.Tag(), len(result.Cards), len(cards))
		return res, nil
	}

	if len(r.sources) == 0 || len(res.Warnings) == len(r.sources) {
		if err := ctx.Err(); err != nil {
			metrics.ResolutionsTotal.WithLabelValues("canceled").Inc()
			return nil, fmt.Errorf("card resolution for %q interrupted: %w", query.Name, err)
		}
		metrics.ResolutionsTotal.WithLabelValues("lookup_failed").Inc()
		log.Printf("[Resolver] %q: all %d sources failed", query.Name, len(r.sources))
		return nil, &LookupFailedError{Warnings: res.Warnings}
	}

	metrics.ResolutionsTotal.WithLabelValues(string(StatusNoSourceMatched)).Inc()
	log.Printf("[Resolver] %q: no source matched (%d warnings)", query.Name, len(res.Warnings))
	return res, nil
}

// RankCandidates orders candidates from one source: set-hint matches first,
// then by descending price with unknown prices last. The sort is stable and
// the input slice is not modified.
func RankCandidates(cards []models.CandidateCard, setHint string) []models.CandidateCard {
	ranked := make([]models.CandidateCard, len(cards))
	copy(ranked, cards)

	hint := strings.ToLower(strings.TrimSpace(setHint))
	matchesSet := func(c models.CandidateCard) bool {
		return hint != "" && strings.Contains(strings.ToLower(c.SetName), hint)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ma, mb := matchesSet(a), matchesSet(b); ma != mb {
			return ma
		}
		switch {
		case a.Price != nil && b.Price != nil:
			return *a.Price > *b.Price
		case a.Price != nil:
			return true
		default:
			return false
		}
	})
	return ranked
}

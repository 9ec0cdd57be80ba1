// Package pipeline orchestrates one collection run: fan out to all enabled
// sources, merge, filter by keywords, dedup against the seen store and hand
// the surviving batch to the caller. Collection is concurrent; filtering and
// dedup are single-threaded so the check-and-record invariant holds without
// key-level locking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/umputun/paperscope/pkg/collector"
	"github.com/umputun/paperscope/pkg/domain"
	"github.com/umputun/paperscope/pkg/match"
)

// SeenStore is the dedup/retention persistence used by the run
type SeenStore interface {
	IsNew(ctx context.Context, sourceID, externalID string) (bool, error)
	RecordSeen(ctx context.Context, article *domain.Article, now time.Time) error
	PurgeOlderThan(ctx context.Context, horizon time.Duration, now time.Time) (int64, error)
}

// stage names for run progress logging
type stage string

const (
	stageInit       stage = "INIT"
	stageCollecting stage = "COLLECTING"
	stageFiltering  stage = "FILTERING"
	stageDeduping   stage = "DEDUPING"
	stageDone       stage = "DONE"
)

// ErrAllSourcesFailed is returned when not a single source produced results
var ErrAllSourcesFailed = errors.New("all sources failed")

// Pipeline runs the collect-filter-dedup sequence for a fixed set of
// collectors and a keyword policy
type Pipeline struct {
	collectors []collector.Collector
	store      SeenStore
	policy     domain.KeywordPolicy
	opts       domain.RunOptions
	retention  time.Duration
	now        func() time.Time
}

// Result is the outcome of one run: the ordered batch for the notification
// sink plus per-source failures. SourceErrors never makes the run itself fail
// unless every source is in it.
type Result struct {
	Articles     []domain.Article
	SourceErrors map[string]error
	Collected    int // articles produced by collectors before filtering
	Matched      int // articles surviving the keyword filter
	Duplicates   int // articles dropped as already seen
}

// New creates a pipeline over the given collectors. Collector order defines
// the source priority used for tie-breaking.
func New(collectors []collector.Collector, store SeenStore, policy domain.KeywordPolicy,
	opts domain.RunOptions, retention time.Duration) *Pipeline {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	return &Pipeline{
		collectors: collectors,
		store:      store,
		policy:     policy,
		opts:       opts,
		retention:  retention,
		now:        time.Now,
	}
}

// Run executes one full pipeline pass
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	lgr.Printf("[INFO] run stage %s: %d sources", stageInit, len(p.collectors))
	if len(p.collectors) == 0 {
		return nil, fmt.Errorf("no enabled sources: %w", ErrAllSourcesFailed)
	}

	// retention sweep happens once per run, before anything is recorded
	if purged, err := p.store.PurgeOlderThan(ctx, p.retention, p.now()); err != nil {
		return nil, fmt.Errorf("retention purge: %w", err)
	} else if purged > 0 {
		lgr.Printf("[INFO] purged %d seen records past retention", purged)
	}

	// the wall-clock budget covers collection only. Filtering and dedup keep
	// the caller's context so results from sources that finished in time
	// still make it through when the budget expires.
	collectCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		collectCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	collected, sourceErrors := p.collect(collectCtx)
	if len(sourceErrors) == len(p.collectors) {
		return nil, fmt.Errorf("%d sources, %d failures: %w", len(p.collectors), len(sourceErrors), ErrAllSourcesFailed)
	}

	result := &Result{SourceErrors: sourceErrors, Collected: len(collected)}

	lgr.Printf("[INFO] run stage %s: %d articles", stageFiltering, len(collected))
	matched := p.filter(collected)
	result.Matched = len(matched)

	lgr.Printf("[INFO] run stage %s: %d articles", stageDeduping, len(matched))
	kept, dups, err := p.dedup(ctx, matched)
	if err != nil {
		// silently skipping dedup risks duplicate notifications, so a store
		// failure aborts the run instead of guessing
		return nil, fmt.Errorf("dedup: %w", err)
	}
	result.Duplicates = dups

	orderArticles(kept, p.priorities())
	if p.opts.MaxPerRun > 0 && len(kept) > p.opts.MaxPerRun {
		kept = kept[:p.opts.MaxPerRun]
	}
	result.Articles = kept

	lgr.Printf("[INFO] run stage %s: %d new articles, %d duplicates, %d source errors",
		stageDone, len(result.Articles), result.Duplicates, len(result.SourceErrors))
	return result, nil
}

// collect fans out to all collectors bounded by MaxWorkers. A failing source
// lands in the error map and never cancels its siblings; on run-budget expiry
// the in-flight collectors stop at their next fetch and completed results are
// retained.
func (p *Pipeline) collect(ctx context.Context) (articles []domain.Article, sourceErrors map[string]error) {
	lgr.Printf("[INFO] run stage %s", stageCollecting)

	results := make([][]domain.Article, len(p.collectors))
	errs := make([]error, len(p.collectors))

	var g errgroup.Group
	g.SetLimit(p.opts.MaxWorkers)
	for i, col := range p.collectors {
		g.Go(func() error {
			spec := col.Source()
			got, err := col.Collect(ctx, p.policy)
			if err != nil {
				lgr.Printf("[WARN] source %s failed: %v", spec.ID, err)
				errs[i] = err
				return nil // bulkhead: a source failure stays with its source
			}
			if p.opts.MaxPerSource > 0 && len(got) > p.opts.MaxPerSource {
				orderArticles(got, nil)
				got = got[:p.opts.MaxPerSource]
			}
			results[i] = got
			lgr.Printf("[INFO] source %s contributed %d articles", spec.ID, len(got))
			return nil
		})
	}
	_ = g.Wait() // goroutines report via errs, never an error

	sourceErrors = make(map[string]error)
	for i, col := range p.collectors {
		if errs[i] != nil {
			sourceErrors[col.Source().ID] = errs[i]
			continue
		}
		articles = append(articles, results[i]...)
	}
	return articles, sourceErrors
}

// filter keeps articles matching the keyword policy and, when a freshness
// window is set, drops matched articles published before it. Articles with
// unknown publication dates are kept.
func (p *Pipeline) filter(articles []domain.Article) []domain.Article {
	var cutoff time.Time
	if p.opts.FreshnessWindow > 0 {
		cutoff = p.now().Add(-p.opts.FreshnessWindow)
	}

	kept := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		ok, matched := match.Match(&a, p.policy)
		if !ok {
			continue
		}
		if !cutoff.IsZero() && !a.PublishedAt.IsZero() && a.PublishedAt.Before(cutoff) {
			continue
		}
		a.MatchedKeywords = matched
		kept = append(kept, a)
	}
	return kept
}

// dedup is the single-threaded check-and-record pass. The first article
// processed for a key wins; any store error is fatal to the run.
func (p *Pipeline) dedup(ctx context.Context, articles []domain.Article) (kept []domain.Article, dups int, err error) {
	now := p.now()
	for i := range articles {
		a := &articles[i]
		sourceID, externalID := a.DedupKey()
		isNew, err := p.store.IsNew(ctx, sourceID, externalID)
		if err != nil {
			return nil, 0, fmt.Errorf("check %s/%s: %w", sourceID, externalID, err)
		}
		if !isNew {
			dups++
			continue
		}
		if err := p.store.RecordSeen(ctx, a, now); err != nil {
			return nil, 0, fmt.Errorf("record %s/%s: %w", sourceID, externalID, err)
		}
		kept = append(kept, *a)
	}
	return kept, dups, nil
}

// priorities maps source id to its declaration order in the registry
func (p *Pipeline) priorities() map[string]int {
	prio := make(map[string]int, len(p.collectors))
	for _, col := range p.collectors {
		spec := col.Source()
		prio[spec.ID] = spec.Priority
	}
	return prio
}

// orderArticles sorts most-recently-published first; articles with unknown
// publication dates go last. Ties break by source priority (declaration
// order), then by external id for full determinism. This ordering decides
// which articles survive the run caps, so it is part of the contract.
func orderArticles(articles []domain.Article, priority map[string]int) {
	sort.SliceStable(articles, func(i, j int) bool {
		a, b := articles[i], articles[j]

		aKnown, bKnown := !a.PublishedAt.IsZero(), !b.PublishedAt.IsZero()
		switch {
		case aKnown && !bKnown:
			return true
		case !aKnown && bKnown:
			return false
		case aKnown && bKnown && !a.PublishedAt.Equal(b.PublishedAt):
			return a.PublishedAt.After(b.PublishedAt)
		}

		if priority != nil {
			pa, pb := priority[a.SourceID], priority[b.SourceID]
			if pa != pb {
				return pa < pb
			}
		}
		return a.ExternalID < b.ExternalID
	})
}

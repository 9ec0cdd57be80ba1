// Package collector turns configured sources into normalized articles. Each
// protocol (api, feed, web) has its own collector; all of them share the
// rate-limited, retrying HTTP fetcher. A collector failure is always scoped to
// its own source.
package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/umputun/paperscope/pkg/domain"
)

// Collector produces the articles of a single source for one run
type Collector interface {
	Collect(ctx context.Context, policy domain.KeywordPolicy) ([]domain.Article, error)
	Source() domain.SourceSpec
}

// CollectionError tags a source-level failure with its source id. It never
// aborts the whole run; the orchestrator records it per-source.
type CollectionError struct {
	SourceID string
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("source %s: %v", e.SourceID, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// Options holds settings shared by all collectors of a run
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
}

// New builds the collector matching the spec's protocol
func New(spec domain.SourceSpec, opts Options) (Collector, error) {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "paperscope/1.0"
	}

	fetch := newFetcher(spec, opts)

	switch spec.Protocol {
	case domain.ProtocolAPI:
		parse, ok := apiParsers[spec.ParserID]
		if !ok {
			return nil, fmt.Errorf("unknown api parser %q for source %s", spec.ParserID, spec.ID)
		}
		return &APICollector{spec: spec, fetch: fetch, parse: parse}, nil
	case domain.ProtocolFeed:
		return &FeedCollector{spec: spec, fetch: fetch}, nil
	case domain.ProtocolWeb:
		return &WebCollector{spec: spec, fetch: fetch}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q for source %s", spec.Protocol, spec.ID)
	}
}

// buildQuery substitutes the keyword expression into the template. Keywords
// are quoted and OR-joined the way the upstream search APIs expect, then
// URL-escaped as a whole.
func buildQuery(template string, keywords []string) string {
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = `"` + k + `"`
	}
	expr := url.QueryEscape(strings.Join(quoted, " OR "))
	return strings.ReplaceAll(template, "{keywords}", expr)
}

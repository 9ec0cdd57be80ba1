package collector

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"github.com/umputun/paperscope/pkg/domain"
)

// FeedCollector fetches an RSS/Atom feed once per run. Feeds are not
// paginated; keyword selection happens downstream in the matcher.
type FeedCollector struct {
	spec  domain.SourceSpec
	fetch *fetcher
}

// Source returns the collector's source spec
func (c *FeedCollector) Source() domain.SourceSpec { return c.spec }

// Collect fetches and parses the feed document. A parse failure fails the
// whole source - a malformed feed gives no reliable partial signal.
func (c *FeedCollector) Collect(ctx context.Context, _ domain.KeywordPolicy) ([]domain.Article, error) {
	body, err := c.fetch.get(ctx, c.spec.Endpoint)
	if err != nil {
		return nil, &CollectionError{SourceID: c.spec.ID, Err: fmt.Errorf("fetch feed: %w", err)}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &CollectionError{SourceID: c.spec.ID, Err: fmt.Errorf("parse feed: %w", err)}
	}

	maxResults := c.spec.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	articles := make([]domain.Article, 0, min(len(feed.Items), maxResults))
	skipped := 0
	for _, item := range feed.Items {
		if len(articles) >= maxResults {
			break
		}
		article, err := parseFeedItem(c.spec, item)
		if err != nil {
			skipped++ // one bad entry doesn't abort the rest
			continue
		}
		articles = append(articles, article)
	}

	if skipped > 0 {
		lgr.Printf("[WARN] skipped %d malformed entries from feed source %s", skipped, c.spec.ID)
	}
	lgr.Printf("[DEBUG] collected %d articles from feed source %s", len(articles), c.spec.ID)
	return articles, nil
}

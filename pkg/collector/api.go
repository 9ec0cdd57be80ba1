package collector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/paperscope/pkg/domain"
)

// APICollector pulls paginated search results from a JSON or Atom API.
// It stops when a page comes back short or the per-query cap is reached.
type APICollector struct {
	spec  domain.SourceSpec
	fetch *fetcher
	parse apiParser
}

// Source returns the collector's source spec
func (c *APICollector) Source() domain.SourceSpec { return c.spec }

// Collect runs the paginated search for the policy's keywords
func (c *APICollector) Collect(ctx context.Context, policy domain.KeywordPolicy) ([]domain.Article, error) {
	query := buildQuery(c.spec.QueryTemplate, policy.Keywords)

	pageSize := c.spec.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}
	maxResults := c.spec.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	var articles []domain.Article
	for start := 0; start < maxResults; start += pageSize {
		size := pageSize
		if remaining := maxResults - start; remaining < size {
			size = remaining
		}

		body, err := c.fetch.get(ctx, c.pageURL(query, start, size))
		if err != nil {
			return nil, &CollectionError{SourceID: c.spec.ID, Err: fmt.Errorf("fetch page at %d: %w", start, err)}
		}

		page, err := c.parse(c.spec, body)
		if err != nil {
			// a top-level parse failure means the response shape changed, not
			// a bad individual record - fail the source
			return nil, &CollectionError{SourceID: c.spec.ID, Err: fmt.Errorf("parse page at %d: %w", start, err)}
		}

		articles = append(articles, page...)
		if len(page) < size {
			break // short page, no more results upstream
		}
	}

	if len(articles) > maxResults {
		articles = articles[:maxResults]
	}
	lgr.Printf("[DEBUG] collected %d articles from api source %s", len(articles), c.spec.ID)
	return articles, nil
}

// pageURL assembles the request URL for one page: endpoint + expanded query
// template + pagination parameters
func (c *APICollector) pageURL(query string, start, size int) string {
	var sb strings.Builder
	sb.WriteString(c.spec.Endpoint)

	sep := "?"
	if strings.Contains(c.spec.Endpoint, "?") {
		sep = "&"
	}
	if query != "" {
		sb.WriteString(sep)
		sb.WriteString(query)
		sep = "&"
	}

	startParam := c.spec.StartParam
	if startParam == "" {
		startParam = "start"
	}
	sizeParam := c.spec.SizeParam
	if sizeParam == "" {
		sizeParam = "max_results"
	}

	sb.WriteString(sep)
	sb.WriteString(url.QueryEscape(startParam))
	sb.WriteString("=")
	sb.WriteString(strconv.Itoa(start))
	sb.WriteString("&")
	sb.WriteString(url.QueryEscape(sizeParam))
	sb.WriteString("=")
	sb.WriteString(strconv.Itoa(size))

	return sb.String()
}

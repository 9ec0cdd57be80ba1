package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-pkgz/lgr"

	"github.com/umputun/paperscope/pkg/domain"
)

// WebCollector scrapes an HTML listing page with configured CSS selectors.
// A selector mismatch on one article block skips that block; zero matches for
// the root container fail the source, since that usually means the page
// structure changed rather than zero results.
type WebCollector struct {
	spec  domain.SourceSpec
	fetch *fetcher
}

// Source returns the collector's source spec
func (c *WebCollector) Source() domain.SourceSpec { return c.spec }

// Collect fetches the listing page and carves out article blocks
func (c *WebCollector) Collect(ctx context.Context, policy domain.KeywordPolicy) ([]domain.Article, error) {
	pageURL := c.spec.Endpoint
	if c.spec.QueryTemplate != "" {
		sep := "?"
		if strings.Contains(pageURL, "?") {
			sep = "&"
		}
		pageURL += sep + buildQuery(c.spec.QueryTemplate, policy.Keywords)
	}

	body, err := c.fetch.get(ctx, pageURL)
	if err != nil {
		return nil, &CollectionError{SourceID: c.spec.ID, Err: fmt.Errorf("fetch listing: %w", err)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &CollectionError{SourceID: c.spec.ID, Err: fmt.Errorf("parse html: %w", err)}
	}

	sel := c.spec.Selectors
	blocks := doc.Find(sel.Container)
	if blocks.Length() == 0 {
		return nil, &CollectionError{SourceID: c.spec.ID,
			Err: fmt.Errorf("container selector %q matched nothing, page structure likely changed", sel.Container)}
	}

	maxResults := c.spec.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	var articles []domain.Article
	skipped := 0
	blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		if len(articles) >= maxResults {
			return false
		}
		article, err := c.parseBlock(block)
		if err != nil {
			skipped++
			return true
		}
		articles = append(articles, article)
		return true
	})

	if skipped > 0 {
		lgr.Printf("[WARN] skipped %d article blocks from web source %s", skipped, c.spec.ID)
	}
	lgr.Printf("[DEBUG] collected %d articles from web source %s", len(articles), c.spec.ID)
	return articles, nil
}

// parseBlock maps one article block to an Article using the selector set.
// Title and link are mandatory; the rest degrade to empty.
func (c *WebCollector) parseBlock(block *goquery.Selection) (domain.Article, error) {
	sel := c.spec.Selectors

	title := cleanText(block.Find(sel.Title).First().Text())
	if title == "" {
		return domain.Article{}, fmt.Errorf("title selector %q matched nothing", sel.Title)
	}

	link, _ := block.Find(sel.Link).First().Attr("href")
	if link == "" {
		return domain.Article{}, fmt.Errorf("link selector %q matched nothing", sel.Link)
	}
	link = c.absoluteLink(link)

	article := domain.Article{
		SourceID:   c.spec.ID,
		ExternalID: domain.FallbackID(title, link),
		Title:      title,
		Link:       link,
		Journal:    c.spec.Name,
	}

	if sel.Abstract != "" {
		article.Abstract = sanitizeText(block.Find(sel.Abstract).First().Text())
	}
	if sel.Date != "" {
		article.PublishedAt = parseDate(cleanText(block.Find(sel.Date).First().Text()))
	}
	if sel.Authors != "" {
		article.Authors = splitAuthors(cleanText(block.Find(sel.Authors).First().Text()))
	}

	return article, nil
}

// absoluteLink resolves a relative href against the source endpoint
func (c *WebCollector) absoluteLink(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	base, err := url.Parse(c.spec.Endpoint)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

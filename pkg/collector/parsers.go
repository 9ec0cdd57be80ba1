package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/umputun/paperscope/pkg/domain"
)

// apiParser maps one API response page into articles. Parsers are pure; a
// malformed individual record is skipped, a malformed top-level payload is an
// error for the caller.
type apiParser func(spec domain.SourceSpec, body []byte) ([]domain.Article, error)

// apiParsers is the closed set of supported API payload shapes, dispatched by
// the spec's parser id. Adding a source shape means adding an entry here.
var apiParsers = map[string]apiParser{
	"arxiv-atom":    parseArxivAtom,
	"springer-json": parseSpringerJSON,
	"elsevier-json": parseElsevierJSON,
	"crossref-json": parseCrossrefJSON,
}

// KnownAPIParser reports whether the parser id is supported, used by config
// validation
func KnownAPIParser(id string) bool {
	_, ok := apiParsers[id]
	return ok
}

// parseArxivAtom handles the arXiv API, which answers searches with an Atom
// document
func parseArxivAtom(spec domain.SourceSpec, body []byte) ([]domain.Article, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse atom payload: %w", err)
	}

	articles := make([]domain.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Title == "" || item.Link == "" {
			continue
		}
		article := domain.Article{
			SourceID:   spec.ID,
			ExternalID: item.GUID, // arxiv abs URL, stable per version
			Title:      cleanText(item.Title),
			Abstract:   sanitizeText(item.Description),
			Link:       item.Link,
			Journal:    "arXiv",
		}
		if article.ExternalID == "" {
			article.ExternalID = domain.FallbackID(article.Title, article.Link)
		}
		if item.PublishedParsed != nil {
			article.PublishedAt = *item.PublishedParsed
		}
		for _, a := range item.Authors {
			if a != nil && a.Name != "" {
				article.Authors = append(article.Authors, a.Name)
			}
		}
		article.Keywords = append(article.Keywords, item.Categories...)
		articles = append(articles, article)
	}
	return articles, nil
}

// springerResponse mirrors the Springer Nature metadata API
type springerResponse struct {
	Records []struct {
		Title    string `json:"title"`
		Abstract string `json:"abstract"`
		DOI      string `json:"doi"`
		URL      []struct {
			Value string `json:"value"`
		} `json:"url"`
		Creators []struct {
			Creator string `json:"creator"`
		} `json:"creators"`
		PublicationDate string `json:"publicationDate"`
		PublicationName string `json:"publicationName"`
		Subjects        []struct {
			Subject string `json:"subject"`
		} `json:"subjects"`
	} `json:"records"`
}

func parseSpringerJSON(spec domain.SourceSpec, body []byte) ([]domain.Article, error) {
	var resp springerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse springer payload: %w", err)
	}

	articles := make([]domain.Article, 0, len(resp.Records))
	for _, rec := range resp.Records {
		if rec.Title == "" {
			continue
		}
		link := ""
		if len(rec.URL) > 0 {
			link = rec.URL[0].Value
		}
		article := domain.Article{
			SourceID:    spec.ID,
			ExternalID:  rec.DOI,
			Title:       cleanText(rec.Title),
			Abstract:    sanitizeText(rec.Abstract),
			Link:        link,
			Journal:     rec.PublicationName,
			DOI:         rec.DOI,
			PublishedAt: parseDate(rec.PublicationDate),
		}
		if article.ExternalID == "" {
			article.ExternalID = domain.FallbackID(article.Title, article.Link)
		}
		for _, c := range rec.Creators {
			if c.Creator != "" {
				article.Authors = append(article.Authors, c.Creator)
			}
		}
		for _, s := range rec.Subjects {
			if s.Subject != "" {
				article.Keywords = append(article.Keywords, s.Subject)
			}
		}
		articles = append(articles, article)
	}
	return articles, nil
}

// elsevierResponse mirrors the Elsevier search API. The API key travels in a
// per-source header, not here.
type elsevierResponse struct {
	Results []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		Description string `json:"description"`
		Authors     []struct {
			Name string `json:"name"`
		} `json:"authors"`
		PublicationDate string `json:"publicationDate"`
		SourceTitle     string `json:"sourceTitle"`
		DOI             string `json:"doi"`
	} `json:"results"`
}

func parseElsevierJSON(spec domain.SourceSpec, body []byte) ([]domain.Article, error) {
	var resp elsevierResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse elsevier payload: %w", err)
	}

	articles := make([]domain.Article, 0, len(resp.Results))
	for _, rec := range resp.Results {
		if rec.Title == "" {
			continue
		}
		article := domain.Article{
			SourceID:    spec.ID,
			ExternalID:  rec.DOI,
			Title:       cleanText(rec.Title),
			Abstract:    sanitizeText(rec.Description),
			Link:        rec.Link,
			Journal:     rec.SourceTitle,
			DOI:         rec.DOI,
			PublishedAt: parseDate(rec.PublicationDate),
		}
		if article.ExternalID == "" {
			article.ExternalID = domain.FallbackID(article.Title, article.Link)
		}
		for _, a := range rec.Authors {
			if a.Name != "" {
				article.Authors = append(article.Authors, a.Name)
			}
		}
		articles = append(articles, article)
	}
	return articles, nil
}

// crossrefResponse mirrors the Crossref works API
type crossrefResponse struct {
	Message struct {
		Items []struct {
			DOI            string   `json:"DOI"`
			Title          []string `json:"title"`
			Abstract       string   `json:"abstract"`
			URL            string   `json:"URL"`
			ContainerTitle []string `json:"container-title"`
			Author         []struct {
				Given  string `json:"given"`
				Family string `json:"family"`
			} `json:"author"`
			Created struct {
				DateTime string `json:"date-time"`
			} `json:"created"`
		} `json:"items"`
	} `json:"message"`
}

func parseCrossrefJSON(spec domain.SourceSpec, body []byte) ([]domain.Article, error) {
	var resp crossrefResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse crossref payload: %w", err)
	}

	articles := make([]domain.Article, 0, len(resp.Message.Items))
	for _, item := range resp.Message.Items {
		if len(item.Title) == 0 || item.Title[0] == "" {
			continue
		}
		article := domain.Article{
			SourceID:    spec.ID,
			ExternalID:  item.DOI,
			Title:       cleanText(item.Title[0]),
			Abstract:    sanitizeText(item.Abstract),
			Link:        item.URL,
			DOI:         item.DOI,
			PublishedAt: parseDate(item.Created.DateTime),
		}
		if len(item.ContainerTitle) > 0 {
			article.Journal = item.ContainerTitle[0]
		}
		if article.ExternalID == "" {
			article.ExternalID = domain.FallbackID(article.Title, article.Link)
		}
		for _, a := range item.Author {
			name := strings.TrimSpace(a.Given + " " + a.Family)
			if name != "" {
				article.Authors = append(article.Authors, name)
			}
		}
		articles = append(articles, article)
	}
	return articles, nil
}

// parseFeedItem maps one RSS/Atom entry to an Article. Missing optional
// fields degrade to empty or unknown; a missing title or link is an error and
// the entry is skipped by the caller.
func parseFeedItem(spec domain.SourceSpec, item *gofeed.Item) (domain.Article, error) {
	if item.Title == "" {
		return domain.Article{}, fmt.Errorf("feed entry without title")
	}
	if item.Link == "" {
		return domain.Article{}, fmt.Errorf("feed entry %q without link", item.Title)
	}

	article := domain.Article{
		SourceID: spec.ID,
		Title:    cleanText(item.Title),
		Link:     item.Link,
		Journal:  spec.Name,
		Keywords: item.Categories,
	}

	// GUID is the source-native identity; fall back to a stable hash
	switch {
	case item.GUID != "":
		article.ExternalID = item.GUID
	default:
		article.ExternalID = domain.FallbackID(article.Title, article.Link)
	}

	abstract := item.Description
	if abstract == "" {
		abstract = item.Content
	}
	article.Abstract = sanitizeText(abstract)

	if item.PublishedParsed != nil {
		article.PublishedAt = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		article.PublishedAt = *item.UpdatedParsed
	}

	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			article.Authors = append(article.Authors, a.Name)
		}
	}

	return article, nil
}

// abstractPolicy strips all markup from abstracts coming with embedded HTML
var abstractPolicy = bluemonday.StrictPolicy()

// sanitizeText strips HTML tags and entities and collapses whitespace
func sanitizeText(s string) string {
	return cleanText(html.UnescapeString(abstractPolicy.Sanitize(s)))
}

// cleanText collapses runs of whitespace into single spaces
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dateFormats lists formats seen across the supported sources
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// parseDate tries known date layouts, returning zero time when none fits -
// an unknown publication date is not an error
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// splitAuthors breaks a comma-separated byline into author names
func splitAuthors(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	authors := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			authors = append(authors, name)
		}
	}
	return authors
}

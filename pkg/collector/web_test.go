package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/paperscope/pkg/domain"
)

func webSpec(endpoint string) domain.SourceSpec {
	return domain.SourceSpec{
		ID:       "sciencedirect",
		Name:     "ScienceDirect",
		Protocol: domain.ProtocolWeb,
		Endpoint: endpoint,
		Selectors: domain.SelectorSet{
			Container: "div.result-item",
			Title:     "h2",
			Link:      "h2 a",
			Abstract:  "div.abstract",
			Date:      "div.date",
			Authors:   "div.authors",
		},
		Enabled: true,
	}
}

const listingPage = `<html><body>
<div class="result-item">
	<h2><a href="/article/pii/S123">Tandem Perovskite Devices</a></h2>
	<div class="abstract">We report a tandem cell.</div>
	<div class="date">2025-01-15</div>
	<div class="authors">A. Researcher, B. Scientist</div>
</div>
<div class="result-item">
	<h2><a href="https://other.example.com/abs/42">Absolute Link Article</a></h2>
</div>
<div class="result-item">
	<div class="abstract">block without title, skipped</div>
</div>
</body></html>`

func TestWebCollector_Collect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(listingPage)) //nolint:errcheck // test server
	}))
	defer server.Close()

	c, err := New(webSpec(server.URL), Options{})
	require.NoError(t, err)

	articles, err := c.Collect(context.Background(), domain.KeywordPolicy{Keywords: []string{"tandem"}})
	require.NoError(t, err)
	require.Len(t, articles, 2, "block with selector mismatch is skipped, not fatal")

	first := articles[0]
	assert.Equal(t, "Tandem Perovskite Devices", first.Title)
	assert.Equal(t, server.URL+"/article/pii/S123", first.Link, "relative link resolved against endpoint")
	assert.Equal(t, "We report a tandem cell.", first.Abstract)
	assert.Equal(t, []string{"A. Researcher", "B. Scientist"}, first.Authors)
	assert.Equal(t, 2025, first.PublishedAt.Year())
	assert.NotEmpty(t, first.ExternalID)

	second := articles[1]
	assert.Equal(t, "https://other.example.com/abs/42", second.Link, "absolute link untouched")
	assert.True(t, second.PublishedAt.IsZero())
}

func TestWebCollector_EmptyContainerFailsSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body><p>page redesigned</p></body></html>`)) //nolint:errcheck // test server
	}))
	defer server.Close()

	c, err := New(webSpec(server.URL), Options{})
	require.NoError(t, err)

	_, err = c.Collect(context.Background(), domain.KeywordPolicy{})
	require.Error(t, err)

	var collErr *CollectionError
	require.ErrorAs(t, err, &collErr)
	assert.Equal(t, "sciencedirect", collErr.SourceID)
	assert.Contains(t, collErr.Error(), "matched nothing")
}

func TestWebCollector_QueryTemplate(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(listingPage)) //nolint:errcheck // test server
	}))
	defer server.Close()

	spec := webSpec(server.URL)
	spec.QueryTemplate = "qs={keywords}&show=25"
	c, err := New(spec, Options{})
	require.NoError(t, err)

	_, err = c.Collect(context.Background(), domain.KeywordPolicy{Keywords: []string{"solar", "cell"}})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "qs=%22solar%22+OR+%22cell%22")
}

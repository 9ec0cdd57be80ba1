package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/paperscope/pkg/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_EndToEndDryRun(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Test Journal</title>
  <item>
    <title>Perovskite breakthrough</title>
    <link>https://example.com/articles/1</link>
    <guid>article-1</guid>
    <description>A perovskite result.</description>
    <pubDate>Mon, 09 Jun 2025 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Unrelated biology paper</title>
    <link>https://example.com/articles/2</link>
    <guid>article-2</guid>
  </item>
</channel></rss>`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feed))
	}))
	defer ts.Close()

	tmpDir := t.TempDir()
	configContent := `
database:
  dsn: "file:` + filepath.Join(tmpDir, "test.db") + `?mode=rwc"

keywords:
  terms: [perovskite]

sources:
  - id: test-feed
    protocol: feed
    endpoint: ` + ts.URL + `
`
	configPath := writeFile(t, tmpDir, "config.yml", configContent)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = run(ctx, cfg, true)
	require.NoError(t, err)

	// second pass should see everything as duplicate and still succeed
	err = run(ctx, cfg, true)
	require.NoError(t, err)
}

func TestRun_BadDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
database:
  dsn: "file:/non/existent/dir/test.db?mode=rwc"

keywords:
  terms: [perovskite]

sources:
  - id: test-feed
    protocol: feed
    endpoint: https://example.com/rss
`
	cfg, err := config.Load(writeFile(t, tmpDir, "config.yml", configContent))
	require.NoError(t, err)

	err = run(context.Background(), cfg, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open seen store")
}

func TestMakeCollectors(t *testing.T) {
	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{ID: "api-src", Protocol: "api", Endpoint: "https://example.com/api", Parser: "arxiv-atom"},
			{ID: "feed-src", Protocol: "feed", Endpoint: "https://example.com/rss"},
		},
	}
	cfg.Run.UserAgent = "test/1.0"
	cfg.Run.RequestTimeout = 5 * time.Second

	collectors, err := makeCollectors(cfg)
	require.NoError(t, err)
	require.Len(t, collectors, 2)
	assert.Equal(t, "api-src", collectors[0].Source().ID)
	assert.Equal(t, "feed-src", collectors[1].Source().ID)
}

func TestMakeCollectors_UnknownParser(t *testing.T) {
	cfg := &config.Config{
		Sources: []config.SourceConfig{
			{ID: "api-src", Protocol: "api", Endpoint: "https://example.com/api", Parser: "nope"},
		},
	}

	_, err := makeCollectors(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown api parser")
}

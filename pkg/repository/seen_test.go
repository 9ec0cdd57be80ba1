package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/paperscope/pkg/domain"
)

func setupTestStore(t *testing.T) *SeenStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?mode=rwc&_txlock=immediate"
	store, err := NewSeenStore(context.Background(), Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSeenStore_IsNewAndRecordSeen(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	article := &domain.Article{
		SourceID:   "arxiv",
		ExternalID: "10.1000/xyz",
		Title:      "some title",
		Link:       "https://example.com/a",
		Journal:    "arXiv",
	}

	isNew, err := store.IsNew(ctx, article.SourceID, article.ExternalID)
	require.NoError(t, err)
	assert.True(t, isNew)

	require.NoError(t, store.RecordSeen(ctx, article, now))

	// dedup is a function of the key, not article content
	other := &domain.Article{SourceID: "arxiv", ExternalID: "10.1000/xyz", Title: "different title"}
	isNew, err = store.IsNew(ctx, other.SourceID, other.ExternalID)
	require.NoError(t, err)
	assert.False(t, isNew)

	// same external id under a different source is still new
	isNew, err = store.IsNew(ctx, "springer", article.ExternalID)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestSeenStore_RecordSeenIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	article := &domain.Article{SourceID: "s1", ExternalID: "e1", Title: "t"}
	first := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	require.NoError(t, store.RecordSeen(ctx, article, first))
	require.NoError(t, store.RecordSeen(ctx, article, later))

	var count int
	err := store.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM seen_articles WHERE source_id = ? AND external_id = ?", "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "double recording must produce one row")

	var firstSeen time.Time
	err = store.db.GetContext(ctx, &firstSeen,
		"SELECT first_seen_at FROM seen_articles WHERE source_id = ? AND external_id = ?", "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, first, firstSeen.UTC(), "first_seen_at must not change on re-record")
}

func TestSeenStore_PurgeOlderThan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	horizon := 30 * 24 * time.Hour

	old := &domain.Article{SourceID: "s1", ExternalID: "old"}
	onEdge := &domain.Article{SourceID: "s1", ExternalID: "edge"}
	recent := &domain.Article{SourceID: "s1", ExternalID: "recent"}

	require.NoError(t, store.RecordSeen(ctx, old, now.Add(-horizon-time.Hour)))
	require.NoError(t, store.RecordSeen(ctx, onEdge, now.Add(-horizon))) // exactly at horizon, kept
	require.NoError(t, store.RecordSeen(ctx, recent, now.Add(-time.Hour)))

	deleted, err := store.PurgeOlderThan(ctx, horizon, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	for key, wantNew := range map[string]bool{"old": true, "edge": false, "recent": false} {
		isNew, err := store.IsNew(ctx, "s1", key)
		require.NoError(t, err)
		assert.Equal(t, wantNew, isNew, "key %s", key)
	}
}

func TestSeenStore_MarkSentAndGetUnsent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	a1 := &domain.Article{SourceID: "s1", ExternalID: "e1", Title: "first"}
	a2 := &domain.Article{SourceID: "s1", ExternalID: "e2", Title: "second"}
	require.NoError(t, store.RecordSeen(ctx, a1, now))
	require.NoError(t, store.RecordSeen(ctx, a2, now.Add(time.Minute)))

	unsent, err := store.GetUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsent, 2)
	assert.Equal(t, "e2", unsent[0].ExternalID, "newest first")

	require.NoError(t, store.MarkSent(ctx, []*domain.Article{a1}, now.Add(time.Hour)))

	unsent, err = store.GetUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.Equal(t, "e2", unsent[0].ExternalID)
}

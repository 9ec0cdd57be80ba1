package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/paperscope/pkg/domain"
)

// SeenStore persists dedup records with retention. IsNew/RecordSeen are keyed
// by (source_id, external_id) only; the extra article columns exist for the
// unsent backlog and operator inspection.
type SeenStore struct {
	db *sqlx.DB
}

// seenRow mirrors the seen_articles table
type seenRow struct {
	SourceID    string     `db:"source_id"`
	ExternalID  string     `db:"external_id"`
	Title       string     `db:"title"`
	Link        string     `db:"link"`
	Journal     string     `db:"journal"`
	FirstSeenAt time.Time  `db:"first_seen_at"`
	SentAt      *time.Time `db:"sent_at"`
}

// IsNew reports whether no record exists for the given key
func (s *SeenStore) IsNew(ctx context.Context, sourceID, externalID string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		"SELECT 1 FROM seen_articles WHERE source_id = ? AND external_id = ?", sourceID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check seen record: %w", err)
	}
	return false, nil
}

// RecordSeen inserts a record for the article. Idempotent: recording an
// already-present key is a no-op and the original first_seen_at is kept.
func (s *SeenStore) RecordSeen(ctx context.Context, article *domain.Article, now time.Time) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		row := seenRow{
			SourceID:    article.SourceID,
			ExternalID:  article.ExternalID,
			Title:       article.Title,
			Link:        article.Link,
			Journal:     article.Journal,
			FirstSeenAt: now.UTC(),
		}
		query := `
			INSERT OR IGNORE INTO seen_articles (
				source_id, external_id, title, link, journal, first_seen_at
			) VALUES (
				:source_id, :external_id, :title, :link, :journal, :first_seen_at
			)
		`
		if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("record seen: %w", err)}
		}
		return nil
	})
}

// PurgeOlderThan removes records whose first_seen_at precedes now-horizon.
// Called once per pipeline run, before collection starts.
func (s *SeenStore) PurgeOlderThan(ctx context.Context, horizon time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-horizon)
	res, err := s.db.ExecContext(ctx, "DELETE FROM seen_articles WHERE first_seen_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge seen records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return deleted, nil
}

// MarkSent stamps sent_at on the given keys after the notification sink
// confirmed delivery
func (s *SeenStore) MarkSent(ctx context.Context, articles []*domain.Article, now time.Time) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return &criticalError{err: fmt.Errorf("begin mark sent: %w", err)}
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for _, a := range articles {
			_, err := tx.ExecContext(ctx,
				"UPDATE seen_articles SET sent_at = ? WHERE source_id = ? AND external_id = ?",
				now.UTC(), a.SourceID, a.ExternalID)
			if err != nil {
				if isLockError(err) {
					return err // retry
				}
				return &criticalError{err: fmt.Errorf("mark sent: %w", err)}
			}
		}
		if err := tx.Commit(); err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("commit mark sent: %w", err)}
		}
		return nil
	})
}

// GetUnsent returns recorded articles never confirmed as delivered, newest
// first. Used to resend the backlog after a failed notification.
func (s *SeenStore) GetUnsent(ctx context.Context, limit int) ([]domain.SeenRecord, error) {
	var rows []seenRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT source_id, external_id, title, link, journal, first_seen_at, sent_at
		FROM seen_articles
		WHERE sent_at IS NULL
		ORDER BY first_seen_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get unsent: %w", err)
	}

	records := make([]domain.SeenRecord, len(rows))
	for i, r := range rows {
		records[i] = domain.SeenRecord{
			SourceID:    r.SourceID,
			ExternalID:  r.ExternalID,
			Title:       r.Title,
			Link:        r.Link,
			Journal:     r.Journal,
			FirstSeenAt: r.FirstSeenAt,
			SentAt:      r.SentAt,
		}
	}
	return records, nil
}

// Close closes the database connection
func (s *SeenStore) Close() error {
	return s.db.Close()
}

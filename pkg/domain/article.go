package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Article is the normalized unit produced by parsers. The pair
// (SourceID, ExternalID) is the dedup key and must be unique per source.
type Article struct {
	SourceID        string
	ExternalID      string // source-native identifier, or a stable hash of title+link
	Title           string
	Abstract        string
	Link            string
	Journal         string
	DOI             string
	Authors         []string
	Keywords        []string  // keywords/tags declared by the source itself
	PublishedAt     time.Time // zero when the source gave no usable date
	MatchedKeywords []string  // filled by the keyword matcher
}

// DedupKey returns the identity of the article within the system
func (a *Article) DedupKey() (sourceID, externalID string) {
	return a.SourceID, a.ExternalID
}

// FallbackID derives a stable external id from title and link, used when the
// source exposes no native identifier
func FallbackID(title, link string) string {
	h := sha256.Sum256([]byte(title + "\n" + link))
	return hex.EncodeToString(h[:12])
}

// SeenRecord is the persisted dedup row. FirstSeenAt never changes once
// written; rows past the retention horizon are removed by the purge sweep.
type SeenRecord struct {
	SourceID    string
	ExternalID  string
	Title       string
	Link        string
	Journal     string
	FirstSeenAt time.Time
	SentAt      *time.Time // set after the notification sink confirmed delivery
}

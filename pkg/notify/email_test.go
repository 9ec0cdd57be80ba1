package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/paperscope/pkg/domain"
)

func testArticles() []domain.Article {
	return []domain.Article{
		{
			SourceID:        "arxiv",
			ExternalID:      "2406.01234",
			Title:           "Perovskite Solar Cell Stability",
			Abstract:        "We report on long-term stability of perovskite devices.",
			Link:            "https://arxiv.org/abs/2406.01234",
			Journal:         "arXiv",
			Authors:         []string{"A. Researcher", "B. Scientist"},
			PublishedAt:     time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			MatchedKeywords: []string{"perovskite"},
		},
		{
			SourceID:   "crossref",
			ExternalID: "10.1000/xyz123",
			Title:      "Tandem Photovoltaics Review",
			Link:       "https://doi.org/10.1000/xyz123",
			DOI:        "10.1000/xyz123",
		},
	}
}

func TestNewEmail_Defaults(t *testing.T) {
	n, err := NewEmail(EmailConfig{Host: "smtp.example.com", From: "bot@example.com", To: []string{"a@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, n.cfg.Timeout)
	assert.Equal(t, "Paperscope digest", n.cfg.Subject)
}

func TestEmailNotifier_BuildMessage(t *testing.T) {
	n, err := NewEmail(EmailConfig{
		Host:    "smtp.example.com",
		From:    "bot@example.com",
		To:      []string{"alice@example.com", "bob@example.com"},
		Subject: "Research digest",
	})
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2025, 6, 11, 9, 30, 0, 0, time.UTC) }

	msg, err := n.buildMessage(testArticles())
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "From: bot@example.com\r\n")
	assert.Contains(t, s, "To: alice@example.com, bob@example.com\r\n")
	assert.Contains(t, s, "Subject: Research digest (2 new)\r\n")
	assert.Contains(t, s, "Content-Type: multipart/alternative")
	assert.Contains(t, s, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, s, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, s, "Generated: 2025-06-11 09:30")

	// text part content
	assert.Contains(t, s, "Perovskite Solar Cell Stability")
	assert.Contains(t, s, "DOI: 10.1000/xyz123")
	assert.Contains(t, s, "A. Researcher, B. Scientist")
	assert.Contains(t, s, "Matched: perovskite")
	assert.Contains(t, s, "Published: 2025-06-10")

	// html part content
	assert.Contains(t, s, `<a href="https://arxiv.org/abs/2406.01234">Perovskite Solar Cell Stability</a>`)
}

func TestEmailNotifier_BuildMessage_EscapesHTML(t *testing.T) {
	n, err := NewEmail(EmailConfig{Host: "smtp.example.com", From: "bot@example.com", To: []string{"a@example.com"}})
	require.NoError(t, err)

	articles := []domain.Article{{
		SourceID:   "web",
		ExternalID: "x1",
		Title:      `Quantum <dots> & "wires"`,
		Link:       "https://example.com/x1",
	}}

	msg, err := n.buildMessage(articles)
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "Quantum &lt;dots&gt; &amp; &#34;wires&#34;", "html part escapes markup")
	assert.Contains(t, s, `Quantum <dots> & "wires"`, "text part stays raw")
}

func TestEmailNotifier_SendEmptyBatch(t *testing.T) {
	// host is unreachable on purpose, an empty batch must not even dial
	n, err := NewEmail(EmailConfig{Host: "127.0.0.1", Port: 1, From: "bot@example.com", To: []string{"a@example.com"}})
	require.NoError(t, err)

	err = n.Send(context.Background(), nil)
	require.NoError(t, err)
}

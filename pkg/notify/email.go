// Package notify delivers the run digest. The only sink is email over SMTP:
// one multipart message per run with plain-text and HTML renderings of the
// new articles.
package notify

import (
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"

	"github.com/umputun/paperscope/pkg/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// EmailConfig holds SMTP connection and message settings
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
	STARTTLS bool
	Timeout  time.Duration
}

// EmailNotifier sends run digests over SMTP
type EmailNotifier struct {
	cfg  EmailConfig
	text *texttemplate.Template
	html *template.Template
	now  func() time.Time
}

// digestData is the payload both templates render
type digestData struct {
	Articles  []domain.Article
	Generated string
}

// NewEmail creates a notifier with the embedded digest templates
func NewEmail(cfg EmailConfig) (*EmailNotifier, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Subject == "" {
		cfg.Subject = "Paperscope digest"
	}

	textTmpl, err := texttemplate.ParseFS(templateFS, "templates/digest.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	htmlTmpl, err := template.ParseFS(templateFS, "templates/digest.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}

	return &EmailNotifier{cfg: cfg, text: textTmpl, html: htmlTmpl, now: time.Now}, nil
}

// Send delivers one digest with all articles of the run. An empty batch is a
// no-op, no "nothing new" emails.
func (n *EmailNotifier) Send(ctx context.Context, articles []domain.Article) error {
	if len(articles) == 0 {
		lgr.Printf("[DEBUG] no new articles, skipping email")
		return nil
	}

	msg, err := n.buildMessage(articles)
	if err != nil {
		return fmt.Errorf("build digest message: %w", err)
	}

	// transient SMTP failures get a couple of retries, same backoff shape as
	// the collectors use for HTTP
	err = repeater.NewBackoff(3, 2*time.Second, repeater.WithMaxDelay(10*time.Second)).Do(ctx, func() error {
		return n.send(msg)
	})
	if err != nil {
		return fmt.Errorf("send digest to %s: %w", strings.Join(n.cfg.To, ", "), err)
	}

	lgr.Printf("[INFO] digest with %d articles sent to %d recipients", len(articles), len(n.cfg.To))
	return nil
}

// buildMessage renders the multipart/alternative message, text part first so
// clients fall back to it
func (n *EmailNotifier) buildMessage(articles []domain.Article) ([]byte, error) {
	data := digestData{Articles: articles, Generated: n.now().Format("2006-01-02 15:04")}

	var textBody, htmlBody strings.Builder
	if err := n.text.Execute(&textBody, data); err != nil {
		return nil, fmt.Errorf("render text part: %w", err)
	}
	if err := n.html.Execute(&htmlBody, data); err != nil {
		return nil, fmt.Errorf("render html part: %w", err)
	}

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s (%d new)\r\n", n.cfg.Subject, len(articles))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	textPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := textPart.Write([]byte(textBody.String())); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := htmlPart.Write([]byte(htmlBody.String())); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return []byte(buf.String()), nil
}

// send performs one SMTP transaction with the configured timeout covering
// dial and delivery
func (n *EmailNotifier) send(msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprintf("%d", n.cfg.Port))

	conn, err := net.DialTimeout("tcp", addr, n.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(n.cfg.Timeout)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if n.cfg.STARTTLS {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range n.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	return client.Quit()
}

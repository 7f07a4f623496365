// Package notify delivers chat and mail escalations: pings about hosts that
// refuse to release cleanly and notices to owners of hosts pulled into
// maintenance.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Chat posts a short message addressed to a user.
type Chat interface {
	Post(ctx context.Context, recipient, text string) error
}

// Mail sends a plain-text message.
type Mail interface {
	Send(ctx context.Context, to, subject, body string) error
}

// WebhookChat posts messages to an incoming-webhook endpoint.
type WebhookChat struct {
	URL    string
	Client *http.Client
}

// NewWebhookChat builds a chat notifier for the given webhook URL.
func NewWebhookChat(url string) *WebhookChat {
	return &WebhookChat{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends one message. The recipient is mentioned in the message body;
// the webhook decides the channel.
func (c *WebhookChat) Post(ctx context.Context, recipient, text string) error {
	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("@%s %s", recipient, text),
	})
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned %s", resp.Status)
	}
	return nil
}

// SMTPMail sends mail through a relay host.
type SMTPMail struct {
	Relay  string // host:port
	From   string
	Domain string // completes bare usernames
}

// Send delivers one message. A bare username recipient is completed with
// the configured domain.
func (m *SMTPMail) Send(_ context.Context, to, subject, body string) error {
	if !strings.Contains(to, "@") && m.Domain != "" {
		to = to + "@" + m.Domain
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.From, to, subject, body)
	if err := smtp.SendMail(m.Relay, nil, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Noop swallows notifications; used when no webhook or relay is configured.
type Noop struct{}

func (Noop) Post(_ context.Context, recipient, text string) error {
	log.WithField("recipient", recipient).Debug("chat notification dropped (no webhook configured)")
	return nil
}

func (Noop) Send(_ context.Context, to, subject, _ string) error {
	log.WithFields(log.Fields{"to": to, "subject": subject}).Debug("mail dropped (no relay configured)")
	return nil
}

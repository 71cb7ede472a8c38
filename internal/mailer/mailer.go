// Package mailer sends outbound notification email.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"
)

// Mailer delivers a single HTML message to one recipient.
type Mailer interface {
	Send(ctx context.Context, subject, htmlBody, recipient string) error
}

// Postmark sends mail through the Postmark transactional API.
type Postmark struct {
	client *postmark.Client
	from   string
}

// NewPostmark builds a Postmark mailer. The server token authenticates the
// API; the account token is not needed for sending and is left blank.
func NewPostmark(serverToken, from string) (*Postmark, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("mailer: postmark server token is required")
	}
	if from == "" {
		return nil, fmt.Errorf("mailer: sender address is required")
	}
	return &Postmark{
		client: postmark.NewClient(serverToken, ""),
		from:   from,
	}, nil
}

func (p *Postmark) Send(ctx context.Context, subject, htmlBody, recipient string) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     p.from,
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
	})
	if err != nil {
		return fmt.Errorf("mailer: send %q to %s: %w", subject, recipient, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("mailer: send %q to %s: postmark error %d: %s", subject, recipient, resp.ErrorCode, resp.Message)
	}
	return nil
}

// Noop logs the message instead of sending it. Used when no Postmark token
// is configured, typically in development.
type Noop struct {
	Logger *slog.Logger
}

func (n *Noop) Send(ctx context.Context, subject, htmlBody, recipient string) error {
	if n.Logger != nil {
		n.Logger.InfoContext(ctx, "mail delivery disabled, dropping message",
			"subject", subject,
			"recipient", recipient,
			"body_bytes", len(htmlBody))
	}
	return nil
}

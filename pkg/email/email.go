// Package email sends notification mail. Services depend on the Sender
// interface; NewResendSender is the production implementation.
package email

import (
	"context"
	"fmt"
	"html"
	"unicode/utf8"

	"github.com/resend/resend-go/v3"
)

// NewMessageNotice describes a message that a recipient has not seen yet.
type NewMessageNotice struct {
	ToEmail    string
	ToName     string
	ChatID     string
	ChatTitle  string
	AuthorName string
	Preview    string
}

// Sender sends notification emails.
type Sender interface {
	SendNewMessage(ctx context.Context, n NewMessageNotice) error
}

type resendSender struct {
	client    *resend.Client
	fromEmail string
	appURL    string
}

// NewResendSender returns a Sender backed by the Resend API. fromEmail must
// belong to a domain verified in Resend; appURL is used for chat links.
func NewResendSender(apiKey, fromEmail, appURL string) Sender {
	return &resendSender{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		appURL:    appURL,
	}
}

const previewLimit = 140

func (s *resendSender) SendNewMessage(ctx context.Context, n NewMessageNotice) error {
	link := fmt.Sprintf("%s/chats/%s", s.appURL, n.ChatID)

	preview := n.Preview
	if utf8.RuneCountInString(preview) > previewLimit {
		preview = string([]rune(preview)[:previewLimit]) + "…"
	}
	if preview == "" {
		preview = "(attachment)"
	}

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:24px;background-color:#f5f5f4;font-family:Arial,Helvetica,sans-serif;">
  <table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;padding:32px;">
    <tr>
      <td>
        <p style="color:#44403c;font-size:15px;margin:0 0 16px 0;">Hi %s,</p>
        <p style="color:#44403c;font-size:15px;margin:0 0 16px 0;"><strong>%s</strong> wrote in <strong>%s</strong>:</p>
        <blockquote style="color:#57534e;font-size:14px;border-left:3px solid #a8a29e;margin:0 0 24px 0;padding-left:12px;">%s</blockquote>
        <a href="%s" style="background-color:#1c1917;color:#ffffff;text-decoration:none;font-size:14px;padding:10px 24px;border-radius:6px;">Open conversation</a>
      </td>
    </tr>
  </table>
</body>
</html>`,
		html.EscapeString(n.ToName),
		html.EscapeString(n.AuthorName),
		html.EscapeString(n.ChatTitle),
		html.EscapeString(preview),
		link,
	)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("CaseDesk <%s>", s.fromEmail),
		To:      []string{n.ToEmail},
		Subject: fmt.Sprintf("New message in %s", n.ChatTitle),
		Html:    body,
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send new message email: %w", err)
	}
	return nil
}

// Noop drops every notification. It is used when no API key is configured.
type Noop struct{}

func (Noop) SendNewMessage(context.Context, NewMessageNotice) error { return nil }

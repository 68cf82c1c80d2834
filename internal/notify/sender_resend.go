package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

const (
	emailSubject  = "Exam Link"
	emailBodyText = "Click the link to give the exam: %s"
)

// emailClient はresendのEmails APIのうち送信に使う部分。
type emailClient interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender はResend経由でメールを送信する。
type ResendSender struct {
	emails emailClient
	from   string
}

// NewResendSender はAPIキーと送信元アドレスからResendSenderを生成する。
func NewResendSender(apiKey, from string) (*ResendSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("email sender not configured (missing RESEND_API_KEY)")
	}
	if from == "" {
		return nil, fmt.Errorf("email sender not configured (missing MAIL_FROM)")
	}
	client := resend.NewClient(apiKey)
	return &ResendSender{emails: client.Emails, from: from}, nil
}

// Send は入室リンクを本文に含むメールを1通送信する。
func (s *ResendSender) Send(ctx context.Context, n Notification) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{n.Address},
		Subject: emailSubject,
		Text:    fmt.Sprintf(emailBodyText, n.Link),
	}

	if _, err := s.emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send email via resend: %w", err)
	}
	return nil
}

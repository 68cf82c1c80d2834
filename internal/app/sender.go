package app

import (
	"fmt"
	"log/slog"

	"github.com/hitoshi/examgate/internal/config"
	"github.com/hitoshi/examgate/internal/notify"
	"github.com/hitoshi/examgate/internal/security"
)

// buildSender はNOTIFY_DRIVERに応じた通知Senderを生成する。
// webhookの場合は送信先URLを静的検証し、SSRF対策済みのクライアントを使う。
func buildSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	switch cfg.NotifyDriver {
	case config.NotifyDriverLog, "":
		return notify.NewLogSender(logger), nil
	case config.NotifyDriverResend:
		sender, err := notify.NewResendSender(cfg.ResendAPIKey, cfg.MailFrom)
		if err != nil {
			return nil, fmt.Errorf("failed to configure resend sender: %w", err)
		}
		return sender, nil
	case config.NotifyDriverWebhook:
		guard := security.NewSSRFGuard()
		if err := guard.ValidateURL(cfg.NotifyWebhookURL); err != nil {
			return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
		}
		return notify.NewWebhookSender(guard.NewSafeClient(cfg.NotifySendTimeout), cfg.NotifyWebhookURL), nil
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.NotifyDriver)
	}
}

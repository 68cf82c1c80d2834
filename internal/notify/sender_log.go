package notify

import (
	"context"
	"log/slog"
)

// LogSender は通知を送信せずログに出力する。開発環境用。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send はリンクをinfoレベルで記録する。
func (s *LogSender) Send(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "exam link (dev mode)",
		slog.String("to", n.Address),
		slog.String("subject", emailSubject),
		slog.String("link", n.Link),
	)
	return nil
}

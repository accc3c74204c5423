package verification

import (
	"context"
	"log/slog"
)

// Message は送信するメールを表す。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer はメールを送信する。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer はメールを送信せず構造化ログに出力する。開発環境用。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send はメールの内容をログに出力する。
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}

// compile-time interface check
var _ Mailer = (*LogMailer)(nil)

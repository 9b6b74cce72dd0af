package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"

	"sjsage522/noticewatcher/logger"
	werrors "sjsage522/noticewatcher/pkg/errors"

	"github.com/jordan-wright/email"
)

// DefaultSMTPAddr is Gmail's implicit-TLS submission port
const DefaultSMTPAddr = "smtp.gmail.com:465"

// EmailConfig configures an EmailNotifier
type EmailConfig struct {
	From     string
	To       []string
	Password string
	// Addr is host:port of the SMTP server
	Addr string
	// PlainText sends without TLS, for local test servers
	PlainText bool
}

// EmailNotifier sends notifications by mail
type EmailNotifier struct {
	cfg  EmailConfig
	host string
	send func(e *email.Email) error
}

// NewEmailNotifier creates an email notifier
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, werrors.NewConfiguration("email notifier needs FROM_EMAIL and TO_EMAIL", nil)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultSMTPAddr
	}
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, werrors.NewConfiguration(fmt.Sprintf("invalid SMTP_ADDR %q", cfg.Addr), err)
	}

	n := &EmailNotifier{cfg: cfg, host: host}
	n.send = n.deliver
	return n, nil
}

// Name returns "email"
func (n *EmailNotifier) Name() string { return "email" }

// Send mails msg to all recipients
func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return werrors.NewSend(msg.SourceID, "email cancelled", err)
	}

	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = n.cfg.To
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)
	e.Headers.Set("X-Notice-Source", msg.SourceID)

	if err := n.send(e); err != nil {
		return werrors.NewSend(msg.SourceID, "이메일 발송 실패", err)
	}

	logger.ForNotifier().Info().
		Str("source", msg.SourceID).
		Str("subject", msg.Subject).
		Msg("이메일 발송 완료")
	return nil
}

func (n *EmailNotifier) deliver(e *email.Email) error {
	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.host)
	}
	if n.cfg.PlainText {
		return e.Send(n.cfg.Addr, auth)
	}
	return e.SendWithTLS(n.cfg.Addr, auth, &tls.Config{ServerName: n.host})
}

package transport

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/cuongbtq/task-notifier/internal/config"
)

const headerCorrelationID = "X-Correlation-ID"

// SMTPSender delivers plain-text mail over SMTP, with STARTTLS when enabled.
type SMTPSender struct {
	client  *mail.Client
	from    string
	replyTo string
}

// NewSMTPSender creates a new SMTPSender
func NewSMTPSender(from, replyTo string, cfg config.SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || from == "" {
		return nil, fmt.Errorf("%w: smtp host and from address are required", ErrInvalidConfig)
	}

	port, timeout := cfg.Port, cfg.Timeout
	if port == 0 {
		port = mail.DefaultPortTLS
	}
	if timeout <= 0 {
		timeout = mail.DefaultTimeout
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(timeout),
	}
	if cfg.StartTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &SMTPSender{client: client, from: from, replyTo: replyTo}, nil
}

// Send builds the message and delivers it in a fresh SMTP session.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		return permanent(err)
	}

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return temporary(fmt.Errorf("smtp send: %w", err))
	}
	return nil
}

func (s *SMTPSender) buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	if s.replyTo != "" {
		if err := m.ReplyTo(s.replyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to address: %w", err)
		}
	}

	m.Subject(msg.Subject)
	m.SetMessageIDWithValue(msg.ID)
	if msg.CorrelationID != "" {
		m.SetGenHeader(headerCorrelationID, msg.CorrelationID)
	}
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	return m, nil
}

package transport

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/cuongbtq/task-notifier/internal/config"
)

// Postmark API error codes that will never succeed on retry.
const (
	postmarkInvalidEmailRequest = 300
	postmarkInactiveRecipient   = 406
	postmarkInvalidJSON         = 402
)

type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender delivers mail through Postmark's transactional API.
type PostmarkSender struct {
	client  postmarkAPI
	from    string
	replyTo string
	tag     string
}

// NewPostmarkSender creates a new PostmarkSender
func NewPostmarkSender(from, replyTo string, cfg config.PostmarkConfig) (*PostmarkSender, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrInvalidConfig)
	}

	return &PostmarkSender{
		client:  postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		from:    from,
		replyTo: replyTo,
		tag:     cfg.Tag,
	}, nil
}

// Send implements Sender.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	email := postmark.Email{
		From:     s.from,
		ReplyTo:  s.replyTo,
		To:       msg.To,
		Subject:  msg.Subject,
		Tag:      s.tag,
		TextBody: msg.Body,
		Metadata: map[string]string{
			"delivery_job_id": msg.ID,
		},
	}
	if msg.CorrelationID != "" {
		email.Headers = []postmark.Header{{Name: headerCorrelationID, Value: msg.CorrelationID}}
		email.Metadata["correlation_id"] = msg.CorrelationID
	}

	resp, err := s.client.SendEmail(ctx, email)
	if err != nil {
		return temporary(fmt.Errorf("postmark send: %w", err))
	}

	if resp.ErrorCode > 0 {
		err := fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
		switch resp.ErrorCode {
		case postmarkInvalidEmailRequest, postmarkInactiveRecipient, postmarkInvalidJSON:
			return permanent(err)
		}
		return temporary(err)
	}
	return nil
}

// Package email delivers recovery mail. ResendSender talks to the Resend
// API; NoopSender keeps messages in memory for development and tests.
package email

import (
	"context"
	"time"
)

// SendRequest is one outgoing message. An empty From or ReplyTo is filled
// in by the sender from its configuration.
type SendRequest struct {
	To      []string
	From    string // e.g. "Absences <noreply@school.example>"
	Subject string
	HTML    string
	Text    string
	ReplyTo string
}

// SendResult is what the provider reported for an accepted message.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender hands a message to a delivery provider.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

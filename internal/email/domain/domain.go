package domain

import "context"

// Attachment is a file carried with an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one outgoing email. HTMLBody is optional; when present it is
// sent as the rich alternative to TextBody.
type Message struct {
	Subject     string
	TextBody    string
	HTMLBody    string
	To          []string
	CC          []string
	ReplyTo     string
	Attachments []Attachment
}

// Sender is a pluggable email sending interface. Implementations must honor
// the context deadline on every outbound call.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

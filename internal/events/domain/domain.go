package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a delivery audit event.
// Type examples: "letter.channel.sent", "letter.channel.failed",
// "letter.pass.completed", "letter.rejected".
// Meta may contain channel, product, tracking_number, error, etc.
type Event struct {
	Type     string
	LetterID uuid.UUID
	UserID   uuid.UUID
	Meta     map[string]string
	Time     time.Time
}

// Publisher publishes events to an external system (log, queue, etc.).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

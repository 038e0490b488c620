package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/JustFixNYC/tenants2-sub000/internal/queue"
)

// Texter sends one SMS; satisfied by sms.Client.
type Texter interface {
	Send(ctx context.Context, phone, body string) (string, error)
}

// Processor handles the fire-and-forget jobs the delivery path enqueues.
type Processor struct {
	sms Texter
	log zerolog.Logger
}

func NewProcessor(sms Texter, log zerolog.Logger) *Processor {
	return &Processor{sms: sms, log: log}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TrackingSMSTask, p.handleTrackingSMS)
	return mux
}

func (p *Processor) handleTrackingSMS(ctx context.Context, task *asynq.Task) error {
	var payload queue.TrackingSMSPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	body := fmt.Sprintf(
		"Your letter was mailed via USPS Certified Mail. Track it with number %s at %s",
		payload.TrackingNumber, payload.TrackingURL)
	sid, err := p.sms.Send(ctx, payload.Phone, body)
	if err != nil {
		p.log.Warn().Err(err).Str("letter_id", payload.LetterID).Msg("tracking sms failed, will retry")
		return err
	}
	p.log.Info().Str("letter_id", payload.LetterID).Str("message_id", sid).Msg("tracking sms sent")
	return nil
}

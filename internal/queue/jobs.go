package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TrackingSMSTask is enqueued, fire-and-forget, after a certified
	// letter is accepted by the mail provider. The orchestrator never
	// awaits its result.
	TrackingSMSTask = "letter:tracking_sms"
)

// TrackingSMSPayload tells the worker who to text and what tracking link to
// include.
type TrackingSMSPayload struct {
	LetterID       string `json:"letter_id"`
	Phone          string `json:"phone"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
}

// Enqueuer is the subset of asynq.Client the delivery path needs; tests
// substitute a capture.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueTrackingSMS submits the confirmation text job with at-least-once
// semantics. Failure here is logged by the caller, never propagated to the
// end user.
func EnqueueTrackingSMS(ctx context.Context, client Enqueuer, payload TrackingSMSPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TrackingSMSTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue tracking sms: %w", err)
	}
	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/JustFixNYC/tenants2-sub000/internal/logger"
	"github.com/JustFixNYC/tenants2-sub000/internal/queue"
)

type stubTexter struct {
	phone string
	body  string
	err   error
}

func (s *stubTexter) Send(ctx context.Context, phone, body string) (string, error) {
	s.phone, s.body = phone, body
	if s.err != nil {
		return "", s.err
	}
	return "SM1", nil
}

func trackingTask(t *testing.T, payload queue.TrackingSMSPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(queue.TrackingSMSTask, data)
}

func TestHandleTrackingSMS(t *testing.T) {
	texter := &stubTexter{}
	p := NewProcessor(texter, logger.Nop())

	task := trackingTask(t, queue.TrackingSMSPayload{
		LetterID:       "11111111-1111-1111-1111-111111111111",
		Phone:          "+15551230000",
		TrackingNumber: "9400100000000000000001",
		TrackingURL:    "https://tools.usps.com/go/TrackConfirmAction?tLabels=9400100000000000000001",
	})
	if err := p.handleTrackingSMS(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if texter.phone != "+15551230000" {
		t.Errorf("texted %q, want the payload phone", texter.phone)
	}
	if !strings.Contains(texter.body, "9400100000000000000001") {
		t.Errorf("message body missing the tracking number: %q", texter.body)
	}
	if !strings.Contains(texter.body, "Certified Mail") {
		t.Errorf("message body should name the service: %q", texter.body)
	}
}

func TestHandleTrackingSMS_SendErrorRetries(t *testing.T) {
	texter := &stubTexter{err: errors.New("gateway 500")}
	p := NewProcessor(texter, logger.Nop())

	task := trackingTask(t, queue.TrackingSMSPayload{Phone: "+1555", TrackingNumber: "94001"})
	if err := p.handleTrackingSMS(context.Background(), task); err == nil {
		t.Fatalf("a gateway failure must surface so asynq retries the task")
	}
}

func TestHandleTrackingSMS_BadPayload(t *testing.T) {
	p := NewProcessor(&stubTexter{}, logger.Nop())
	task := asynq.NewTask(queue.TrackingSMSTask, []byte("not json"))
	if err := p.handleTrackingSMS(context.Background(), task); err == nil {
		t.Fatalf("expected a decode error")
	}
}

package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	edomain "github.com/JustFixNYC/tenants2-sub000/internal/email/domain"
	"github.com/JustFixNYC/tenants2-sub000/internal/metrics"
)

// Ensure Brevo implements domain.Sender
var _ edomain.Sender = (*Brevo)(nil)

type Brevo struct {
	cfg  config.Config
	http *http.Client
}

func NewBrevo(cfg config.Config) *Brevo {
	return &Brevo{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
}

type brevoEmail struct {
	To          []map[string]string `json:"to"`
	CC          []map[string]string `json:"cc,omitempty"`
	Sender      map[string]string   `json:"sender"`
	ReplyTo     map[string]string   `json:"replyTo,omitempty"`
	Subject     string              `json:"subject"`
	TextContent string              `json:"textContent"`
	HTMLContent string              `json:"htmlContent,omitempty"`
	Attachment  []brevoAttachment   `json:"attachment,omitempty"`
}

func (b *Brevo) Send(ctx context.Context, msg edomain.Message) error {
	if b.cfg.BrevoAPIKey == "" || b.cfg.BrevoSender == "" {
		return fmt.Errorf("brevo not configured")
	}
	payload := brevoEmail{
		Sender:      map[string]string{"email": b.cfg.BrevoSender},
		Subject:     msg.Subject,
		TextContent: msg.TextBody,
		HTMLContent: msg.HTMLBody,
	}
	for _, to := range msg.To {
		payload.To = append(payload.To, map[string]string{"email": to})
	}
	for _, cc := range msg.CC {
		payload.CC = append(payload.CC, map[string]string{"email": cc})
	}
	if msg.ReplyTo != "" {
		payload.ReplyTo = map[string]string{"email": msg.ReplyTo}
	}
	for _, att := range msg.Attachments {
		payload.Attachment = append(payload.Attachment, brevoAttachment{
			Name:    att.Filename,
			Content: base64.StdEncoding.EncodeToString(att.Content),
		})
	}
	buf, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.brevo.com/v3/smtp/email", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.cfg.BrevoAPIKey)
	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("email", "failure", time.Since(start).Seconds())
		return err
	}
	metrics.ObserveProviderCall("email", "success", time.Since(start).Seconds())
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send failed: %s", resp.Status)
	}
	return nil
}

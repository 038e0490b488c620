package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	"github.com/JustFixNYC/tenants2-sub000/internal/metrics"
)

// Client submits text messages through a Twilio-compatible messages API.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	http       *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{
		baseURL:    cfg.SMSBaseURL,
		accountSID: cfg.SMSAccountSID,
		authToken:  cfg.SMSAuthToken,
		from:       cfg.SMSFromNumber,
		http:       &http.Client{Timeout: cfg.SMSTimeout},
	}
}

type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Send submits one SMS and returns the provider message id.
func (c *Client) Send(ctx context.Context, phone, body string) (string, error) {
	if c.accountSID == "" || c.authToken == "" || c.from == "" {
		return "", fmt.Errorf("sms gateway not configured")
	}
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("sms", "failure", time.Since(start).Seconds())
		return "", fmt.Errorf("sms send: %w", err)
	}
	metrics.ObserveProviderCall("sms", "success", time.Since(start).Seconds())
	defer func() { _ = resp.Body.Close() }()
	var mr messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return "", fmt.Errorf("decode sms response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms send failed: %s: %s", resp.Status, mr.ErrorMessage)
	}
	return mr.SID, nil
}

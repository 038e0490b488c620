package sms

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg, _ := config.Load()
	cfg.SMSBaseURL = "https://sms.test/2010-04-01"
	cfg.SMSAccountSID = "AC123"
	cfg.SMSAuthToken = "secret"
	cfg.SMSFromNumber = "+15550001111"
	c := New(cfg)
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestSend_PostsFormAndReturnsSID(t *testing.T) {
	c := newTestClient(t)
	var gotBody string
	httpmock.RegisterResponder("POST", "https://sms.test/2010-04-01/Accounts/AC123/Messages.json",
		func(r *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			if user, pass, _ := r.BasicAuth(); user != "AC123" || pass != "secret" {
				t.Errorf("unexpected basic auth %q/%q", user, pass)
			}
			return httpmock.NewStringResponse(201, `{"sid":"SM1","status":"queued"}`), nil
		},
	)

	sid, err := c.Send(context.Background(), "+15551230000", "Your letter was mailed.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sid != "SM1" {
		t.Errorf("expected sid SM1, got %q", sid)
	}
	for _, want := range []string{"To=%2B15551230000", "From=%2B15550001111", "Body="} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("form body missing %q, got %q", want, gotBody)
		}
	}
}

func TestSend_GatewayError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("POST", "https://sms.test/2010-04-01/Accounts/AC123/Messages.json",
		httpmock.NewStringResponder(400, `{"error_message":"invalid 'To' number"}`),
	)

	_, err := c.Send(context.Background(), "bogus", "hi")
	if err == nil {
		t.Fatalf("expected an error for 400")
	}
	if !strings.Contains(err.Error(), "invalid 'To' number") {
		t.Errorf("error should carry the gateway message, got %v", err)
	}
}

func TestSend_Unconfigured(t *testing.T) {
	cfg, _ := config.Load()
	cfg.SMSAccountSID = ""
	cfg.SMSAuthToken = ""
	c := New(cfg)

	if _, err := c.Send(context.Background(), "+15551230000", "hi"); err == nil {
		t.Fatalf("expected an error when the gateway is not configured")
	}
}

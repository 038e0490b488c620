package certmail

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	"github.com/JustFixNYC/tenants2-sub000/internal/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg, _ := config.Load()
	cfg.MailAPIBaseURL = "https://mail.test/v1"
	cfg.MailAPIKey = "test_key"
	c := New(cfg, logger.Nop())
	httpmock.ActivateNonDefault(c.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestVerifyAddress_Deliverable(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("POST", "https://mail.test/v1/us_verifications",
		httpmock.NewStringResponder(200, `{
			"primary_line": "1 MAIN ST",
			"components": {"city": "BROOKLYN", "state": "NY", "zip_code": "11201"},
			"deliverability": "deliverable"
		}`),
	)

	v, err := c.VerifyAddress(context.Background(), AddressFields{
		Name: "Maria Perez", Line1: "1 main street", City: "brooklyn", State: "ny", Zip: "11201",
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Deliverability != Deliverable {
		t.Errorf("expected deliverable, got %q", v.Deliverability)
	}
	if v.Normalized.Line1 != "1 MAIN ST" {
		t.Errorf("expected the normalized line, got %q", v.Normalized.Line1)
	}
	if v.Normalized.Name != "Maria Perez" {
		t.Errorf("name must carry over from the input, got %q", v.Normalized.Name)
	}
}

func TestVerifyAddress_MapsCaveatAndUndeliverable(t *testing.T) {
	c := newTestClient(t)
	cases := map[string]Deliverability{
		"deliverable_missing_unit":     Caveat,
		"deliverable_incorrect_unit":   Caveat,
		"deliverable_unnecessary_unit": Caveat,
		"undeliverable":                Undeliverable,
		"something_new":                Unknown,
	}
	for verdict, want := range cases {
		httpmock.RegisterResponder("POST", "https://mail.test/v1/us_verifications",
			httpmock.NewStringResponder(200, `{"primary_line":"1 MAIN ST","components":{},"deliverability":"`+verdict+`"}`),
		)
		v, err := c.VerifyAddress(context.Background(), AddressFields{Line1: "1 Main St"})
		if err != nil {
			t.Fatalf("%s: %v", verdict, err)
		}
		if v.Deliverability != want {
			t.Errorf("%s: expected %q, got %q", verdict, want, v.Deliverability)
		}
	}
}

func TestVerifyAddressLenient_DegradesToUnknown(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("POST", "https://mail.test/v1/us_verifications",
		httpmock.NewStringResponder(503, `upstream down`),
	)

	in := AddressFields{Line1: "1 Main St", City: "Brooklyn", State: "NY", Zip: "11201"}
	v := c.VerifyAddressLenient(context.Background(), in)
	if v.Deliverability != Unknown {
		t.Errorf("expected unknown on provider failure, got %q", v.Deliverability)
	}
	if v.Normalized != in {
		t.Errorf("lenient verification must echo the input address")
	}
}

func TestCreateLetter_ParsesResponseAndKeepsRaw(t *testing.T) {
	c := newTestClient(t)
	const respBody = `{"id":"ltr_abc","tracking_number":"9400100000000000000001","expected_delivery_date":"2026-09-08","carrier":"usps","extra":"kept"}`
	var gotBody string
	httpmock.RegisterResponder("POST", "https://mail.test/v1/letters",
		func(r *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			if user, _, _ := r.BasicAuth(); user != "test_key" {
				t.Errorf("expected basic auth with the api key, got %q", user)
			}
			return httpmock.NewStringResponse(200, respBody), nil
		},
	)

	to := AddressFields{Name: "Acme Realty", Line1: "9 Park Ave", City: "New York", State: "NY", Zip: "10016"}
	from := AddressFields{Name: "Maria Perez", Line1: "1 Main St", City: "Brooklyn", State: "NY", Zip: "11201"}
	letter, err := c.CreateLetter(context.Background(), "Letter of Complaint", to, from, []byte("%PDF"), LetterOptions{DoubleSided: true})
	if err != nil {
		t.Fatalf("create letter: %v", err)
	}
	if letter.ID != "ltr_abc" || letter.TrackingNumber != "9400100000000000000001" {
		t.Errorf("unexpected parsed letter: %+v", letter)
	}
	if string(letter.Raw) != respBody {
		t.Errorf("raw response must be stored verbatim")
	}
	for _, want := range []string{"extra_service", "certified", "to[address_line1]", "from[address_zip]", "double_sided"} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("request body missing %q", want)
		}
	}
}

func TestCreateLetter_ErrorIncludesBody(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("POST", "https://mail.test/v1/letters",
		httpmock.NewStringResponder(422, `{"error":{"message":"address undeliverable"}}`),
	)

	_, err := c.CreateLetter(context.Background(), "x", AddressFields{}, AddressFields{}, nil, LetterOptions{})
	if err == nil {
		t.Fatalf("expected an error for 422")
	}
	if !strings.Contains(err.Error(), "address undeliverable") {
		t.Errorf("error should carry the provider message, got %v", err)
	}
}

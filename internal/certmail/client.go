package certmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	"github.com/JustFixNYC/tenants2-sub000/internal/metrics"
)

// Deliverability is the provider's verdict on a verified address.
type Deliverability string

const (
	Deliverable   Deliverability = "deliverable"
	Caveat        Deliverability = "caveat"
	Undeliverable Deliverability = "undeliverable"
	// Unknown is returned when the provider itself is unavailable.
	// Interactive callers treat it as deliverable and log the degradation.
	Unknown Deliverability = "unknown"
)

// AddressFields is the provider's flat address representation.
type AddressFields struct {
	Name  string `json:"name,omitempty"`
	Line1 string `json:"primary_line"`
	Line2 string `json:"secondary_line,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip_code"`
}

// Verification is the normalized result of an address check.
type Verification struct {
	Normalized     AddressFields
	Deliverability Deliverability
}

// Letter is the provider's response to a certified letter submission. Raw is
// the full response body kept verbatim for audit.
type Letter struct {
	ID                   string          `json:"id"`
	TrackingNumber       string          `json:"tracking_number"`
	ExpectedDeliveryDate string          `json:"expected_delivery_date"`
	Carrier              string          `json:"carrier"`
	Raw                  json.RawMessage `json:"-"`
}

// LetterOptions tune a certified letter submission.
type LetterOptions struct {
	Color       bool
	DoubleSided bool
}

// Client talks to the certified mail provider's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.MailAPIBaseURL,
		apiKey:  cfg.MailAPIKey,
		http:    &http.Client{Timeout: cfg.MailAPITimeout},
		log:     log,
	}
}

type verifyResponse struct {
	PrimaryLine   string `json:"primary_line"`
	SecondaryLine string `json:"secondary_line"`
	Components    struct {
		City  string `json:"city"`
		State string `json:"state"`
		Zip   string `json:"zip_code"`
	} `json:"components"`
	Deliverability string `json:"deliverability"`
}

// VerifyAddress normalizes an address and reports deliverability. It returns
// an error only on provider failure; callers in non-blocking contexts should
// use VerifyAddressLenient instead.
func (c *Client) VerifyAddress(ctx context.Context, fields AddressFields) (Verification, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return Verification{}, fmt.Errorf("marshal address: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/us_verifications", bytes.NewReader(body))
	if err != nil {
		return Verification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, "")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("mail_api", "failure", time.Since(start).Seconds())
		return Verification{}, fmt.Errorf("verify address: %w", err)
	}
	metrics.ObserveProviderCall("mail_api", "success", time.Since(start).Seconds())
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return Verification{}, fmt.Errorf("verify address failed: %s", resp.Status)
	}
	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return Verification{}, fmt.Errorf("decode verification: %w", err)
	}
	v := Verification{
		Normalized: AddressFields{
			Name:  fields.Name,
			Line1: vr.PrimaryLine,
			Line2: vr.SecondaryLine,
			City:  vr.Components.City,
			State: vr.Components.State,
			Zip:   vr.Components.Zip,
		},
	}
	switch vr.Deliverability {
	case "deliverable":
		v.Deliverability = Deliverable
	case "deliverable_missing_unit", "deliverable_incorrect_unit", "deliverable_unnecessary_unit":
		v.Deliverability = Caveat
	case "undeliverable":
		v.Deliverability = Undeliverable
	default:
		v.Deliverability = Unknown
	}
	return v, nil
}

// VerifyAddressLenient degrades to an Unknown verdict when the provider is
// unreachable so interactive address forms never block on the provider.
func (c *Client) VerifyAddressLenient(ctx context.Context, fields AddressFields) Verification {
	v, err := c.VerifyAddress(ctx, fields)
	if err != nil {
		c.log.Warn().Err(err).Msg("address verification unavailable, assuming deliverable")
		return Verification{Normalized: fields, Deliverability: Unknown}
	}
	return v
}

// CreateLetter submits a certified letter with the PDF artifact attached. The
// provider requires both a destination and a return address.
func (c *Client) CreateLetter(ctx context.Context, description string, to, from AddressFields, pdf []byte, opts LetterOptions) (*Letter, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := url.Values{}
	fields.Set("description", description)
	fields.Set("color", strconv.FormatBool(opts.Color))
	fields.Set("double_sided", strconv.FormatBool(opts.DoubleSided))
	fields.Set("extra_service", "certified")
	for k, v := range fields {
		if err := w.WriteField(k, v[0]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writeAddress(w, "to", to); err != nil {
		return nil, err
	}
	if err := writeAddress(w, "from", from); err != nil {
		return nil, err
	}
	fw, err := w.CreateFormFile("file", "letter.pdf")
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(pdf); err != nil {
		return nil, fmt.Errorf("write pdf part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/letters", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.SetBasicAuth(c.apiKey, "")
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("mail_api", "failure", time.Since(start).Seconds())
		return nil, fmt.Errorf("create letter: %w", err)
	}
	metrics.ObserveProviderCall("mail_api", "success", time.Since(start).Seconds())
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read letter response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create letter failed: %s: %s", resp.Status, truncate(raw, 256))
	}
	var letter Letter
	if err := json.Unmarshal(raw, &letter); err != nil {
		return nil, fmt.Errorf("decode letter response: %w", err)
	}
	letter.Raw = raw
	return &letter, nil
}

func writeAddress(w *multipart.Writer, prefix string, a AddressFields) error {
	pairs := map[string]string{
		prefix + "[name]":          a.Name,
		prefix + "[address_line1]": a.Line1,
		prefix + "[address_line2]": a.Line2,
		prefix + "[address_city]":  a.City,
		prefix + "[address_state]": a.State,
		prefix + "[address_zip]":   a.Zip,
	}
	for k, v := range pairs {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

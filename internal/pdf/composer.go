package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	"github.com/JustFixNYC/tenants2-sub000/internal/metrics"
)

// ErrBadContent marks a render failure caused by malformed input. It is a
// data or template defect, never a transient condition, and callers must not
// retry it.
var ErrBadContent = errors.New("pdf: malformed document content")

// Renderer turns HTML into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// HTTPRenderer calls the rendering service over HTTP. The service answers a
// POST of raw HTML with PDF bytes; 4xx means the content is bad, 5xx is
// transient.
type HTTPRenderer struct {
	url  string
	http *http.Client
}

func NewHTTPRenderer(cfg config.Config) *HTTPRenderer {
	return &HTTPRenderer{url: cfg.RendererURL, http: &http.Client{Timeout: cfg.RendererTimeout}}
}

var _ Renderer = (*HTTPRenderer)(nil)

func (r *HTTPRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewBufferString(html))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	req.Header.Set("Accept", "application/pdf")
	start := time.Now()
	resp, err := r.http.Do(req)
	if err != nil {
		metrics.ObserveProviderCall("renderer", "failure", time.Since(start).Seconds())
		return nil, fmt.Errorf("render request: %w", err)
	}
	metrics.ObserveProviderCall("renderer", "success", time.Since(start).Seconds())
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: renderer returned %s", ErrBadContent, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("render failed: %s", resp.Status)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rendered pdf: %w", err)
	}
	return out, nil
}

// Composer renders letter content to a single PDF artifact. When a localized
// variant exists the two renders are merged page-wise, primary first.
type Composer struct {
	renderer Renderer
	conf     *model.Configuration
}

func NewComposer(renderer Renderer) *Composer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Composer{renderer: renderer, conf: conf}
}

// Compose renders htmlPrimary (and htmlLocalized when non-empty) and returns
// the combined artifact. Rendering is deterministic and cheap enough to redo
// on every delivery pass.
func (c *Composer) Compose(ctx context.Context, htmlPrimary, htmlLocalized string) ([]byte, error) {
	if htmlPrimary == "" {
		return nil, fmt.Errorf("%w: empty primary content", ErrBadContent)
	}
	primary, err := c.renderer.Render(ctx, htmlPrimary)
	if err != nil {
		return nil, err
	}
	if htmlLocalized == "" {
		return primary, nil
	}
	localized, err := c.renderer.Render(ctx, htmlLocalized)
	if err != nil {
		return nil, err
	}
	return c.merge(primary, localized)
}

func (c *Composer) merge(primary, localized []byte) ([]byte, error) {
	var out bytes.Buffer
	readers := []io.ReadSeeker{bytes.NewReader(primary), bytes.NewReader(localized)}
	if err := api.MergeRaw(readers, &out, false, c.conf); err != nil {
		// pdfcpu rejects structurally invalid input; that is a render
		// defect, not a transient error
		return nil, fmt.Errorf("%w: merge: %v", ErrBadContent, err)
	}
	return out.Bytes(), nil
}

package pdf

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
)

type stubRenderer struct {
	calls []string
	out   []byte
	err   error
}

func (s *stubRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	s.calls = append(s.calls, html)
	return s.out, s.err
}

func TestCompose_EmptyPrimaryIsBadContent(t *testing.T) {
	c := NewComposer(&stubRenderer{})
	_, err := c.Compose(context.Background(), "", "")
	if !errors.Is(err, ErrBadContent) {
		t.Fatalf("expected ErrBadContent, got %v", err)
	}
}

func TestCompose_PrimaryOnlySkipsMerge(t *testing.T) {
	r := &stubRenderer{out: []byte("%PDF-one")}
	c := NewComposer(r)
	out, err := c.Compose(context.Background(), "<html>a</html>", "")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if string(out) != "%PDF-one" {
		t.Errorf("expected the primary render untouched")
	}
	if len(r.calls) != 1 {
		t.Errorf("expected 1 render, got %d", len(r.calls))
	}
}

func TestCompose_RenderErrorPropagates(t *testing.T) {
	want := fmt.Errorf("%w: renderer returned 400 Bad Request", ErrBadContent)
	c := NewComposer(&stubRenderer{err: want})
	_, err := c.Compose(context.Background(), "<html>a</html>", "")
	if !errors.Is(err, ErrBadContent) {
		t.Fatalf("expected ErrBadContent, got %v", err)
	}
}

func TestCompose_MergeRejectsGarbage(t *testing.T) {
	// pdfcpu refuses structurally invalid documents; that classifies as a
	// content defect so the orchestrator never retries it
	r := &stubRenderer{out: []byte("not a pdf")}
	c := NewComposer(r)
	_, err := c.Compose(context.Background(), "<html>a</html>", "<html>b</html>")
	if !errors.Is(err, ErrBadContent) {
		t.Fatalf("expected ErrBadContent, got %v", err)
	}
	if len(r.calls) != 2 {
		t.Errorf("expected both variants rendered, got %d", len(r.calls))
	}
}

func TestHTTPRenderer_StatusMapping(t *testing.T) {
	cfg, _ := config.Load()
	cfg.RendererURL = "http://renderer.test/render"
	r := NewHTTPRenderer(cfg)
	httpmock.ActivateNonDefault(r.http)
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder("POST", "http://renderer.test/render",
		httpmock.NewStringResponder(422, "bad markup"))
	_, err := r.Render(context.Background(), "<html>broken")
	if !errors.Is(err, ErrBadContent) {
		t.Errorf("4xx must map to ErrBadContent, got %v", err)
	}

	httpmock.RegisterResponder("POST", "http://renderer.test/render",
		httpmock.NewStringResponder(503, "overloaded"))
	_, err = r.Render(context.Background(), "<html>fine</html>")
	if err == nil || errors.Is(err, ErrBadContent) {
		t.Errorf("5xx must stay transient, got %v", err)
	}

	httpmock.RegisterResponder("POST", "http://renderer.test/render",
		httpmock.NewBytesResponder(200, []byte("%PDF-ok")))
	out, err := r.Render(context.Background(), "<html>fine</html>")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(out) != "%PDF-ok" {
		t.Errorf("unexpected body %q", out)
	}
}

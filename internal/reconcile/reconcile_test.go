package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JustFixNYC/tenants2-sub000/internal/logger"
)

type stubFinder struct {
	stale     []uuid.UUID
	failed    []uuid.UUID
	gaps      []uuid.UUID
	staleErr  error
	gotCutoff time.Time
	gotLimit  int
}

func (s *stubFinder) FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	s.gotCutoff = olderThan
	s.gotLimit = limit
	return s.stale, s.staleErr
}

func (s *stubFinder) FindFailedChannels(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	return s.failed, nil
}

func (s *stubFinder) FindAuthorityEmailGaps(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return s.gaps, nil
}

type stubProcessor struct {
	processed []uuid.UUID
	failOn    map[uuid.UUID]bool
}

func (s *stubProcessor) Process(ctx context.Context, id uuid.UUID) error {
	if s.failOn[id] {
		return errors.New("pass failed")
	}
	s.processed = append(s.processed, id)
	return nil
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestRun_WindowCutoff(t *testing.T) {
	f := &stubFinder{}
	j := New(f, &stubProcessor{}, logger.Nop())
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	if _, err := j.Run(context.Background(), Options{Window: 2 * time.Hour, Max: 10}); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := fixed.Add(-2 * time.Hour)
	if !f.gotCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", f.gotCutoff, want)
	}
	if f.gotLimit != 10 {
		t.Errorf("limit = %d, want 10", f.gotLimit)
	}
}

func TestRun_Defaults(t *testing.T) {
	f := &stubFinder{}
	j := New(f, &stubProcessor{}, logger.Nop())
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	if _, err := j.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !f.gotCutoff.Equal(fixed.Add(-time.Hour)) {
		t.Errorf("default window should be 1h, cutoff = %v", f.gotCutoff)
	}
	if f.gotLimit != 50 {
		t.Errorf("default max should be 50, got %d", f.gotLimit)
	}
}

func TestRun_CapsAndDedupes(t *testing.T) {
	stale := ids(3)
	// overlaps with both other criteria plus one new each
	failed := []uuid.UUID{stale[0], uuid.New()}
	gaps := []uuid.UUID{stale[1], uuid.New()}
	f := &stubFinder{stale: stale, failed: failed, gaps: gaps}
	p := &stubProcessor{}
	j := New(f, p, logger.Nop())

	report, err := j.Run(context.Background(), Options{Max: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 3 {
		t.Errorf("batch must be capped at max, processed %d", report.Processed)
	}
	if len(p.processed) != 3 {
		t.Fatalf("processor ran %d times, want 3", len(p.processed))
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range p.processed {
		if seen[id] {
			t.Errorf("letter %s processed twice in one run", id)
		}
		seen[id] = true
	}
}

func TestRun_UnionWhenUnderCap(t *testing.T) {
	stale := ids(2)
	failed := []uuid.UUID{stale[0], uuid.New()}
	gaps := []uuid.UUID{stale[1], uuid.New()}
	f := &stubFinder{stale: stale, failed: failed, gaps: gaps}
	p := &stubProcessor{}
	j := New(f, p, logger.Nop())

	report, err := j.Run(context.Background(), Options{Max: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 4 {
		t.Errorf("expected the union of all criteria (4), processed %d", report.Processed)
	}
	if report.Stale != 2 || report.FailedChannels != 2 || report.AuthorityGaps != 2 {
		t.Errorf("unexpected report counts: %+v", report)
	}
}

func TestRun_DryRunHasNoSideEffects(t *testing.T) {
	f := &stubFinder{stale: ids(2)}
	p := &stubProcessor{}
	j := New(f, p, logger.Nop())

	report, err := j.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(p.processed) != 0 {
		t.Errorf("dry run must not invoke the processor")
	}
	if report.Processed != 2 || !report.DryRun {
		t.Errorf("unexpected dry run report: %+v", report)
	}
}

func TestRun_CountsFailuresAndContinues(t *testing.T) {
	stale := ids(3)
	f := &stubFinder{stale: stale}
	p := &stubProcessor{failOn: map[uuid.UUID]bool{stale[1]: true}}
	j := New(f, p, logger.Nop())

	report, err := j.Run(context.Background(), Options{Max: 10})
	if err != nil {
		t.Fatalf("a failing letter must not abort the run: %v", err)
	}
	if report.Processed != 2 || report.Failed != 1 {
		t.Errorf("expected 2 processed / 1 failed, got %+v", report)
	}
}

func TestRun_QueryErrorAborts(t *testing.T) {
	f := &stubFinder{staleErr: errors.New("db down")}
	j := New(f, &stubProcessor{}, logger.Nop())

	if _, err := j.Run(context.Background(), Options{}); err == nil {
		t.Fatalf("expected the query error to surface")
	}
}

func TestReport_String(t *testing.T) {
	r := Report{Stale: 2, FailedChannels: 1, AuthorityGaps: 1, Processed: 3, DryRun: true}
	if got := r.String(); got != "stale=2 failed_channels=1 authority_gaps=1 would process=3 failed=0" {
		t.Errorf("unexpected report string %q", got)
	}
}

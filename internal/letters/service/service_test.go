package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/JustFixNYC/tenants2-sub000/internal/letters/domain"
	"github.com/JustFixNYC/tenants2-sub000/internal/logger"
)

func newService(f *engineFixture) *Service {
	return NewService(f.repo, DefaultRegistry(), f.orch, logger.Nop())
}

func TestCreate_PersistsLetterAndContacts(t *testing.T) {
	f := newFixture(t)
	s := newService(f)

	l, err := s.Create(context.Background(), CreateInput{
		UserID:            uuid.New(),
		Product:           "complaint",
		Locale:            "es",
		HTMLContent:       "<html>carta</html>",
		Sender:            domain.Contact{Name: "Maria", Email: "maria@example.com"},
		Landlord:          domain.Contact{Name: "Acme", Email: "landlord@example.com"},
		PhysicalMailOptIn: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Locale != "es" {
		t.Errorf("locale = %q, want es", l.Locale)
	}
	stored, err := f.repo.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.FullyProcessedAt != nil {
		t.Errorf("a created letter must not be processed yet")
	}
	parties, _ := f.repo.GetParties(context.Background(), l.ID)
	if parties.Sender.Email != "maria@example.com" || parties.Landlord.Name != "Acme" {
		t.Errorf("contacts not persisted: %+v", parties)
	}
	if !parties.PhysicalMailOptIn {
		t.Errorf("opt-in flag not persisted")
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	s := newService(f)

	if _, err := s.Create(context.Background(), CreateInput{Product: "bogus", HTMLContent: "<html/>"}); err == nil {
		t.Errorf("unknown product must be rejected")
	}
	if _, err := s.Create(context.Background(), CreateInput{Product: "complaint"}); err == nil {
		t.Errorf("empty content must be rejected")
	}
	l, err := s.Create(context.Background(), CreateInput{Product: "complaint", HTMLContent: "<html/>"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Locale != DefaultLocale {
		t.Errorf("missing locale defaults to %q, got %q", DefaultLocale, l.Locale)
	}
}

func TestFinalize_RunsPassAndReturnsFreshLetter(t *testing.T) {
	f := newFixture(t)
	s := newService(f)
	id := f.addLetter(t, "complaint", "en", emailOnlyLandlord())

	l, err := s.Finalize(context.Background(), id)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if l.FullyProcessedAt == nil {
		t.Errorf("finalize must return the post-pass letter")
	}
	if l.EmailedToLandlordAt == nil {
		t.Errorf("expected the landlord email stamp on the returned letter")
	}
}

func TestUpdateContact_RoleValidation(t *testing.T) {
	f := newFixture(t)
	s := newService(f)
	id := f.addLetter(t, "complaint", "en", emailOnlyLandlord())

	if err := s.UpdateContact(context.Background(), id, "plumber", domain.Contact{}, false); err == nil {
		t.Errorf("unknown role must be rejected")
	}
	if err := s.UpdateContact(context.Background(), uuid.New(), "landlord", domain.Contact{}, false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing letter, got %v", err)
	}
	c := domain.Contact{Name: "New Owner", Email: "new@example.com"}
	if err := s.UpdateContact(context.Background(), id, "landlord", c, false); err != nil {
		t.Fatalf("update contact: %v", err)
	}
	parties, _ := f.repo.GetParties(context.Background(), id)
	if parties.Landlord.Email != "new@example.com" {
		t.Errorf("contact not replaced: %+v", parties.Landlord)
	}
}

func TestUpdateContent_FrozenAfterDelivery(t *testing.T) {
	f := newFixture(t)
	s := newService(f)
	id := f.addLetter(t, "complaint", "en", emailOnlyLandlord())

	if err := s.UpdateContent(context.Background(), id, "", ""); err == nil {
		t.Errorf("empty content must be rejected")
	}
	if err := s.UpdateContent(context.Background(), id, "<html>v2</html>", ""); err != nil {
		t.Fatalf("update content before delivery: %v", err)
	}
	l, _ := f.repo.Get(context.Background(), id)
	if l.HTMLContent != "<html>v2</html>" {
		t.Errorf("content not replaced: %q", l.HTMLContent)
	}

	if err := f.orch.Process(context.Background(), id); err != nil {
		t.Fatalf("process: %v", err)
	}
	err := s.UpdateContent(context.Background(), id, "<html>v3</html>", "")
	if !errors.Is(err, domain.ErrContentFrozen) {
		t.Errorf("expected ErrContentFrozen after a channel succeeded, got %v", err)
	}
}

func TestReject_RequiresReasonAndNoTracking(t *testing.T) {
	f := newFixture(t)
	s := newService(f)
	id := f.addLetter(t, "complaint", "en", emailOnlyLandlord())

	if err := s.Reject(context.Background(), id, ""); err == nil {
		t.Errorf("empty reason must be rejected")
	}
	if err := s.Reject(context.Background(), id, "test submission"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// a mailed letter can no longer be rejected
	mailed := f.addLetter(t, "complaint", "en", mailOnlyLandlord())
	if err := f.orch.Process(context.Background(), mailed); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := s.Reject(context.Background(), mailed, "too late"); !errors.Is(err, domain.ErrRejectedWithTracking) {
		t.Errorf("expected ErrRejectedWithTracking, got %v", err)
	}
}

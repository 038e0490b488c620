package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JustFixNYC/tenants2-sub000/internal/changetrack"
	"github.com/JustFixNYC/tenants2-sub000/internal/letters/domain"
)

// Service is the application surface for letters: creation from captured
// form data, synchronous finalization, and staff actions.
type Service struct {
	repo         domain.Repository
	products     Registry
	orchestrator *Orchestrator
	log          zerolog.Logger
}

func NewService(repo domain.Repository, products Registry, orchestrator *Orchestrator, log zerolog.Logger) *Service {
	return &Service{repo: repo, products: products, orchestrator: orchestrator, log: log}
}

// CreateInput is the data captured before delivery starts.
type CreateInput struct {
	UserID               uuid.UUID
	Product              string
	Locale               string
	HTMLContent          string
	LocalizedHTMLContent string
	Sender               domain.Contact
	Landlord             domain.Contact
	Authority            domain.Contact
	PhysicalMailOptIn    bool
}

// Create stores a new unsent letter. The locale is fixed here; later changes
// to the author's locale do not affect it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Letter, error) {
	if _, err := s.products.Get(in.Product); err != nil {
		return nil, err
	}
	if in.HTMLContent == "" {
		return nil, fmt.Errorf("letter content is required")
	}
	locale := in.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	l := &domain.Letter{
		ID:                   uuid.New(),
		UserID:               in.UserID,
		Product:              in.Product,
		Locale:               locale,
		HTMLContent:          in.HTMLContent,
		LocalizedHTMLContent: in.LocalizedHTMLContent,
		ChannelStates:        map[domain.Channel]domain.ChannelState{},
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	for role, c := range map[string]domain.Contact{
		"sender":    in.Sender,
		"landlord":  in.Landlord,
		"authority": in.Authority,
	} {
		if err := s.repo.UpsertContact(ctx, l.ID, role, c, in.PhysicalMailOptIn); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Finalize runs a delivery pass inline with the finalizing request. The
// caller sees success once the letter exists durably and a pass was
// attempted; individual channel failures surface operationally, not here.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*domain.Letter, error) {
	if err := s.orchestrator.Process(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Letter, error) {
	return s.repo.Get(ctx, id)
}

// UpdateContent replaces the letter content. Content is mutable only until
// any channel succeeds or staff reject the letter.
func (s *Service) UpdateContent(ctx context.Context, id uuid.UUID, html, localizedHTML string) error {
	if html == "" {
		return fmt.Errorf("letter content is required")
	}
	return s.repo.UpdateContent(ctx, id, html, localizedHTML)
}

// UpdateContact replaces one party's contact info before delivery completes.
// Contact data may change between passes (e.g. a landlord email arriving
// late); letter content may not change once any channel succeeded.
func (s *Service) UpdateContact(ctx context.Context, id uuid.UUID, role string, c domain.Contact, optIn bool) error {
	switch role {
	case "sender", "landlord", "authority":
	default:
		return fmt.Errorf("unknown contact role %q", role)
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	parties, err := s.repo.GetParties(ctx, id)
	if err != nil {
		return err
	}
	prev := parties.Sender
	switch role {
	case "landlord":
		prev = parties.Landlord
	case "authority":
		prev = parties.Authority
	}
	tracker := changetrack.New(map[string]any{
		"name":    prev.Name,
		"email":   prev.Email,
		"phone":   prev.Phone,
		"address": prev.Address,
	})
	tracker.Set("name", c.Name)
	tracker.Set("email", c.Email)
	tracker.Set("phone", c.Phone)
	tracker.Set("address", c.Address)
	if err := s.repo.UpsertContact(ctx, id, role, c, optIn); err != nil {
		return err
	}
	if tracker.HasChanged() {
		s.log.Info().
			Str("letter_id", id.String()).
			Str("role", role).
			Strs("fields", tracker.Changed()).
			Msg("contact updated")
	}
	return nil
}

// Reject records the terminal staff-driven outcome. It fails on letters
// already carrying a tracking number.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		return fmt.Errorf("rejection reason is required")
	}
	return s.repo.Reject(ctx, id, reason, time.Now().UTC())
}

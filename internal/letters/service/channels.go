package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/JustFixNYC/tenants2-sub000/internal/certmail"
	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	edomain "github.com/JustFixNYC/tenants2-sub000/internal/email/domain"
	"github.com/JustFixNYC/tenants2-sub000/internal/letters/domain"
	"github.com/JustFixNYC/tenants2-sub000/internal/queue"
)

// MailProvider is the certified mail surface the channel needs; satisfied by
// certmail.Client.
type MailProvider interface {
	VerifyAddress(ctx context.Context, fields certmail.AddressFields) (certmail.Verification, error)
	CreateLetter(ctx context.Context, description string, to, from certmail.AddressFields, pdf []byte, opts certmail.LetterOptions) (*certmail.Letter, error)
}

// channel is the common shape of one delivery mechanism. Send must be a
// no-op only through AlreadySent; the orchestrator never calls Send for a
// channel that already recorded success.
type channel interface {
	ID() domain.Channel
	Eligible(l *domain.Letter, p *domain.Parties) bool
	AlreadySent(l *domain.Letter) bool
	Send(ctx context.Context, l *domain.Letter, pdf []byte, p *domain.Parties) error
}

const attachmentName = "letter.pdf"

// emailChannel covers the three email-backed channels; the target and locale
// rules differ per kind.
type emailChannel struct {
	kind    domain.Channel
	product *Product
	email   edomain.Sender
	repo    domain.Repository
}

func (c *emailChannel) ID() domain.Channel { return c.kind }

func (c *emailChannel) Eligible(l *domain.Letter, p *domain.Parties) bool {
	if !c.product.HasChannel(c.kind) {
		return false
	}
	switch c.kind {
	case domain.ChannelEmailToLandlord:
		return p.Landlord.Emailable()
	case domain.ChannelEmailToAuthority:
		return p.Authority.Emailable()
	case domain.ChannelEmailToSender:
		return p.Sender.Emailable()
	}
	return false
}

func (c *emailChannel) AlreadySent(l *domain.Letter) bool { return l.SentVia(c.kind) }

func (c *emailChannel) Send(ctx context.Context, l *domain.Letter, pdf []byte, p *domain.Parties) error {
	var (
		to     string
		locale string
	)
	switch c.kind {
	case domain.ChannelEmailToLandlord:
		// the landlord reads this, whatever locale the author writes in
		to, locale = p.Landlord.Email, DefaultLocale
	case domain.ChannelEmailToAuthority:
		to, locale = p.Authority.Email, DefaultLocale
	case domain.ChannelEmailToSender:
		to, locale = p.Sender.Email, l.Locale
	default:
		return fmt.Errorf("email channel cannot send %q", c.kind)
	}
	subject, body, err := c.product.Message(c.kind, locale, TemplateData{
		SenderName:   p.Sender.Name,
		LandlordName: p.Landlord.Name,
	})
	if err != nil {
		return err
	}
	msg := edomain.Message{
		Subject:  subject,
		TextBody: body,
		To:       []string{to},
		Attachments: []edomain.Attachment{
			{Filename: attachmentName, ContentType: "application/pdf", Content: pdf},
		},
	}
	if err := c.email.Send(ctx, msg); err != nil {
		return err
	}
	return c.repo.MarkChannelSent(ctx, l.ID, c.kind, time.Now().UTC())
}

// certifiedMailChannel submits the letter to the certified mail provider and
// fires off the tracking SMS to the author.
type certifiedMailChannel struct {
	product  *Product
	provider MailProvider
	repo     domain.Repository
	enqueuer queue.Enqueuer
	cfg      config.Config
	log      zerolog.Logger
}

func (c *certifiedMailChannel) ID() domain.Channel { return domain.ChannelCertifiedMail }

func (c *certifiedMailChannel) Eligible(l *domain.Letter, p *domain.Parties) bool {
	if !c.product.HasChannel(domain.ChannelCertifiedMail) || !c.product.PhysicalMailEnabled {
		return false
	}
	if c.product.PhysicalMailRequiresOptIn && !p.PhysicalMailOptIn {
		return false
	}
	// the provider's submission format requires a return address too
	return p.Landlord.Mailable() && p.Sender.Mailable()
}

func (c *certifiedMailChannel) AlreadySent(l *domain.Letter) bool {
	return l.SentVia(domain.ChannelCertifiedMail)
}

func (c *certifiedMailChannel) Send(ctx context.Context, l *domain.Letter, pdf []byte, p *domain.Parties) error {
	to := toProviderAddress(p.Landlord)
	from := toProviderAddress(p.Sender)

	// Both addresses go through verification because the provider wants
	// normalized fields; the verdict itself is informational here.
	toV, err := c.provider.VerifyAddress(ctx, to)
	if err != nil {
		return fmt.Errorf("verify landlord address: %w", err)
	}
	fromV, err := c.provider.VerifyAddress(ctx, from)
	if err != nil {
		return fmt.Errorf("verify sender address: %w", err)
	}
	if toV.Deliverability == certmail.Undeliverable {
		c.log.Warn().Str("letter_id", l.ID.String()).Msg("landlord address flagged undeliverable, mailing anyway")
	}

	description := fmt.Sprintf("%s %s", c.product.Label, l.ID)
	letter, err := c.provider.CreateLetter(ctx, description, toV.Normalized, fromV.Normalized, pdf, certmail.LetterOptions{DoubleSided: true})
	if err != nil {
		return err
	}
	if letter.TrackingNumber == "" {
		return fmt.Errorf("provider accepted letter %s without a tracking number", letter.ID)
	}
	if err := c.repo.RecordMailProviderResponse(ctx, l.ID, letter.Raw, letter.TrackingNumber, time.Now().UTC()); err != nil {
		return err
	}

	if p.Sender.Phone != "" {
		payload := queue.TrackingSMSPayload{
			LetterID:       l.ID.String(),
			Phone:          p.Sender.Phone,
			TrackingNumber: letter.TrackingNumber,
			TrackingURL:    c.cfg.TrackingURLPrefix + letter.TrackingNumber,
		}
		// fire and forget: a lost confirmation text never fails the channel
		if err := queue.EnqueueTrackingSMS(ctx, c.enqueuer, payload); err != nil {
			c.log.Warn().Err(err).Str("letter_id", l.ID.String()).Msg("tracking sms enqueue failed")
		}
	}
	return nil
}

func toProviderAddress(c domain.Contact) certmail.AddressFields {
	return certmail.AddressFields{
		Name:  c.Name,
		Line1: c.Address.Line1,
		Line2: c.Address.Line2,
		City:  c.Address.City,
		State: c.Address.State,
		Zip:   c.Address.Zip,
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	edomain "github.com/JustFixNYC/tenants2-sub000/internal/email/domain"
	evdomain "github.com/JustFixNYC/tenants2-sub000/internal/events/domain"
	"github.com/JustFixNYC/tenants2-sub000/internal/letters/domain"
	"github.com/JustFixNYC/tenants2-sub000/internal/metrics"
	"github.com/JustFixNYC/tenants2-sub000/internal/pdf"
	"github.com/JustFixNYC/tenants2-sub000/internal/queue"
)

// Composer renders letter content to a single PDF artifact; satisfied by
// pdf.Composer.
type Composer interface {
	Compose(ctx context.Context, htmlPrimary, htmlLocalized string) ([]byte, error)
}

// Orchestrator runs one delivery pass over a letter: render once, attempt
// each eligible channel in fixed order, record bookkeeping after every
// attempt. Channels never re-send once recorded; re-invocation is always
// safe.
type Orchestrator struct {
	repo     domain.Repository
	composer Composer
	products Registry
	email    edomain.Sender
	provider MailProvider
	enqueuer queue.Enqueuer
	events   evdomain.Publisher
	cfg      config.Config
	log      zerolog.Logger
}

func NewOrchestrator(
	repo domain.Repository,
	composer Composer,
	products Registry,
	email edomain.Sender,
	provider MailProvider,
	enqueuer queue.Enqueuer,
	events evdomain.Publisher,
	cfg config.Config,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		composer: composer,
		products: products,
		email:    email,
		provider: provider,
		enqueuer: enqueuer,
		events:   events,
		cfg:      cfg,
		log:      log,
	}
}

// channelsFor builds the product's senders in the fixed orchestration order.
func (o *Orchestrator) channelsFor(p *Product) []channel {
	out := make([]channel, 0, len(domain.AllChannels))
	for _, id := range domain.AllChannels {
		if !p.HasChannel(id) {
			continue
		}
		if id == domain.ChannelCertifiedMail {
			out = append(out, &certifiedMailChannel{
				product:  p,
				provider: o.provider,
				repo:     o.repo,
				enqueuer: o.enqueuer,
				cfg:      o.cfg,
				log:      o.log,
			})
			continue
		}
		out = append(out, &emailChannel{kind: id, product: p, email: o.email, repo: o.repo})
	}
	return out
}

// Process runs one delivery pass. It returns an error only for composer or
// persistence failures; a failing channel is logged and left retry-eligible.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID) error {
	l, release, err := o.repo.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrClaimed) {
			o.log.Info().Str("letter_id", id.String()).Msg("letter claimed by another pass, skipping")
			return nil
		}
		return err
	}
	defer release()

	if l.Rejected() {
		o.log.Info().Str("letter_id", id.String()).Msg("letter rejected, nothing to deliver")
		return nil
	}

	product, err := o.products.Get(l.Product)
	if err != nil {
		return err
	}
	parties, err := o.repo.GetParties(ctx, id)
	if err != nil {
		return err
	}

	// Rendered once per pass: cheap, deterministic, safe to redo on retry.
	artifact, err := o.composer.Compose(ctx, l.HTMLContent, l.LocalizedHTMLContent)
	if err != nil {
		if errors.Is(err, pdf.ErrBadContent) {
			// template/data defect upstream; retrying cannot help
			return fmt.Errorf("letter %s: %w", id, err)
		}
		return fmt.Errorf("letter %s: render: %w", id, err)
	}

	for _, ch := range o.channelsFor(product) {
		o.attempt(ctx, ch, l, artifact, parties)
	}

	if l.FullyProcessedAt == nil {
		// marks "a pass was attempted", not "every channel succeeded"
		if err := o.repo.MarkFullyProcessed(ctx, id, time.Now().UTC()); err != nil {
			return fmt.Errorf("letter %s: %w", id, err)
		}
	}
	o.publish(ctx, l, "letter.pass.completed", nil)
	return nil
}

// attempt runs one channel with partial-failure isolation: an error is
// recorded and logged but never aborts the remaining channels.
func (o *Orchestrator) attempt(ctx context.Context, ch channel, l *domain.Letter, artifact []byte, parties *domain.Parties) {
	chName := string(ch.ID())
	if ch.AlreadySent(l) {
		return
	}
	if !ch.Eligible(l, parties) {
		if l.ChannelStates[ch.ID()] != domain.StateNotEligible {
			if err := o.repo.MarkChannelState(ctx, l.ID, ch.ID(), domain.StateNotEligible); err != nil {
				o.log.Error().Err(err).Str("letter_id", l.ID.String()).Str("channel", chName).Msg("record not-eligible state")
			}
		}
		metrics.IncChannelAttempt(l.Product, chName, "skipped")
		return
	}

	if err := o.repo.MarkChannelState(ctx, l.ID, ch.ID(), domain.StatePending); err != nil {
		o.log.Error().Err(err).Str("letter_id", l.ID.String()).Str("channel", chName).Msg("record pending state")
	}

	start := time.Now()
	err := ch.Send(ctx, l, artifact, parties)
	if err != nil {
		metrics.IncChannelAttempt(l.Product, chName, "failed")
		if stErr := o.repo.MarkChannelState(ctx, l.ID, ch.ID(), domain.StateFailed); stErr != nil {
			o.log.Error().Err(stErr).Str("letter_id", l.ID.String()).Str("channel", chName).Msg("record failed state")
		}
		o.log.Warn().Err(err).
			Str("letter_id", l.ID.String()).
			Str("channel", chName).
			Dur("elapsed", time.Since(start)).
			Msg("channel send failed, left retry-eligible")
		o.publish(ctx, l, "letter.channel.failed", map[string]string{"channel": chName, "error": err.Error()})
		return
	}
	metrics.IncChannelAttempt(l.Product, chName, "sent")
	o.log.Info().
		Str("letter_id", l.ID.String()).
		Str("channel", chName).
		Dur("elapsed", time.Since(start)).
		Msg("channel sent")
	o.publish(ctx, l, "letter.channel.sent", map[string]string{"channel": chName})
}

func (o *Orchestrator) publish(ctx context.Context, l *domain.Letter, typ string, meta map[string]string) {
	if o.events == nil {
		return
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["product"] = l.Product
	_ = o.events.Publish(ctx, evdomain.Event{
		Type:     typ,
		LetterID: l.ID,
		UserID:   l.UserID,
		Meta:     meta,
		Time:     time.Now().UTC(),
	})
}

package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel identifies one delivery mechanism for a letter.
type Channel string

const (
	ChannelEmailToLandlord  Channel = "email_to_landlord"
	ChannelCertifiedMail    Channel = "certified_mail"
	ChannelEmailToAuthority Channel = "email_to_authority"
	ChannelEmailToSender    Channel = "email_to_sender"
)

// AllChannels is the fixed order in which the orchestrator attempts channels.
var AllChannels = []Channel{
	ChannelEmailToLandlord,
	ChannelCertifiedMail,
	ChannelEmailToAuthority,
	ChannelEmailToSender,
}

// ChannelState is the explicit per-channel delivery state persisted with the
// letter. A failed channel stays retry-eligible; a sent channel is final.
type ChannelState string

const (
	StateNotEligible ChannelState = "not_eligible"
	StatePending     ChannelState = "pending"
	StateSent        ChannelState = "sent"
	StateFailed      ChannelState = "failed"
)

// Letter is the central delivery record. Channel timestamps are nullable and
// settable at most once; content becomes immutable once any channel succeeds.
type Letter struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Product string

	// Locale the letter was created in, not the author's current locale.
	Locale string

	HTMLContent          string
	LocalizedHTMLContent string

	EmailedToLandlordAt  *time.Time
	MailedAt             *time.Time
	EmailedToAuthorityAt *time.Time
	EmailedToSenderAt    *time.Time

	// FullyProcessedAt records that a full delivery pass was attempted,
	// not that every channel succeeded.
	FullyProcessedAt *time.Time

	ChannelStates map[Channel]ChannelState

	// MailProviderResponse is the certified mail provider's response stored
	// verbatim so provider schema changes never require a migration.
	MailProviderResponse json.RawMessage
	TrackingNumber       string

	RejectedAt      *time.Time
	RejectionReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SentVia reports whether the given channel has already been recorded
// successful for this letter.
func (l *Letter) SentVia(ch Channel) bool {
	switch ch {
	case ChannelEmailToLandlord:
		return l.EmailedToLandlordAt != nil
	case ChannelCertifiedMail:
		return l.MailedAt != nil
	case ChannelEmailToAuthority:
		return l.EmailedToAuthorityAt != nil
	case ChannelEmailToSender:
		return l.EmailedToSenderAt != nil
	}
	return false
}

// Rejected reports whether staff rejected the letter. A rejected letter never
// carries a tracking number.
func (l *Letter) Rejected() bool { return l.RejectedAt != nil }

// Address is a structured mailing address. Mailable requires every field.
type Address struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// Complete reports whether all required address fields are populated.
// Line2 is optional.
func (a Address) Complete() bool {
	return a.Line1 != "" && a.City != "" && a.State != "" && a.Zip != ""
}

// Contact holds the reachable coordinates for one party to the delivery.
type Contact struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

// Emailable reports whether the party can receive email.
func (c Contact) Emailable() bool { return c.Email != "" }

// Mailable reports whether the party has a complete mailing address.
func (c Contact) Mailable() bool { return c.Address.Complete() }

// Parties are the recipients of one letter: the author (sender), the
// landlord, and the authority looked up for the author's jurisdiction.
type Parties struct {
	Sender    Contact
	Landlord  Contact
	Authority Contact

	// PhysicalMailOptIn is the author's choice for products that make
	// certified mail optional.
	PhysicalMailOptIn bool
}

// Repository abstracts persistence for letters. Channel results are written
// one at a time so partial success survives a crash mid-pass.
type Repository interface {
	Create(ctx context.Context, l *Letter) error
	Get(ctx context.Context, id uuid.UUID) (*Letter, error)

	// Claim loads the letter under a per-letter advisory lock, providing
	// mutual exclusion between concurrent delivery passes. The caller must
	// invoke release when the pass ends. Returns ErrClaimed when another
	// pass holds the lock.
	Claim(ctx context.Context, id uuid.UUID) (l *Letter, release func(), err error)

	// UpdateContent replaces the letter content. Fails with ErrContentFrozen
	// once any channel succeeded or the letter was rejected.
	UpdateContent(ctx context.Context, id uuid.UUID, html, localizedHTML string) error

	// MarkChannelSent stamps the channel timestamp if currently null and
	// records the sent state. Stamping an already-set timestamp is an error.
	MarkChannelSent(ctx context.Context, id uuid.UUID, ch Channel, at time.Time) error

	// MarkChannelState records a non-terminal state transition.
	MarkChannelState(ctx context.Context, id uuid.UUID, ch Channel, st ChannelState) error

	// RecordMailProviderResponse stores the opaque provider blob and the
	// extracted tracking number alongside the mailed_at stamp.
	RecordMailProviderResponse(ctx context.Context, id uuid.UUID, raw json.RawMessage, trackingNumber string, at time.Time) error

	// MarkFullyProcessed stamps fully_processed_at if currently null.
	MarkFullyProcessed(ctx context.Context, id uuid.UUID, at time.Time) error

	Reject(ctx context.Context, id uuid.UUID, reason string, at time.Time) error

	// FindUnprocessed returns letters with fully_processed_at null whose
	// last update is older than the staleness window.
	FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)

	// FindAuthorityEmailGaps returns fully-processed letters that were never
	// emailed to the authority but now have an authority email on file.
	FindAuthorityEmailGaps(ctx context.Context, limit int) ([]uuid.UUID, error)

	// FindFailedChannels returns non-rejected letters with at least one
	// channel in the failed state, untouched since the staleness window.
	// These completed a pass, so fully_processed_at is set; the failed
	// channel itself stays retry-eligible.
	FindFailedChannels(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)

	GetParties(ctx context.Context, id uuid.UUID) (*Parties, error)

	// UpsertContact stores or replaces one party's contact info. role is
	// one of "sender", "landlord", "authority".
	UpsertContact(ctx context.Context, id uuid.UUID, role string, c Contact, physicalMailOptIn bool) error
}

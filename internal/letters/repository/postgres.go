package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JustFixNYC/tenants2-sub000/internal/letters/domain"
)

// Postgres implements domain.Repository on a pgx pool. Channel results are
// written one UPDATE at a time so a crash mid-pass loses at most the channel
// in flight.
type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ domain.Repository = (*Postgres)(nil)

const letterColumns = `id, user_id, product, locale, html_content, localized_html_content,
	emailed_to_landlord_at, mailed_at, emailed_to_authority_at, emailed_to_sender_at,
	fully_processed_at, channel_states, mail_provider_response, tracking_number,
	rejected_at, rejection_reason, created_at, updated_at`

func (r *Postgres) Create(ctx context.Context, l *domain.Letter) error {
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.ChannelStates == nil {
		l.ChannelStates = map[domain.Channel]domain.ChannelState{}
	}
	states, err := json.Marshal(l.ChannelStates)
	if err != nil {
		return fmt.Errorf("marshal channel states: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO letters (id, user_id, product, locale, html_content, localized_html_content,
			channel_states, tracking_number, rejection_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'','',$8,$9)
	`, l.ID, l.UserID, l.Product, l.Locale, l.HTMLContent, l.LocalizedHTMLContent, states, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert letter: %w", err)
	}
	return nil
}

func (r *Postgres) Get(ctx context.Context, id uuid.UUID) (*domain.Letter, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+letterColumns+` FROM letters WHERE id=$1`, id)
	return scanLetter(row)
}

func scanLetter(row pgx.Row) (*domain.Letter, error) {
	var (
		l      domain.Letter
		states []byte
	)
	err := row.Scan(&l.ID, &l.UserID, &l.Product, &l.Locale, &l.HTMLContent, &l.LocalizedHTMLContent,
		&l.EmailedToLandlordAt, &l.MailedAt, &l.EmailedToAuthorityAt, &l.EmailedToSenderAt,
		&l.FullyProcessedAt, &states, &l.MailProviderResponse, &l.TrackingNumber,
		&l.RejectedAt, &l.RejectionReason, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select letter: %w", err)
	}
	l.ChannelStates = map[domain.Channel]domain.ChannelState{}
	if len(states) > 0 {
		if err := json.Unmarshal(states, &l.ChannelStates); err != nil {
			return nil, fmt.Errorf("decode channel states: %w", err)
		}
	}
	return &l, nil
}

// Claim takes a per-letter advisory lock on a dedicated connection. The lock
// spans the whole delivery pass without holding a transaction open across
// provider calls.
func (r *Postgres) Claim(ctx context.Context, id uuid.UUID) (*domain.Letter, func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire conn: %w", err)
	}
	key := advisoryKey(id)
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, nil, domain.ErrClaimed
	}
	release := func() {
		// best effort; releasing the connection drops the session lock anyway
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	l, err := r.Get(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	return l, release, nil
}

// advisoryKey folds a uuid into the int64 keyspace of pg advisory locks.
func advisoryKey(id uuid.UUID) int64 {
	b := id[:]
	var k uint64
	for i := 0; i < 8; i++ {
		k = k<<8 | uint64(b[i]^b[i+8])
	}
	return int64(k)
}

func channelColumn(ch domain.Channel) (string, error) {
	switch ch {
	case domain.ChannelEmailToLandlord:
		return "emailed_to_landlord_at", nil
	case domain.ChannelCertifiedMail:
		return "mailed_at", nil
	case domain.ChannelEmailToAuthority:
		return "emailed_to_authority_at", nil
	case domain.ChannelEmailToSender:
		return "emailed_to_sender_at", nil
	}
	return "", fmt.Errorf("unknown channel %q", ch)
}

// UpdateContent replaces the letter content while no channel has succeeded.
// The guarded UPDATE keeps the freeze atomic with respect to concurrent
// delivery passes.
func (r *Postgres) UpdateContent(ctx context.Context, id uuid.UUID, html, localizedHTML string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE letters
		SET html_content = $2, localized_html_content = $3, updated_at = $4
		WHERE id = $1
			AND emailed_to_landlord_at IS NULL AND mailed_at IS NULL
			AND emailed_to_authority_at IS NULL AND emailed_to_sender_at IS NULL
			AND rejected_at IS NULL
	`, id, html, localizedHTML, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrContentFrozen
	}
	return nil
}

// MarkChannelSent stamps the channel timestamp. The WHERE clause enforces
// write-once: an already-set timestamp makes this a no-op reported as
// ErrAlreadyStamped.
func (r *Postgres) MarkChannelSent(ctx context.Context, id uuid.UUID, ch domain.Channel, at time.Time) error {
	col, err := channelColumn(ch)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE letters
		SET %s = $2,
			channel_states = jsonb_set(channel_states, $3, '"sent"'),
			updated_at = $4
		WHERE id = $1 AND %s IS NULL
	`, col, col), id, at.UTC(), []string{string(ch)}, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark channel sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyStamped
	}
	return nil
}

func (r *Postgres) MarkChannelState(ctx context.Context, id uuid.UUID, ch domain.Channel, st domain.ChannelState) error {
	val, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal channel state: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE letters
		SET channel_states = jsonb_set(channel_states, $2, $3::jsonb),
			updated_at = $4
		WHERE id = $1
	`, id, []string{string(ch)}, string(val), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark channel state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Postgres) RecordMailProviderResponse(ctx context.Context, id uuid.UUID, raw json.RawMessage, trackingNumber string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE letters
		SET mail_provider_response = $2,
			tracking_number = $3,
			mailed_at = $4,
			channel_states = jsonb_set(channel_states, '{certified_mail}', '"sent"'),
			updated_at = $5
		WHERE id = $1 AND mailed_at IS NULL AND rejected_at IS NULL
	`, id, raw, trackingNumber, at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record mail provider response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		l, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if l.Rejected() {
			return domain.ErrRejectedWithTracking
		}
		return domain.ErrAlreadyStamped
	}
	return nil
}

func (r *Postgres) MarkFullyProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE letters SET fully_processed_at = $2, updated_at = $3
		WHERE id = $1 AND fully_processed_at IS NULL
	`, id, at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark fully processed: %w", err)
	}
	return nil
}

func (r *Postgres) Reject(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE letters SET rejected_at = $2, rejection_reason = $3, updated_at = $4
		WHERE id = $1 AND rejected_at IS NULL AND tracking_number = ''
	`, id, at.UTC(), reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reject letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		l, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if l.TrackingNumber != "" {
			return domain.ErrRejectedWithTracking
		}
		return domain.ErrAlreadyStamped
	}
	return nil
}

func (r *Postgres) FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM letters
		WHERE fully_processed_at IS NULL AND rejected_at IS NULL AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find unprocessed: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// FindAuthorityEmailGaps finds letters that completed a pass before an
// authority email became available. The channel was not-eligible back then,
// so no failed state marks it; this query is the only way back in.
func (r *Postgres) FindAuthorityEmailGaps(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id FROM letters l
		JOIN letter_contacts c ON c.letter_id = l.id AND c.role = 'authority'
		WHERE l.fully_processed_at IS NOT NULL
		  AND l.rejected_at IS NULL
		  AND l.emailed_to_authority_at IS NULL
		  AND c.email <> ''
		ORDER BY l.updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("find authority email gaps: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// FindFailedChannels picks up letters whose pass completed but left a
// channel in the failed state, e.g. a certified mail submission that timed
// out. The staleness window keeps the retry from racing the pass that
// recorded the failure.
func (r *Postgres) FindFailedChannels(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM letters
		WHERE rejected_at IS NULL
		  AND updated_at < $1
		  AND EXISTS (
			SELECT 1 FROM jsonb_each_text(channel_states) s WHERE s.value = 'failed'
		  )
		ORDER BY updated_at
		LIMIT $2
	`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find failed channels: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Postgres) GetParties(ctx context.Context, id uuid.UUID) (*domain.Parties, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role, name, email, phone, address_line1, address_line2,
			address_city, address_state, address_zip, physical_mail_opt_in
		FROM letter_contacts WHERE letter_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	defer rows.Close()

	p := &domain.Parties{}
	for rows.Next() {
		var (
			role  string
			c     domain.Contact
			optIn bool
		)
		if err := rows.Scan(&role, &c.Name, &c.Email, &c.Phone, &c.Address.Line1, &c.Address.Line2,
			&c.Address.City, &c.Address.State, &c.Address.Zip, &optIn); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		switch role {
		case "sender":
			p.Sender = c
			p.PhysicalMailOptIn = optIn
		case "landlord":
			p.Landlord = c
		case "authority":
			p.Authority = c
		}
	}
	return p, rows.Err()
}

// UpsertContact stores or replaces one party's contact info for a letter.
func (r *Postgres) UpsertContact(ctx context.Context, id uuid.UUID, role string, c domain.Contact, optIn bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO letter_contacts (letter_id, role, name, email, phone,
			address_line1, address_line2, address_city, address_state, address_zip, physical_mail_opt_in)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (letter_id, role) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			address_line1 = EXCLUDED.address_line1, address_line2 = EXCLUDED.address_line2,
			address_city = EXCLUDED.address_city, address_state = EXCLUDED.address_state,
			address_zip = EXCLUDED.address_zip, physical_mail_opt_in = EXCLUDED.physical_mail_opt_in
	`, id, role, c.Name, c.Email, c.Phone, c.Address.Line1, c.Address.Line2,
		c.Address.City, c.Address.State, c.Address.Zip, optIn)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

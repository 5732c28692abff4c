// Package contacts provides the canonical contact records and the platform
// identity resolution that folds per-platform sender ids into one contact.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/kanalhq/kanal/internal/db"
	"github.com/kanalhq/kanal/internal/platform"
)

var (
	ErrContactNotFound = errors.New("contact not found")
	// ErrIdentityTaken is returned when a (platform, external_id) pair already
	// belongs to a different contact.
	ErrIdentityTaken = errors.New("platform identity already belongs to another contact")
)

// Service provides contact lifecycle and identity resolution operations.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a contact service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "contacts")),
	}
}

const contactColumns = `id, name, phone, email, avatar_url, created_at, updated_at`

// Resolve maps an inbound (platform, external_id) pair to its contact,
// creating one when the pair is unseen. The create path races with concurrent
// first-contact events; a unique violation means another resolver won, so the
// find path is retried instead of surfacing the conflict.
func (s *Service) Resolve(ctx context.Context, p platform.Platform, externalID, profileHint string) (Contact, error) {
	if s.pool == nil {
		return Contact{}, fmt.Errorf("contacts pool not configured")
	}
	if !platform.IsSupported(p) {
		return Contact{}, fmt.Errorf("unsupported platform: %q", p)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Contact{}, fmt.Errorf("external id is required")
	}

	for attempt := 0; attempt < 2; attempt++ {
		contact, err := s.GetByIdentity(ctx, p, externalID)
		if err == nil {
			return contact, nil
		}
		if !errors.Is(err, ErrContactNotFound) {
			return Contact{}, err
		}

		contact, err = s.createWithIdentity(ctx, p, externalID, profileHint)
		if err == nil {
			return contact, nil
		}
		if dbpkg.IsUniqueViolation(err) {
			s.logger.Debug("identity creation raced, retrying find",
				slog.String("platform", p.String()),
				slog.String("external_id", externalID),
			)
			continue
		}
		return Contact{}, err
	}
	return Contact{}, fmt.Errorf("resolve contact %s/%s: retries exhausted", p, externalID)
}

// GetByIdentity looks up the contact owning a (platform, external_id) pair.
func (s *Service) GetByIdentity(ctx context.Context, p platform.Platform, externalID string) (Contact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT c.id, c.name, c.phone, c.email, c.avatar_url, c.created_at, c.updated_at
		FROM contacts c
		JOIN contact_identities ci ON ci.contact_id = c.id
		WHERE ci.platform = $1 AND ci.external_id = $2
	`, p.String(), externalID)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, err
	}
	return s.attachIdentities(ctx, contact)
}

// GetByID returns a contact with its identity slots.
func (s *Service) GetByID(ctx context.Context, id string) (Contact, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %s", ErrContactNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, pgID)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, err
	}
	return s.attachIdentities(ctx, contact)
}

// Create inserts a contact via the explicit create action.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Contact, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Contact{}, fmt.Errorf("contact name is required")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (name, phone, email)
		VALUES ($1, $2, $3)
		RETURNING `+contactColumns,
		name, dbpkg.ToPgText(req.Phone), dbpkg.ToPgText(req.Email),
	)
	return scanContact(row)
}

// Update patches the user-editable fields of a contact.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Contact, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %s", ErrContactNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE contacts SET
			name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			email = COALESCE($4, email),
			updated_at = now()
		WHERE id = $1
		RETURNING `+contactColumns,
		pgID, optionalText(req.Name), optionalText(req.Phone), optionalText(req.Email),
	)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, err
	}
	return s.attachIdentities(ctx, contact)
}

// AddIdentity attaches a platform identity slot to an existing contact. This
// is the explicit multi-platform path; identities are never merged by
// inference.
func (s *Service) AddIdentity(ctx context.Context, contactID string, p platform.Platform, externalID, displayName string) (Identity, error) {
	if !platform.IsSupported(p) {
		return Identity{}, fmt.Errorf("unsupported platform: %q", p)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Identity{}, fmt.Errorf("external id is required")
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s", ErrContactNotFound, contactID)
	}
	if _, err := s.GetByID(ctx, contactID); err != nil {
		return Identity{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO contact_identities (contact_id, platform, external_id, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, contact_id, platform, external_id, display_name, created_at
	`, pgContactID, p.String(), externalID, dbpkg.ToPgText(displayName))
	identity, err := scanIdentity(row)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return Identity{}, ErrIdentityTaken
		}
		return Identity{}, err
	}
	return identity, nil
}

// List returns contacts newest-updated first, with an optional
// case-insensitive substring search over name, phone, and email.
func (s *Service) List(ctx context.Context, limit, offset int, search string) ([]Contact, int64, error) {
	if limit <= 0 {
		return nil, 0, fmt.Errorf("limit must be positive")
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{limit, offset}
	countArgs := []any{}
	if trimmed := strings.TrimSpace(search); trimmed != "" {
		pattern := "%" + escapeLike(trimmed) + "%"
		where = `WHERE name ILIKE $3 OR phone ILIKE $3 OR email ILIKE $3`
		args = append(args, pattern)
		countArgs = append(countArgs, pattern)
	}

	var total int64
	countQuery := `SELECT count(*) FROM contacts`
	if where != "" {
		countQuery += ` WHERE name ILIKE $1 OR phone ILIKE $1 OR email ILIKE $1`
	}
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+contactColumns+` FROM contacts `+where+`
		ORDER BY updated_at DESC, id
		LIMIT $1 OFFSET $2
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]Contact, 0, limit)
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// likeEscaper neutralizes the LIKE metacharacters so a search term matches
// literally. `%` and `_` in user input are text, not wildcards.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

func (s *Service) createWithIdentity(ctx context.Context, p platform.Platform, externalID, profileHint string) (Contact, error) {
	name := strings.TrimSpace(profileHint)
	if name == "" {
		name = externalID
	}
	// WhatsApp external ids are phone numbers; keep the phone column in sync
	// so contact search by number works for resolver-created contacts.
	phone := ""
	if p == platform.WhatsApp {
		phone = externalID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contact{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO contacts (name, phone)
		VALUES ($1, $2)
		RETURNING `+contactColumns,
		name, dbpkg.ToPgText(phone),
	)
	contact, err := scanContact(row)
	if err != nil {
		return Contact{}, err
	}

	pgContactID, err := dbpkg.ParseUUID(contact.ID)
	if err != nil {
		return Contact{}, err
	}
	identityRow := tx.QueryRow(ctx, `
		INSERT INTO contact_identities (contact_id, platform, external_id, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, contact_id, platform, external_id, display_name, created_at
	`, pgContactID, p.String(), externalID, dbpkg.ToPgText(profileHint))
	identity, err := scanIdentity(identityRow)
	if err != nil {
		return Contact{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Contact{}, err
	}

	s.logger.Info("contact created from inbound identity",
		slog.String("contact_id", contact.ID),
		slog.String("platform", p.String()),
	)
	contact.Identities = []Identity{identity}
	return contact, nil
}

func (s *Service) attachIdentities(ctx context.Context, contact Contact) (Contact, error) {
	pgID, err := dbpkg.ParseUUID(contact.ID)
	if err != nil {
		return Contact{}, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, contact_id, platform, external_id, display_name, created_at
		FROM contact_identities
		WHERE contact_id = $1
		ORDER BY created_at, id
	`, pgID)
	if err != nil {
		return Contact{}, err
	}
	defer rows.Close()

	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return Contact{}, err
		}
		contact.Identities = append(contact.Identities, identity)
	}
	if err := rows.Err(); err != nil {
		return Contact{}, err
	}
	return contact, nil
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		id                pgtype.UUID
		name              string
		phone, email, ava pgtype.Text
		created, updated  pgtype.Timestamptz
	)
	if err := row.Scan(&id, &name, &phone, &email, &ava, &created, &updated); err != nil {
		return Contact{}, err
	}
	return Contact{
		ID:        dbpkg.UUIDToString(id),
		Name:      name,
		Phone:     dbpkg.TextToString(phone),
		Email:     dbpkg.TextToString(email),
		AvatarURL: dbpkg.TextToString(ava),
		CreatedAt: dbpkg.TimeFromPg(created),
		UpdatedAt: dbpkg.TimeFromPg(updated),
	}, nil
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		id, contactID pgtype.UUID
		platformTag   string
		externalID    string
		displayName   pgtype.Text
		created       pgtype.Timestamptz
	)
	if err := row.Scan(&id, &contactID, &platformTag, &externalID, &displayName, &created); err != nil {
		return Identity{}, err
	}
	return Identity{
		ID:          dbpkg.UUIDToString(id),
		ContactID:   dbpkg.UUIDToString(contactID),
		Platform:    platform.Platform(platformTag),
		ExternalID:  externalID,
		DisplayName: dbpkg.TextToString(displayName),
		CreatedAt:   dbpkg.TimeFromPg(created),
	}, nil
}

func optionalText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: strings.TrimSpace(*value), Valid: true}
}

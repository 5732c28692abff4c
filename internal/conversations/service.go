// Package conversations tracks the one-conversation-per-(contact, platform)
// threads: last-message previews, unread counters, and deterministic listing.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kanalhq/kanal/internal/contacts"
	dbpkg "github.com/kanalhq/kanal/internal/db"
	"github.com/kanalhq/kanal/internal/platform"
)

var ErrConversationNotFound = errors.New("conversation not found")

// previewLimit caps the stored last-message preview. Full content lives in the
// message log; the preview only feeds the conversation list.
const previewLimit = 160

// Service maintains conversation state. All counter and preview mutations are
// single-statement atomic updates, so concurrent writers to the same
// conversation serialize inside the database.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "conversations")),
	}
}

const conversationColumns = `id, contact_id, platform, last_message_text, last_message_at, unread_count, created_at, updated_at`

// TouchInbound finds or creates the conversation for (contact, platform),
// advances the preview, and increments the unread counter. A delayed webhook
// delivery carrying an older timestamp never regresses the displayed preview.
func (s *Service) TouchInbound(ctx context.Context, contactID string, p platform.Platform, preview string, at time.Time) (Conversation, error) {
	return s.touch(ctx, contactID, p, preview, at, true)
}

// TouchOutbound finds or creates the conversation for (contact, platform) and
// advances the preview. Outbound messages are never unread, so the counter is
// untouched. Creation covers business-initiated threads with no inbound yet.
func (s *Service) TouchOutbound(ctx context.Context, contactID string, p platform.Platform, preview string, at time.Time) (Conversation, error) {
	return s.touch(ctx, contactID, p, preview, at, false)
}

func (s *Service) touch(ctx context.Context, contactID string, p platform.Platform, preview string, at time.Time, inbound bool) (Conversation, error) {
	if s.pool == nil {
		return Conversation{}, fmt.Errorf("conversations pool not configured")
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}
	if !platform.IsSupported(p) {
		return Conversation{}, fmt.Errorf("unsupported platform: %q", p)
	}
	if at.IsZero() {
		at = time.Now()
	}
	preview = truncatePreview(preview)

	initialUnread := 0
	unreadExpr := `conversations.unread_count`
	if inbound {
		initialUnread = 1
		unreadExpr = `conversations.unread_count + 1`
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (contact_id, platform, last_message_text, last_message_at, unread_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contact_id, platform) DO UPDATE SET
			last_message_text = CASE
				WHEN EXCLUDED.last_message_at >= conversations.last_message_at THEN EXCLUDED.last_message_text
				ELSE conversations.last_message_text
			END,
			last_message_at = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
			unread_count = `+unreadExpr+`,
			updated_at = now()
		RETURNING `+conversationColumns,
		pgContactID, p.String(), preview, pgtype.Timestamptz{Time: at, Valid: true}, initialUnread,
	)
	return scanConversation(row)
}

// FindOrCreate returns the conversation for (contact, platform), creating an
// empty one when none exists. Unlike the touch paths it never moves the
// preview or the counters, so it is safe to call before the triggering
// message is durably recorded.
func (s *Service) FindOrCreate(ctx context.Context, contactID string, p platform.Platform) (Conversation, error) {
	if s.pool == nil {
		return Conversation{}, fmt.Errorf("conversations pool not configured")
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}
	if !platform.IsSupported(p) {
		return Conversation{}, fmt.Errorf("unsupported platform: %q", p)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (contact_id, platform, last_message_text)
		VALUES ($1, $2, '')
		ON CONFLICT (contact_id, platform) DO NOTHING
		RETURNING `+conversationColumns,
		pgContactID, p.String(),
	)
	conv, err := scanConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, err
	}

	// DO NOTHING returned no row: the conversation already exists.
	row = s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE contact_id = $1 AND platform = $2
	`, pgContactID, p.String())
	conv, err = scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, err
	}
	return conv, nil
}

// MarkRead resets the unread counter to zero. Idempotent.
func (s *Service) MarkRead(ctx context.Context, id string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE conversations SET unread_count = 0, updated_at = now()
		WHERE id = $1
		RETURNING `+conversationColumns,
		pgID,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, err
	}
	return conv, nil
}

// GetByID returns one conversation with its contact summary joined.
func (s *Service) GetByID(ctx context.Context, id string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT v.id, v.contact_id, v.platform, v.last_message_text, v.last_message_at,
		       v.unread_count, v.created_at, v.updated_at,
		       c.id, c.name, c.phone, c.email, c.avatar_url, c.created_at, c.updated_at
		FROM conversations v
		JOIN contacts c ON c.id = v.contact_id
		WHERE v.id = $1
	`, pgID)
	conv, err := scanConversationWithContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, err
	}
	return conv, nil
}

// List returns conversations ordered by last-message time descending, ties
// broken by conversation id for determinism, with the total count for paging.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Conversation, int64, error) {
	if limit <= 0 {
		return nil, 0, fmt.Errorf("limit must be positive")
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT v.id, v.contact_id, v.platform, v.last_message_text, v.last_message_at,
		       v.unread_count, v.created_at, v.updated_at,
		       c.id, c.name, c.phone, c.email, c.avatar_url, c.created_at, c.updated_at
		FROM conversations v
		JOIN contacts c ON c.id = v.contact_id
		ORDER BY v.last_message_at DESC, v.id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]Conversation, 0, limit)
	for rows.Next() {
		conv, err := scanConversationWithContact(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func truncatePreview(preview string) string {
	runes := []rune(preview)
	if len(runes) <= previewLimit {
		return preview
	}
	return string(runes[:previewLimit-1]) + "…"
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		id, contactID    pgtype.UUID
		platformTag      string
		lastText         string
		lastAt           pgtype.Timestamptz
		unread           int
		created, updated pgtype.Timestamptz
	)
	if err := row.Scan(&id, &contactID, &platformTag, &lastText, &lastAt, &unread, &created, &updated); err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:              dbpkg.UUIDToString(id),
		ContactID:       dbpkg.UUIDToString(contactID),
		Platform:        platform.Platform(platformTag),
		LastMessageText: lastText,
		LastMessageAt:   dbpkg.TimeFromPg(lastAt),
		UnreadCount:     unread,
		CreatedAt:       dbpkg.TimeFromPg(created),
		UpdatedAt:       dbpkg.TimeFromPg(updated),
	}, nil
}

func scanConversationWithContact(row pgx.Row) (Conversation, error) {
	var (
		id, contactID       pgtype.UUID
		platformTag         string
		lastText            string
		lastAt              pgtype.Timestamptz
		unread              int
		created, updated    pgtype.Timestamptz
		cID                 pgtype.UUID
		cName               string
		cPhone, cEmail, cAv pgtype.Text
		cCreated, cUpdated  pgtype.Timestamptz
	)
	if err := row.Scan(
		&id, &contactID, &platformTag, &lastText, &lastAt, &unread, &created, &updated,
		&cID, &cName, &cPhone, &cEmail, &cAv, &cCreated, &cUpdated,
	); err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:              dbpkg.UUIDToString(id),
		ContactID:       dbpkg.UUIDToString(contactID),
		Platform:        platform.Platform(platformTag),
		LastMessageText: lastText,
		LastMessageAt:   dbpkg.TimeFromPg(lastAt),
		UnreadCount:     unread,
		CreatedAt:       dbpkg.TimeFromPg(created),
		UpdatedAt:       dbpkg.TimeFromPg(updated),
		Contact: &contacts.Contact{
			ID:        dbpkg.UUIDToString(cID),
			Name:      cName,
			Phone:     dbpkg.TextToString(cPhone),
			Email:     dbpkg.TextToString(cEmail),
			AvatarURL: dbpkg.TextToString(cAv),
			CreatedAt: dbpkg.TimeFromPg(cCreated),
			UpdatedAt: dbpkg.TimeFromPg(cUpdated),
		},
	}, nil
}

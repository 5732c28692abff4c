// Package messages is the append-only ordered message log per conversation.
package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/kanalhq/kanal/internal/db"
	"github.com/kanalhq/kanal/internal/platform"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateMessage signals an idempotency hit: the upstream message id
	// was already stored. Callers treat it as success.
	ErrDuplicateMessage = errors.New("duplicate upstream message")
	// ErrInvalidStatusTransition rejects any delivery-status change other than
	// pending to sent and pending to failed; the stored record is left untouched.
	ErrInvalidStatusTransition = errors.New("invalid delivery status transition")
)

// Service persists and reads conversation messages. Append is the sole write
// path; the seq column assigns the strictly increasing insertion order used to
// break same-timestamp ties.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "messages")),
	}
}

const messageColumns = `id, seq, conversation_id, platform, direction, content, content_type, status, external_id, created_at, updated_at`

// Append stores one message. Inbound duplicates (same platform and upstream
// message id) surface as ErrDuplicateMessage via the partial unique index.
func (s *Service) Append(ctx context.Context, input AppendInput) (Message, error) {
	if s.pool == nil {
		return Message{}, fmt.Errorf("messages pool not configured")
	}
	pgConvID, err := dbpkg.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	if input.Direction != DirectionInbound && input.Direction != DirectionOutbound {
		return Message{}, fmt.Errorf("invalid direction: %q", input.Direction)
	}
	switch input.Status {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed:
	default:
		return Message{}, fmt.Errorf("invalid status: %q", input.Status)
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "text"
	}
	at := input.At
	if at.IsZero() {
		at = time.Now()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, platform, direction, content, content_type, status, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+messageColumns,
		pgConvID, input.Platform.String(), string(input.Direction), input.Content,
		contentType, string(input.Status), dbpkg.ToPgText(input.ExternalID),
		pgtype.Timestamptz{Time: at, Valid: true},
	)
	msg, err := scanMessage(row)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return Message{}, ErrDuplicateMessage
		}
		return Message{}, err
	}
	return msg, nil
}

// GetByID returns one message.
func (s *Service) GetByID(ctx context.Context, id string) (Message, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, pgID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, err
	}
	return msg, nil
}

// GetInboundByExternalID looks up a stored inbound message by its upstream id,
// the ingestion idempotency pre-check.
func (s *Service) GetInboundByExternalID(ctx context.Context, p platform.Platform, externalID string) (Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE platform = $1 AND external_id = $2 AND direction = 'inbound'
	`, p.String(), strings.TrimSpace(externalID))
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, err
	}
	return msg, nil
}

// History returns up to limit messages of a conversation ordered oldest-first
// (created_at, then insertion seq for same-timestamp ties). A beforeSeq cursor
// bounds the page to messages strictly older than that message; zero means the
// latest page. The cursor must belong to the same conversation, otherwise
// ErrMessageNotFound.
func (s *Service) History(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	pgConvID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}

	var rows pgx.Rows
	if beforeSeq > 0 {
		var cursorAt pgtype.Timestamptz
		err := s.pool.QueryRow(ctx, `
			SELECT created_at FROM messages WHERE seq = $1 AND conversation_id = $2
		`, beforeSeq, pgConvID).Scan(&cursorAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: cursor seq %d", ErrMessageNotFound, beforeSeq)
			}
			return nil, err
		}
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND (created_at, seq) < ($2, $3)
			ORDER BY created_at DESC, seq DESC
			LIMIT $4
		`, pgConvID, cursorAt, beforeSeq, limit)
		if err != nil {
			return nil, err
		}
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		`, pgConvID, limit)
		if err != nil {
			return nil, err
		}
	}
	defer rows.Close()

	items := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(items)
	return items, nil
}

// UpdateStatus applies a delivery-status transition to an outbound message.
// Illegal transitions are rejected without touching the stored record.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (Message, error) {
	if !canTransition(StatusPending, status) {
		return Message{}, fmt.Errorf("%w: to %q", ErrInvalidStatusTransition, status)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE messages SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+messageColumns,
		pgID, string(status),
	)
	msg, err := scanMessage(row)
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, err
	}
	// No row matched: either the message is gone or it already left pending.
	current, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return Message{}, getErr
	}
	return Message{}, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, current.Status, status)
}

// SetExternalID records the platform-assigned id on an outbound message after
// the gateway accepts it.
func (s *Service) SetExternalID(ctx context.Context, id, externalID string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET external_id = $2, updated_at = now() WHERE id = $1
	`, pgID, dbpkg.ToPgText(externalID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func reverse(items []Message) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id, convID       pgtype.UUID
		seq              int64
		platformTag      string
		direction        string
		content          string
		contentType      string
		status           string
		externalID       pgtype.Text
		created, updated pgtype.Timestamptz
	)
	if err := row.Scan(&id, &seq, &convID, &platformTag, &direction, &content, &contentType, &status, &externalID, &created, &updated); err != nil {
		return Message{}, err
	}
	return Message{
		ID:             dbpkg.UUIDToString(id),
		Seq:            seq,
		ConversationID: dbpkg.UUIDToString(convID),
		Platform:       platform.Platform(platformTag),
		Direction:      Direction(direction),
		Content:        content,
		ContentType:    contentType,
		Status:         Status(status),
		ExternalID:     dbpkg.TextToString(externalID),
		CreatedAt:      dbpkg.TimeFromPg(created),
		UpdatedAt:      dbpkg.TimeFromPg(updated),
	}, nil
}

package conversations_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/conversations"
	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/platform"
)

func setupIntegrationTest(t *testing.T) (*pgxpool.Pool, *slog.Logger) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return pool, logger
}

func TestIntegrationInboundFlow(t *testing.T) {
	pool, logger := setupIntegrationTest(t)
	ctx := context.Background()

	contactService := contacts.NewService(logger, pool)
	conversationService := conversations.NewService(logger, pool)
	messageService := messages.NewService(logger, pool)

	externalID := fmt.Sprintf("628%d", time.Now().UnixNano())

	// Resolving the same identity twice yields the same contact.
	first, err := contactService.Resolve(ctx, platform.WhatsApp, externalID, "Budi")
	require.NoError(t, err)
	second, err := contactService.Resolve(ctx, platform.WhatsApp, externalID, "someone else")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Budi", second.Name)

	// Two touches land in one conversation with two unread.
	now := time.Now()
	conv, err := conversationService.TouchInbound(ctx, first.ID, platform.WhatsApp, "first", now)
	require.NoError(t, err)
	require.Equal(t, 1, conv.UnreadCount)

	conv2, err := conversationService.TouchInbound(ctx, first.ID, platform.WhatsApp, "second", now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, conv.ID, conv2.ID)
	require.Equal(t, 2, conv2.UnreadCount)
	require.Equal(t, "second", conv2.LastMessageText)

	// A delayed older delivery never regresses the preview.
	conv3, err := conversationService.TouchInbound(ctx, first.ID, platform.WhatsApp, "stale", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, "second", conv3.LastMessageText)

	// Append is idempotent on the upstream message id.
	upstreamID := fmt.Sprintf("wamid.%d", time.Now().UnixNano())
	msg, err := messageService.Append(ctx, messages.AppendInput{
		ConversationID: conv.ID,
		Platform:       platform.WhatsApp,
		Direction:      messages.DirectionInbound,
		Content:        "first",
		Status:         messages.StatusDelivered,
		ExternalID:     upstreamID,
		At:             now,
	})
	require.NoError(t, err)

	_, err = messageService.Append(ctx, messages.AppendInput{
		ConversationID: conv.ID,
		Platform:       platform.WhatsApp,
		Direction:      messages.DirectionInbound,
		Content:        "first again",
		Status:         messages.StatusDelivered,
		ExternalID:     upstreamID,
		At:             now,
	})
	require.ErrorIs(t, err, messages.ErrDuplicateMessage)

	stored, err := messageService.GetInboundByExternalID(ctx, platform.WhatsApp, upstreamID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, stored.ID)

	// Opening the conversation clears the unread counter.
	marked, err := conversationService.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 0, marked.UnreadCount)
}

func TestIntegrationFindOrCreateIsPreviewNeutral(t *testing.T) {
	pool, logger := setupIntegrationTest(t)
	ctx := context.Background()

	contactService := contacts.NewService(logger, pool)
	conversationService := conversations.NewService(logger, pool)

	externalID := fmt.Sprintf("628%d", time.Now().UnixNano())
	contact, err := contactService.Resolve(ctx, platform.WhatsApp, externalID, "")
	require.NoError(t, err)

	// First call creates an empty thread.
	created, err := conversationService.FindOrCreate(ctx, contact.ID, platform.WhatsApp)
	require.NoError(t, err)
	require.Empty(t, created.LastMessageText)
	require.Zero(t, created.UnreadCount)

	touched, err := conversationService.TouchInbound(ctx, contact.ID, platform.WhatsApp, "hello", time.Now())
	require.NoError(t, err)
	require.Equal(t, created.ID, touched.ID)

	// Subsequent calls return the same thread without moving its state.
	again, err := conversationService.FindOrCreate(ctx, contact.ID, platform.WhatsApp)
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)
	require.Equal(t, "hello", again.LastMessageText)
	require.Equal(t, 1, again.UnreadCount)
}

func TestIntegrationHistoryOrderAndStatus(t *testing.T) {
	pool, logger := setupIntegrationTest(t)
	ctx := context.Background()

	contactService := contacts.NewService(logger, pool)
	conversationService := conversations.NewService(logger, pool)
	messageService := messages.NewService(logger, pool)

	externalID := fmt.Sprintf("628%d", time.Now().UnixNano())
	contact, err := contactService.Resolve(ctx, platform.WhatsApp, externalID, "")
	require.NoError(t, err)
	conv, err := conversationService.TouchInbound(ctx, contact.ID, platform.WhatsApp, "hi", time.Now())
	require.NoError(t, err)

	// Same-timestamp messages keep insertion order in history.
	at := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		msg, err := messageService.Append(ctx, messages.AppendInput{
			ConversationID: conv.ID,
			Platform:       platform.WhatsApp,
			Direction:      messages.DirectionInbound,
			Content:        fmt.Sprintf("m%d", i),
			Status:         messages.StatusDelivered,
			ExternalID:     fmt.Sprintf("wamid.h%d.%d", i, at.UnixNano()),
			At:             at,
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	history, err := messageService.History(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(history), 3)
	tail := history[len(history)-3:]
	for i, msg := range tail {
		require.Equal(t, ids[i], msg.ID)
	}

	// A paging cursor taken from another conversation is rejected.
	otherExternal := fmt.Sprintf("ig%d", time.Now().UnixNano())
	otherContact, err := contactService.Resolve(ctx, platform.Instagram, otherExternal, "")
	require.NoError(t, err)
	otherConv, err := conversationService.TouchInbound(ctx, otherContact.ID, platform.Instagram, "yo", time.Now())
	require.NoError(t, err)

	cursorSeq := tail[len(tail)-1].Seq
	page, err := messageService.History(ctx, conv.ID, cursorSeq, 10)
	require.NoError(t, err)
	require.NotEmpty(t, page)
	_, err = messageService.History(ctx, otherConv.ID, cursorSeq, 10)
	require.ErrorIs(t, err, messages.ErrMessageNotFound)

	// Outbound statuses move pending -> sent exactly once.
	outboundMsg, err := messageService.Append(ctx, messages.AppendInput{
		ConversationID: conv.ID,
		Platform:       platform.WhatsApp,
		Direction:      messages.DirectionOutbound,
		Content:        "reply",
		Status:         messages.StatusPending,
	})
	require.NoError(t, err)

	sent, err := messageService.UpdateStatus(ctx, outboundMsg.ID, messages.StatusSent)
	require.NoError(t, err)
	require.Equal(t, messages.StatusSent, sent.Status)

	_, err = messageService.UpdateStatus(ctx, outboundMsg.ID, messages.StatusFailed)
	require.ErrorIs(t, err, messages.ErrInvalidStatusTransition)
}

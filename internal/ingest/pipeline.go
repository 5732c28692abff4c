// Package ingest drives inbound webhook events through identity resolution,
// conversation tracking, and message storage, in that order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/platform"
)

// ErrInvalidEvent rejects events missing a required field before any state is
// touched.
var ErrInvalidEvent = errors.New("invalid inbound event")

// Pipeline processes inbound events one at a time. Events for different
// conversations may run concurrently; per-conversation updates serialize in
// the stores underneath.
type Pipeline struct {
	identity IdentityResolver
	tracker  ConversationTracker
	store    MessageStore
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(log *slog.Logger, identity IdentityResolver, tracker ConversationTracker, store MessageStore) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		identity: identity,
		tracker:  tracker,
		store:    store,
		logger:   log.With(slog.String("component", "ingest")),
	}
}

// Process applies one inbound event. The event walks the stages
// received, identity_resolved, conversation_updated, stored; the first failing
// stage aborts the rest, so no message is ever stored without its contact and
// conversation in place. Redelivered events (same upstream message id) are a
// no-op success.
func (p *Pipeline) Process(ctx context.Context, ev Event) (Result, error) {
	result := Result{Stage: StageReceived}

	if err := validate(ev); err != nil {
		return result, err
	}

	// Idempotency pre-check before any state is touched.
	if existing, err := p.store.GetInboundByExternalID(ctx, ev.Platform, ev.UpstreamMessageID); err == nil {
		p.logger.Info("duplicate inbound event ignored",
			slog.String("platform", ev.Platform.String()),
			slog.String("upstream_message_id", ev.UpstreamMessageID),
		)
		result.Duplicate = true
		result.Stage = StageStored
		result.Message = existing
		return result, nil
	} else if !errors.Is(err, messages.ErrMessageNotFound) {
		return result, fmt.Errorf("idempotency check: %w", err)
	}

	contact, err := p.identity.Resolve(ctx, ev.Platform, ev.SenderExternalID, ev.SenderName)
	if err != nil {
		return result, fmt.Errorf("resolve identity: %w", err)
	}
	result.Stage = StageIdentityResolved
	result.Contact = contact

	conversation, err := p.tracker.TouchInbound(ctx, contact.ID, ev.Platform, ev.Content, ev.Timestamp)
	if err != nil {
		return result, fmt.Errorf("update conversation: %w", err)
	}
	result.Stage = StageConversationUpdated
	result.Conversation = conversation

	msg, err := p.store.Append(ctx, messages.AppendInput{
		ConversationID: conversation.ID,
		Platform:       ev.Platform,
		Direction:      messages.DirectionInbound,
		Content:        ev.Content,
		ContentType:    ev.ContentType,
		Status:         messages.StatusDelivered,
		ExternalID:     ev.UpstreamMessageID,
		At:             ev.Timestamp,
	})
	if err != nil {
		// Two deliveries raced past the pre-check; the unique index decided.
		if errors.Is(err, messages.ErrDuplicateMessage) {
			p.logger.Info("duplicate inbound event lost append race",
				slog.String("platform", ev.Platform.String()),
				slog.String("upstream_message_id", ev.UpstreamMessageID),
			)
			result.Duplicate = true
			result.Stage = StageStored
			return result, nil
		}
		return result, fmt.Errorf("store message: %w", err)
	}
	result.Stage = StageStored
	result.Message = msg

	p.logger.Info("inbound message ingested",
		slog.String("platform", ev.Platform.String()),
		slog.String("conversation_id", conversation.ID),
		slog.String("message_id", msg.ID),
	)
	return result, nil
}

func validate(ev Event) error {
	if !platform.IsSupported(ev.Platform) {
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidEvent, ev.Platform)
	}
	if strings.TrimSpace(ev.SenderExternalID) == "" {
		return fmt.Errorf("%w: sender external id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(ev.UpstreamMessageID) == "" {
		return fmt.Errorf("%w: upstream message id is required", ErrInvalidEvent)
	}
	return nil
}

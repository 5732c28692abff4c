// Package outbound is the unified send path: one Dispatch call records the
// message, advances its conversation, and hands delivery to the platform
// gateway.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/platform"
)

// ErrInvalidRequest rejects a send request before any state is touched.
var ErrInvalidRequest = errors.New("invalid send request")

// defaultSendTimeout bounds a single gateway delivery attempt when no timeout
// is configured.
const defaultSendTimeout = 30 * time.Second

// Dispatcher sends outbound messages. Every dispatch stores a pending record
// before the gateway is called, so a failed delivery still leaves an
// inspectable failed message in the conversation.
type Dispatcher struct {
	conversations ConversationStore
	contacts      ContactStore
	store         MessageStore
	gateways      GatewayRegistry
	sendTimeout   time.Duration
	logger        *slog.Logger
}

// NewDispatcher creates a dispatcher. sendTimeout bounds each gateway call;
// zero falls back to the default.
func NewDispatcher(log *slog.Logger, convs ConversationStore, contactStore ContactStore, store MessageStore, gateways GatewayRegistry, sendTimeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		conversations: convs,
		contacts:      contactStore,
		store:         store,
		gateways:      gateways,
		sendTimeout:   sendTimeout,
		logger:        log.With(slog.String("component", "outbound")),
	}
}

// Dispatch sends one text message. The pending record is stored first, then
// the conversation preview advances, then the gateway is called; delivery
// failure moves the record to failed and surfaces the gateway error together
// with the stored message.
func (d *Dispatcher) Dispatch(ctx context.Context, req SendRequest) (Result, error) {
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return Result{}, fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}

	contact, targetPlatform, recipient, err := d.resolveTarget(ctx, req)
	if err != nil {
		return Result{}, err
	}

	// The gateway must exist before anything is written.
	client, err := d.gateways.Get(targetPlatform)
	if err != nil {
		return Result{}, err
	}

	now := time.Now()

	// Locate the thread without touching its preview: nothing user-visible
	// may move until the message itself is durably recorded.
	conversation, err := d.conversations.FindOrCreate(ctx, contact.ID, targetPlatform)
	if err != nil {
		return Result{}, fmt.Errorf("find conversation: %w", err)
	}

	msg, err := d.store.Append(ctx, messages.AppendInput{
		ConversationID: conversation.ID,
		Platform:       targetPlatform,
		Direction:      messages.DirectionOutbound,
		Content:        req.Content,
		ContentType:    req.ContentType,
		Status:         messages.StatusPending,
		At:             now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("store message: %w", err)
	}

	touched, err := d.conversations.TouchOutbound(ctx, contact.ID, targetPlatform, req.Content, now)
	if err != nil {
		// The pending record exists; surface it with the stale conversation.
		return Result{Message: msg, Conversation: conversation, Contact: contact},
			fmt.Errorf("update conversation: %w", err)
	}
	conversation = touched

	result := Result{Message: msg, Conversation: conversation, Contact: contact}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	externalID, sendErr := client.SendText(sendCtx, recipient, req.Content)
	if sendErr != nil {
		if failed, statusErr := d.store.UpdateStatus(ctx, msg.ID, messages.StatusFailed); statusErr != nil {
			d.logger.Error("mark message failed",
				slog.String("message_id", msg.ID),
				slog.String("error", statusErr.Error()),
			)
		} else {
			result.Message = failed
		}
		d.logger.Warn("outbound delivery failed",
			slog.String("platform", targetPlatform.String()),
			slog.String("message_id", msg.ID),
			slog.String("error", sendErr.Error()),
		)
		return result, sendErr
	}

	sent, err := d.store.UpdateStatus(ctx, msg.ID, messages.StatusSent)
	if err != nil {
		return result, fmt.Errorf("mark message sent: %w", err)
	}
	result.Message = sent
	if externalID != "" {
		if err := d.store.SetExternalID(ctx, msg.ID, externalID); err != nil {
			d.logger.Error("record external id",
				slog.String("message_id", msg.ID),
				slog.String("error", err.Error()),
			)
		} else {
			result.Message.ExternalID = externalID
		}
	}

	d.logger.Info("outbound message sent",
		slog.String("platform", targetPlatform.String()),
		slog.String("conversation_id", conversation.ID),
		slog.String("message_id", msg.ID),
	)
	return result, nil
}

// resolveTarget turns a send request into (contact, platform, recipient).
// A conversation id pins platform and recipient to the stored thread; without
// one, platform and recipient are required and may open a new thread.
func (d *Dispatcher) resolveTarget(ctx context.Context, req SendRequest) (contacts.Contact, platform.Platform, string, error) {
	if req.ConversationID != "" {
		conversation, err := d.conversations.GetByID(ctx, req.ConversationID)
		if err != nil {
			return contacts.Contact{}, "", "", err
		}
		if req.Platform != "" && req.Platform != conversation.Platform {
			return contacts.Contact{}, "", "", fmt.Errorf("%w: platform %q does not match conversation platform %q",
				ErrInvalidRequest, req.Platform, conversation.Platform)
		}
		contact, err := d.contacts.GetByID(ctx, conversation.ContactID)
		if err != nil {
			return contacts.Contact{}, "", "", err
		}
		recipient := identityExternalID(contact, conversation.Platform)
		if recipient == "" {
			return contacts.Contact{}, "", "", fmt.Errorf("%w: contact %s has no %s identity",
				ErrInvalidRequest, contact.ID, conversation.Platform)
		}
		if req.Recipient != "" && req.Recipient != recipient {
			return contacts.Contact{}, "", "", fmt.Errorf("%w: recipient %q does not match conversation recipient",
				ErrInvalidRequest, req.Recipient)
		}
		return contact, conversation.Platform, recipient, nil
	}

	if !platform.IsSupported(req.Platform) {
		return contacts.Contact{}, "", "", fmt.Errorf("%w: unsupported platform %q", ErrInvalidRequest, req.Platform)
	}
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		return contacts.Contact{}, "", "", fmt.Errorf("%w: recipient is required without a conversation id", ErrInvalidRequest)
	}
	contact, err := d.contacts.Resolve(ctx, req.Platform, recipient, "")
	if err != nil {
		return contacts.Contact{}, "", "", err
	}
	return contact, req.Platform, recipient, nil
}

func identityExternalID(contact contacts.Contact, p platform.Platform) string {
	for _, identity := range contact.Identities {
		if identity.Platform == p {
			return identity.ExternalID
		}
	}
	return ""
}

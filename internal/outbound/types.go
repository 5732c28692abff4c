package outbound

import (
	"context"
	"time"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/conversations"
	"github.com/kanalhq/kanal/internal/gateway"
	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/platform"
)

// SendRequest is one outbound text. Either ConversationID names an existing
// thread, or Platform plus Recipient open a business-initiated one. When both
// are present they must agree.
type SendRequest struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Platform       platform.Platform `json:"platform,omitempty"`
	// Recipient is the platform-scoped external id of the target.
	Recipient   string `json:"recipient,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

// Result is the outcome of one dispatch. On gateway failure the Message is the
// stored record in its failed state, returned alongside the error.
type Result struct {
	Message      messages.Message           `json:"message"`
	Conversation conversations.Conversation `json:"conversation"`
	Contact      contacts.Contact           `json:"contact"`
}

// ConversationStore reads threads and advances outbound conversation state.
// FindOrCreate must leave the preview and counters untouched so the dispatcher
// can obtain a thread id before the message is recorded.
type ConversationStore interface {
	GetByID(ctx context.Context, id string) (conversations.Conversation, error)
	FindOrCreate(ctx context.Context, contactID string, p platform.Platform) (conversations.Conversation, error)
	TouchOutbound(ctx context.Context, contactID string, p platform.Platform, preview string, at time.Time) (conversations.Conversation, error)
}

// ContactStore resolves the target contact of a dispatch.
type ContactStore interface {
	GetByID(ctx context.Context, id string) (contacts.Contact, error)
	Resolve(ctx context.Context, p platform.Platform, externalID, profileHint string) (contacts.Contact, error)
}

// MessageStore records the dispatched message and its delivery status.
type MessageStore interface {
	Append(ctx context.Context, input messages.AppendInput) (messages.Message, error)
	UpdateStatus(ctx context.Context, id string, status messages.Status) (messages.Message, error)
	SetExternalID(ctx context.Context, id, externalID string) error
}

// GatewayRegistry resolves the delivery client for a platform.
type GatewayRegistry interface {
	Get(p platform.Platform) (gateway.Client, error)
}

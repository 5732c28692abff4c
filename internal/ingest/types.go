package ingest

import (
	"context"
	"time"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/conversations"
	"github.com/kanalhq/kanal/internal/messages"
	"github.com/kanalhq/kanal/internal/platform"
)

// Event is one inbound message delivered by a platform webhook, normalized
// out of the platform-specific payload shape.
type Event struct {
	Platform         platform.Platform
	SenderExternalID string
	// SenderName is the best-effort profile hint; the external id is the
	// fallback display name.
	SenderName  string
	Content     string
	ContentType string
	// UpstreamMessageID is the platform-assigned message id, required for
	// idempotent ingestion under webhook redelivery.
	UpstreamMessageID string
	Timestamp         time.Time
}

// Stage is the explicit processing state of one event. A failed stage aborts
// the remaining ones, so the stage reached tells exactly what was applied.
type Stage string

const (
	StageReceived            Stage = "received"
	StageIdentityResolved    Stage = "identity_resolved"
	StageConversationUpdated Stage = "conversation_updated"
	StageStored              Stage = "stored"
)

// Result reports what one event produced. Duplicate results carry the
// previously stored message and are a success, not an error.
type Result struct {
	Stage        Stage
	Duplicate    bool
	Contact      contacts.Contact
	Conversation conversations.Conversation
	Message      messages.Message
}

// IdentityResolver maps a platform sender identity to its canonical contact.
type IdentityResolver interface {
	Resolve(ctx context.Context, p platform.Platform, externalID, profileHint string) (contacts.Contact, error)
}

// ConversationTracker advances conversation state for an inbound message.
type ConversationTracker interface {
	TouchInbound(ctx context.Context, contactID string, p platform.Platform, preview string, at time.Time) (conversations.Conversation, error)
}

// MessageStore appends inbound messages and answers the idempotency pre-check.
type MessageStore interface {
	Append(ctx context.Context, input messages.AppendInput) (messages.Message, error)
	GetInboundByExternalID(ctx context.Context, p platform.Platform, externalID string) (messages.Message, error)
}

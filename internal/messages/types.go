package messages

import (
	"time"

	"github.com/kanalhq/kanal/internal/platform"
)

// Direction distinguishes customer messages from business replies.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is the delivery status of a message. Outbound messages start pending
// and move to sent or failed exactly once; inbound messages are stored as
// delivered and never transition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Message is a single unit of communication within a conversation. Content is
// immutable once stored; only the delivery status of outbound messages moves.
type Message struct {
	ID             string            `json:"id"`
	Seq            int64             `json:"seq"`
	ConversationID string            `json:"conversation_id"`
	Platform       platform.Platform `json:"platform"`
	Direction      Direction         `json:"direction"`
	Content        string            `json:"content"`
	ContentType    string            `json:"content_type"`
	Status         Status            `json:"status"`
	ExternalID     string            `json:"external_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// AppendInput is the single write path into the message log.
type AppendInput struct {
	ConversationID string
	Platform       platform.Platform
	Direction      Direction
	Content        string
	ContentType    string
	Status         Status
	// ExternalID is the upstream (platform-assigned) message id. Required on
	// inbound messages, where it doubles as the ingestion idempotency key.
	ExternalID string
	// At overrides the creation timestamp; zero means now. Inbound messages
	// carry the platform-reported timestamp.
	At time.Time
}

// canTransition reports whether a stored status may move to next. The only
// legal moves are pending to sent and pending to failed.
func canTransition(from, to Status) bool {
	if from != StatusPending {
		return false
	}
	return to == StatusSent || to == StatusFailed
}

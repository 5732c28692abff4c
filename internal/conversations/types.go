package conversations

import (
	"time"

	"github.com/kanalhq/kanal/internal/contacts"
	"github.com/kanalhq/kanal/internal/platform"
)

// Conversation is one thread between a contact and the business, scoped to a
// single platform. The same contact reaching out over WhatsApp and Instagram
// owns two distinct conversations.
type Conversation struct {
	ID              string            `json:"id"`
	ContactID       string            `json:"contact_id"`
	Platform        platform.Platform `json:"platform"`
	LastMessageText string            `json:"last_message_text"`
	LastMessageAt   time.Time         `json:"last_message_at"`
	UnreadCount     int               `json:"unread_count"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	// Contact is the joined summary, populated on reads.
	Contact *contacts.Contact `json:"contact,omitempty"`
}

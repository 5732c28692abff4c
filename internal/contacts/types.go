package contacts

import (
	"time"

	"github.com/kanalhq/kanal/internal/platform"
)

// Contact is the canonical person record. A contact may hold identities on
// zero or more platforms at the same time.
type Contact struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone,omitempty"`
	Email      string     `json:"email,omitempty"`
	AvatarURL  string     `json:"avatar_url,omitempty"`
	Identities []Identity `json:"identities,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Identity is one platform-scoped external id slot owned by a contact.
// At most one contact owns a given (platform, external_id) pair.
type Identity struct {
	ID          string            `json:"id"`
	ContactID   string            `json:"contact_id"`
	Platform    platform.Platform `json:"platform"`
	ExternalID  string            `json:"external_id"`
	DisplayName string            `json:"display_name,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// CreateRequest is the explicit create-contact action.
type CreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// UpdateRequest carries the user-editable contact fields; nil means unchanged.
type UpdateRequest struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
	Email *string `json:"email"`
}

// Package platform defines the messaging platform vocabulary shared across
// the inbox. Each platform owns its own external identifier namespace.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies a messaging channel (e.g. WhatsApp, Instagram).
type Platform string

const (
	WhatsApp  Platform = "whatsapp"
	Instagram Platform = "instagram"
)

// supported is the set of platforms the inbox accepts. Nothing in the
// aggregation logic depends on the size of this set; adding a platform is a
// one-line change here plus a gateway client.
var supported = map[Platform]struct{}{
	WhatsApp:  {},
	Instagram: {},
}

// Parse normalizes and validates a raw platform tag.
func Parse(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := supported[p]; !ok {
		return "", fmt.Errorf("unsupported platform: %q", raw)
	}
	return p, nil
}

// IsSupported reports whether p is a known platform tag.
func IsSupported(p Platform) bool {
	_, ok := supported[p]
	return ok
}

// String returns the canonical lowercase tag.
func (p Platform) String() string {
	return string(p)
}

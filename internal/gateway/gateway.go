// Package gateway holds the Meta Graph API delivery clients. A client turns
// an outbound text into a platform delivery request and reports the
// platform-assigned message id on success.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/kanalhq/kanal/internal/platform"
)

var (
	// ErrUnavailable wraps transport-level delivery failures. Retryable by the
	// caller; this layer never retries on its own.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrTimeout marks a delivery attempt cut off by its deadline.
	ErrTimeout = errors.New("gateway timeout")
	// ErrRejected wraps a platform-side rejection (non-2xx with a reason).
	ErrRejected = errors.New("gateway rejected delivery")
	// ErrNotConfigured means no client is registered for the platform.
	ErrNotConfigured = errors.New("gateway not configured for platform")
)

// Client delivers text messages on one platform.
type Client interface {
	Platform() platform.Platform
	// SendText delivers content to the platform-scoped recipient id and
	// returns the platform-assigned message id.
	SendText(ctx context.Context, recipient, content string) (string, error)
}

// Registry resolves the delivery client for a platform.
type Registry struct {
	clients map[platform.Platform]Client
}

// NewRegistry builds a registry from the given clients; nils are skipped.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[platform.Platform]Client)}
	for _, c := range clients {
		if c != nil {
			r.clients[c.Platform()] = c
		}
	}
	return r
}

// Get returns the client for p.
func (r *Registry) Get(p platform.Platform) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, p)
	}
	return c, nil
}

// classifySendError folds a transport error into the gateway taxonomy.
func classifySendError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

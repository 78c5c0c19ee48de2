// Package notification delivers rendered alert messages through external
// channel providers (SMTP email and an HTTP SMS gateway).
package notification

import (
	"context"

	"github.com/fieldsense/alertd/internal/errors"
)

// ErrChannelNotConfigured is returned when no provider serves a channel.
var ErrChannelNotConfigured = errors.New("channel not configured")

// Message is a rendered alert ready for delivery.
type Message struct {
	Title string
	// Text is the plain text body used by SMS and plain email.
	Text string
	// HTML is the rich body; providers that cannot render it use Text.
	HTML     string
	Critical bool
}

// Provider sends messages for one channel.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// ValidateConfig reports configuration problems before first use.
	ValidateConfig() error
	// ValidateDestination checks a recipient address or number.
	ValidateDestination(destination string) error
	// Send delivers msg to destination. It must honour ctx cancellation.
	Send(ctx context.Context, destination string, msg *Message) error
}

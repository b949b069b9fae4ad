package delivery

import (
	"context"
	"fmt"

	"github.com/waypoint/server/internal/model"
)

// Sender delivers a code to one kind of destination.
type Sender interface {
	SendCode(ctx context.Context, destination, code string) error
}

// Dispatcher routes a code to the sender matching the identifier type. It is
// constructed once at process start and injected into the OTP service.
type Dispatcher struct {
	email Sender
	sms   Sender
}

// NewDispatcher creates a dispatcher over the configured senders.
func NewDispatcher(email, sms Sender) *Dispatcher {
	return &Dispatcher{email: email, sms: sms}
}

// SendCode delivers the code to the destination via the transport for its
// identifier type.
func (d *Dispatcher) SendCode(ctx context.Context, identifierType model.IdentifierType, destination, code string) error {
	switch identifierType {
	case model.IdentifierEmail:
		return d.email.SendCode(ctx, destination, code)
	case model.IdentifierPhone:
		return d.sms.SendCode(ctx, destination, code)
	default:
		return fmt.Errorf("no sender for identifier type %q", identifierType)
	}
}

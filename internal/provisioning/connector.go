package provisioning

import (
	"context"
	"fmt"

	"tutoring-booking/internal/data/entity"
)

// Connector produces the artifact a confirmed booking entitles its student
// to, and takes it back when an operator cancels the booking.
type Connector interface {
	Provision(ctx context.Context, booking *entity.Booking) (string, error)
	Release(ctx context.Context, booking *entity.Booking) error
}

// Registry picks the connector for a booking kind.
type Registry struct {
	connectors map[entity.BookingKind]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[entity.BookingKind]Connector)}
}

func (r *Registry) Register(kind entity.BookingKind, c Connector) *Registry {
	r.connectors[kind] = c
	return r
}

func (r *Registry) For(kind entity.BookingKind) (Connector, error) {
	c, ok := r.connectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no connector for %q bookings", entity.ErrProvisioningFailed, kind)
	}
	return c, nil
}

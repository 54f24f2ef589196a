package channel

import (
	"context"

	"github.com/skillmesh/chatsync/internal/models"
)

// Transport dials the relay's event stream for one room.
type Transport interface {
	Connect(ctx context.Context, roomID string) (Conn, error)
}

// Conn is a single established stream of envelopes. ReadEnvelope blocks
// until the next event or a transport error; after Close it returns an
// error promptly.
type Conn interface {
	ReadEnvelope() (models.Envelope, error)
	Close() error
}

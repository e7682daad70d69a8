package game

import (
	"github.com/rs/zerolog"

	"github.com/scythe504/drawguess/internal/protocol"
	"github.com/scythe504/drawguess/internal/registry"
)

// Sink receives accepted room messages in the order the room produced them.
type Sink interface {
	Deliver(to []string, msg protocol.Message)
}

// Sessions is the part of the registry the dispatcher writes through.
type Sessions interface {
	Lookup(playerID string) (*registry.Session, bool)
	Disconnect(playerID, reason string)
}

// Dispatcher encodes each message once and queues it on every recipient's
// session. A recipient whose queue is full is disconnected without holding
// up the others.
type Dispatcher struct {
	sessions Sessions
	log      zerolog.Logger
}

func NewDispatcher(sessions Sessions, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{sessions: sessions, log: log.With().Str("component", "dispatcher").Logger()}
}

func (d *Dispatcher) Deliver(to []string, msg protocol.Message) {
	body, err := protocol.Encode(msg)
	if err != nil {
		d.log.Error().Err(err).Str("kind", string(msg.Kind)).Str("room", msg.RoomID).Msg("[Deliver] encode failed")
		return
	}

	for _, id := range to {
		s, ok := d.sessions.Lookup(id)
		if !ok {
			continue
		}
		if !s.Enqueue(body) {
			d.log.Warn().Str("player", id).Str("kind", string(msg.Kind)).Msg("[Deliver] send queue full, dropping connection")
			go d.sessions.Disconnect(id, registry.ReasonSlow)
		}
	}
}

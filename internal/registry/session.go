package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scythe504/drawguess/internal/protocol"
)

// Conn is the transport primitive a session runs over: whole frames in,
// whole frames out. TCP and WebSocket adapters both satisfy it.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(body []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

type Session struct {
	id   string
	conn Conn

	mu     sync.RWMutex
	name   string
	roomID string

	out         chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration
	limiter     *rate.Limiter
	onFailure   func(id string, err error)
	log         zerolog.Logger
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

func (s *Session) Conn() Conn { return s.conn }

// Done is closed once the session has been disconnected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Allow reports whether the peer is still within its message budget.
func (s *Session) Allow() bool { return s.limiter.Allow() }

// Enqueue hands an encoded frame to the writer without blocking. It returns
// false when the session is closed or its queue is full; either way the
// peer is no longer keeping up and should be disconnected.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.out <- frame:
		return true
	default:
		return false
	}
}

// Send encodes msg and enqueues it.
func (s *Session) Send(msg protocol.Message) bool {
	body, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("[Session.Send] encode failed")
		return false
	}
	return s.Enqueue(body)
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if s.sendTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout))
			}
			if err := s.conn.WriteFrame(frame); err != nil {
				s.onFailure(s.id, err)
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
}

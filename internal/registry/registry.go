package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scythe504/drawguess/internal/utils"
)

var ErrUnknownPlayer = errors.New("unknown player")

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 5 * time.Second
	DefaultRateLimit   = rate.Limit(20)
	DefaultRateBurst   = 40
)

// Disconnect reasons reported to the leave hook and to other room members.
const (
	ReasonClosed    = "connection closed"
	ReasonMalformed = "malformed message"
	ReasonSlow      = "send queue full"
	ReasonWrite     = "write failed"
	ReasonShutdown  = "server shutting down"
)

// LeaveFunc is invoked when a session bound to a room goes away.
type LeaveFunc func(playerID, roomID, reason string)

type Options struct {
	QueueSize   int
	SendTimeout time.Duration
	RateLimit   rate.Limit
	RateBurst   int
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.RateLimit <= 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = DefaultRateBurst
	}
	return o
}

// Registry tracks live sessions and which room each one is bound to.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onLeave  LeaveFunc

	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts.withDefaults(),
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// OnLeave installs the hook run when a bound session disconnects.
func (r *Registry) OnLeave(fn LeaveFunc) {
	r.mu.Lock()
	r.onLeave = fn
	r.mu.Unlock()
}

// Register admits a connection under a fresh player id and starts its writer.
// A blank name becomes "Player-xxxx".
func (r *Registry) Register(conn Conn, name string) *Session {
	id := utils.GenerateID()
	name = utils.CleanName(name)
	if name == "" {
		name = utils.DefaultName(id)
	}

	s := &Session{
		id:          id,
		conn:        conn,
		name:        name,
		out:         make(chan []byte, r.opts.QueueSize),
		done:        make(chan struct{}),
		sendTimeout: r.opts.SendTimeout,
		limiter:     rate.NewLimiter(r.opts.RateLimit, r.opts.RateBurst),
		log:         r.log.With().Str("player", id).Logger(),
	}
	s.onFailure = func(id string, err error) {
		s.log.Debug().Err(err).Msg("[writePump] write failed")
		r.Disconnect(id, ReasonWrite)
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	go s.writePump()

	r.log.Info().Str("player", id).Str("name", name).Str("remote", conn.RemoteAddr()).Msg("[Register] session opened")
	return s
}

func (r *Registry) Lookup(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[playerID]
	return s, ok
}

// Bind records the player's room. It holds the registry lock so a concurrent
// Disconnect either sees the binding or makes Bind fail.
func (r *Registry) Bind(playerID, roomID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[playerID]
	if !ok {
		return ErrUnknownPlayer
	}
	s.setRoom(roomID)
	return nil
}

func (r *Registry) Unbind(playerID string) {
	if s, ok := r.Lookup(playerID); ok {
		s.setRoom("")
	}
}

// RoomOf returns the room a player is bound to, if any.
func (r *Registry) RoomOf(playerID string) (string, bool) {
	s, ok := r.Lookup(playerID)
	if !ok {
		return "", false
	}
	roomID := s.RoomID()
	return roomID, roomID != ""
}

func (r *Registry) NameOf(playerID string) (string, bool) {
	s, ok := r.Lookup(playerID)
	if !ok {
		return "", false
	}
	return s.Name(), true
}

// Rename changes a player's display name and returns the cleaned value.
func (r *Registry) Rename(playerID, name string) (string, error) {
	s, ok := r.Lookup(playerID)
	if !ok {
		return "", ErrUnknownPlayer
	}
	name = utils.CleanName(name)
	if name == "" {
		name = utils.DefaultName(playerID)
	}
	s.setName(name)
	return name, nil
}

// Disconnect removes the session and closes its connection. A session that
// was bound to a room is reported to the leave hook exactly once.
func (r *Registry) Disconnect(playerID, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[playerID]
	var roomID string
	if ok {
		delete(r.sessions, playerID)
		roomID = s.RoomID()
		s.setRoom("")
	}
	onLeave := r.onLeave
	r.mu.Unlock()

	if !ok {
		return
	}

	s.close()
	r.log.Info().Str("player", playerID).Str("room", roomID).Str("reason", reason).Msg("[Disconnect] session closed")

	if roomID != "" && onLeave != nil {
		onLeave(playerID, roomID, reason)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll disconnects every session.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Disconnect(id, reason)
	}
}

package game

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scythe504/drawguess/internal"
	"github.com/scythe504/drawguess/internal/protocol"
	"github.com/scythe504/drawguess/internal/registry"
	"github.com/scythe504/drawguess/internal/utils"
)

// =============================================================================
// LOBBY & ROOM DIRECTORY
// =============================================================================

const (
	DefaultMaxRooms       = 256
	DefaultIdleTimeout    = 10 * time.Minute
	DefaultRequestTimeout = 5 * time.Second
)

// Binder tracks which room each connected player is in.
type Binder interface {
	Bind(playerID, roomID string) error
	Unbind(playerID string)
	RoomOf(playerID string) (string, bool)
	NameOf(playerID string) (string, bool)
	Rename(playerID, name string) (string, error)
	Disconnect(playerID, reason string)
}

// Peer is the sending side of a connected player.
type Peer interface {
	ID() string
	Allow() bool
	Send(msg protocol.Message) bool
}

// Archiver stores finished games.
type Archiver interface {
	SaveGameResult(ctx context.Context, res internal.FinalResults) error
}

type Options struct {
	Defaults       internal.RoomConfig
	MaxRooms       int
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	Clock          func() time.Time
	NewRand        func() *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.Defaults.Rounds == 0 {
		o.Defaults = internal.DefaultRoomConfig()
	}
	if o.MaxRooms <= 0 {
		o.MaxRooms = DefaultMaxRooms
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.NewRand == nil {
		o.NewRand = func() *rand.Rand { return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) }
	}
	return o
}

type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*roomActor

	binder   Binder
	sink     Sink
	words    WordSource
	archiver Archiver
	opts     Options
	log      zerolog.Logger
}

// NewDirectory wires rooms to the player binder and the outbound sink. words
// and archiver may be nil.
func NewDirectory(binder Binder, sink Sink, words WordSource, archiver Archiver, opts Options, log zerolog.Logger) *Directory {
	return &Directory{
		rooms:    make(map[string]*roomActor),
		binder:   binder,
		sink:     sink,
		words:    words,
		archiver: archiver,
		opts:     opts.withDefaults(),
		log:      log.With().Str("component", "directory").Logger(),
	}
}

func (d *Directory) Defaults() internal.RoomConfig { return d.opts.Defaults }

// ListRooms returns the last published summary of every room. It never
// waits on a room.
func (d *Directory) ListRooms() []internal.RoomSummary {
	d.mu.RLock()
	out := make([]internal.RoomSummary, 0, len(d.rooms))
	for _, a := range d.rooms {
		out = append(out, a.Summary())
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b internal.RoomSummary) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Id, b.Id))
	})
	return out
}

func (d *Directory) Room(roomID string) (internal.RoomSummary, bool) {
	a, ok := d.actor(roomID)
	if !ok {
		return internal.RoomSummary{}, false
	}
	return a.Summary(), true
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func (d *Directory) CreateRoom(ctx context.Context, name string, opts protocol.RoomOptions) (string, error) {
	cfg := opts.Apply(d.opts.Defaults)
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if d.Len() >= d.opts.MaxRooms {
		return "", ErrTooManyRooms
	}

	id := utils.GenerateRoomID()
	if name = utils.CleanName(name); name == "" {
		name = "Room " + id
	}

	pool := NewWordPool(d.resolveWords(ctx, cfg), d.opts.NewRand())
	room := NewRoom(id, name, cfg, pool, d.log)
	a := newRoomActor(room, d.sink, d.opts.Clock, d.log)
	a.archive = d.archive
	a.onEmpty = d.remove

	d.mu.Lock()
	if len(d.rooms) >= d.opts.MaxRooms {
		d.mu.Unlock()
		return "", ErrTooManyRooms
	}
	d.rooms[id] = a
	d.mu.Unlock()

	go a.run()

	d.log.Info().Str("room", id).Str("name", name).Int("words", pool.Size()).
		Int("rounds", cfg.Rounds).Msg("[CreateRoom] room created")
	return id, nil
}

func (d *Directory) resolveWords(ctx context.Context, cfg internal.RoomConfig) []internal.Word {
	if len(cfg.Words) > 0 {
		if words := WordsFromStrings(cfg.Words, cfg.Category); len(words) > 0 {
			return words
		}
	}
	if d.words != nil {
		words, err := d.words.Words(ctx, cfg.Category)
		if err != nil {
			d.log.Warn().Err(err).Str("category", cfg.Category).Msg("[resolveWords] word source failed, using built-in list")
		} else if len(words) > 0 {
			return words
		}
	}
	words, _ := DefaultWords.Words(ctx, cfg.Category)
	if len(words) == 0 {
		return DefaultWords
	}
	return words
}

// JoinRoom adds the player to a room. A player moving from another room
// leaves it only once the new room has accepted them; a refused join
// leaves them where they were.
func (d *Directory) JoinRoom(ctx context.Context, roomID, playerID string) error {
	a, ok := d.actor(roomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	previous, moving := d.binder.RoomOf(playerID)
	moving = moving && previous != roomID

	name, ok := d.binder.NameOf(playerID)
	if !ok {
		return registry.ErrUnknownPlayer
	}

	err := a.do(ctx, func(r *Room, now time.Time) error {
		if err := r.Join(playerID, name, now); err != nil {
			return err
		}
		if err := d.binder.Bind(playerID, roomID); err != nil {
			r.Leave(playerID, registry.ReasonClosed, now)
			return err
		}
		return nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil || !moving {
		return err
	}

	// the move has happened; finish it even if the caller gives up now
	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.RequestTimeout)
	defer cancel()
	if err := d.leave(leaveCtx, playerID, previous, "left"); err != nil && !errors.Is(err, ErrRoomNotFound) {
		d.log.Warn().Err(err).Str("player", playerID).Str("room", previous).Msg("[JoinRoom] leaving previous room failed")
	}
	return nil
}

func (d *Directory) LeaveRoom(ctx context.Context, playerID string) error {
	roomID, ok := d.binder.RoomOf(playerID)
	if !ok {
		return ErrNotInRoom
	}
	return d.leave(ctx, playerID, roomID, "left")
}

// OnDisconnect is the registry's leave hook.
func (d *Directory) OnDisconnect(playerID, roomID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.RequestTimeout)
	defer cancel()
	if err := d.leave(ctx, playerID, roomID, reason); err != nil && !errors.Is(err, ErrRoomNotFound) {
		d.log.Warn().Err(err).Str("player", playerID).Str("room", roomID).Msg("[OnDisconnect] leave failed")
	}
}

func (d *Directory) leave(ctx context.Context, playerID, roomID, reason string) error {
	a, ok := d.actor(roomID)
	if !ok {
		d.unbindFrom(playerID, roomID)
		return ErrRoomNotFound
	}
	err := a.do(ctx, func(r *Room, now time.Time) error {
		r.Leave(playerID, reason, now)
		d.unbindFrom(playerID, roomID)
		return nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		d.unbindFrom(playerID, roomID)
	}
	return err
}

func (d *Directory) unbindFrom(playerID, roomID string) {
	if current, ok := d.binder.RoomOf(playerID); ok && current == roomID {
		d.binder.Unbind(playerID)
	}
}

// ===== Message Routing =====

// Handle applies one decoded client message. Request failures are answered
// with an Error message; only a cancelled context is returned to the caller.
func (d *Directory) Handle(ctx context.Context, p Peer, msg protocol.Message) error {
	log := d.log.With().Str("player", p.ID()).Str("kind", string(msg.Kind)).Logger()

	switch payload := msg.Payload.(type) {
	case protocol.ListRooms:
		d.send(p, protocol.Message{Kind: protocol.KindRoomList, Payload: protocol.RoomList{Rooms: d.ListRooms()}})
		return nil

	case protocol.CreateRoom:
		roomID, err := d.CreateRoom(ctx, payload.Name, payload.Config)
		if err != nil {
			return d.reply(p, "", err)
		}
		return d.reply(p, roomID, d.JoinRoom(ctx, roomID, p.ID()))

	case protocol.JoinRoom:
		return d.reply(p, payload.RoomID, d.JoinRoom(ctx, payload.RoomID, p.ID()))

	case protocol.Leave:
		return d.reply(p, "", d.LeaveRoom(ctx, p.ID()))

	case protocol.Join:
		name, err := d.binder.Rename(p.ID(), payload.Name)
		if err != nil {
			return d.reply(p, "", err)
		}
		d.send(p, protocol.Message{Kind: protocol.KindWelcome, Payload: protocol.Welcome{PlayerID: p.ID(), Name: name}})
		if _, bound := d.binder.RoomOf(p.ID()); bound {
			return d.ignoreMissing(d.inRoom(ctx, p, func(r *Room, _ time.Time) error {
				r.Rename(p.ID(), name)
				return nil
			}))
		}
		return nil

	case protocol.Chat:
		if !d.allow(p, log) {
			return nil
		}
		return d.reply(p, "", d.inRoom(ctx, p, func(r *Room, now time.Time) error {
			r.Chat(p.ID(), payload.Text, now)
			return nil
		}))

	case protocol.Guess:
		if !d.allow(p, log) {
			return nil
		}
		return d.reply(p, "", d.inRoom(ctx, p, func(r *Room, now time.Time) error {
			r.Guess(p.ID(), payload.Text, now)
			return nil
		}))

	case protocol.Stroke:
		if !d.allow(p, log) {
			return nil
		}
		err := d.inRoom(ctx, p, func(r *Room, now time.Time) error {
			return r.Stroke(p.ID(), payload, now)
		})
		return d.dropSilently(err, log)

	case protocol.ClearCanvas:
		if !d.allow(p, log) {
			return nil
		}
		err := d.inRoom(ctx, p, func(r *Room, now time.Time) error {
			return r.ClearCanvas(p.ID(), now)
		})
		return d.dropSilently(err, log)

	case protocol.StartRound:
		return d.reply(p, "", d.inRoom(ctx, p, func(r *Room, now time.Time) error {
			return r.StartRound(p.ID(), now)
		}))

	case protocol.Kick:
		return d.reply(p, "", d.inRoom(ctx, p, func(r *Room, now time.Time) error {
			if err := r.Kick(p.ID(), payload.PlayerID, now); err != nil {
				return err
			}
			d.unbindFrom(payload.PlayerID, r.ID())
			return nil
		}))

	case protocol.Unrecognized:
		log.Debug().Msg("[Handle] ignoring unknown message kind")
		return nil

	default:
		log.Debug().Msg("[Handle] ignoring server-only message kind")
		return nil
	}
}

func (d *Directory) inRoom(ctx context.Context, p Peer, fn func(r *Room, now time.Time) error) error {
	roomID, ok := d.binder.RoomOf(p.ID())
	if !ok {
		return ErrNotInRoom
	}
	a, ok := d.actor(roomID)
	if !ok {
		d.unbindFrom(p.ID(), roomID)
		return ErrRoomNotFound
	}
	return a.do(ctx, fn)
}

func (d *Directory) allow(p Peer, log zerolog.Logger) bool {
	if p.Allow() {
		return true
	}
	log.Debug().Msg("[Handle] rate limited, dropping message")
	return false
}

func (d *Directory) reply(p Peer, roomID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	d.send(p, errorMessage(roomID, err))
	return nil
}

// send queues a direct reply. A player whose queue is full is dropped, the
// same as a slow room recipient.
func (d *Directory) send(p Peer, msg protocol.Message) {
	if p.Send(msg) {
		return
	}
	d.log.Warn().Str("player", p.ID()).Str("kind", string(msg.Kind)).Msg("[send] send queue full, dropping connection")
	d.binder.Disconnect(p.ID(), registry.ReasonSlow)
}

// dropSilently swallows refused drawing commands after logging them.
func (d *Directory) dropSilently(err error, log zerolog.Logger) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	log.Debug().Err(err).Msg("[Handle] drawing command dropped")
	return nil
}

func (d *Directory) ignoreMissing(err error) error {
	if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrNotInRoom) {
		return nil
	}
	return err
}

// ===== Scheduling & Lifecycle =====

// Tick forwards a scheduler tick to every room without waiting on any.
func (d *Directory) Tick(now time.Time) {
	for _, a := range d.actors() {
		a.tick(now)
	}
}

// Reap closes rooms that have been empty for longer than the idle timeout.
func (d *Directory) Reap(now time.Time) {
	for _, a := range d.actors() {
		if a.Summary().MemberCount > 0 || now.Sub(a.idleSince()) < d.opts.IdleTimeout {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.RequestTimeout)
		err := a.do(ctx, func(r *Room, _ time.Time) error {
			if r.Len() > 0 {
				return ErrGameInProgress
			}
			a.closing = true
			return nil
		})
		cancel()
		if err == nil {
			d.log.Info().Str("room", a.room.ID()).Msg("[Reap] idle room closed")
		}
	}
}

// Close stops every room actor.
func (d *Directory) Close() {
	d.mu.Lock()
	actors := make([]*roomActor, 0, len(d.rooms))
	for id, a := range d.rooms {
		actors = append(actors, a)
		delete(d.rooms, id)
	}
	d.mu.Unlock()

	for _, a := range actors {
		a.shutdown()
	}
	for _, a := range actors {
		<-a.done
	}
}

func (d *Directory) actor(roomID string) (*roomActor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.rooms[roomID]
	return a, ok
}

func (d *Directory) actors() []*roomActor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*roomActor, 0, len(d.rooms))
	for _, a := range d.rooms {
		out = append(out, a)
	}
	return out
}

// remove runs on the room's actor goroutine as it exits.
func (d *Directory) remove(a *roomActor) {
	id := a.room.ID()
	d.mu.Lock()
	if d.rooms[id] == a {
		delete(d.rooms, id)
	}
	d.mu.Unlock()
	d.log.Info().Str("room", id).Msg("[remove] room removed")
}

func (d *Directory) archive(res internal.FinalResults) {
	d.log.Info().Str("room", res.RoomID).Int("rounds", res.RoundsPlayed).Int("players", len(res.Leaderboard)).
		Msg("[archive] game finished")
	if d.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.RequestTimeout)
	defer cancel()
	if err := d.archiver.SaveGameResult(ctx, res); err != nil {
		d.log.Error().Err(err).Str("room", res.RoomID).Msg("[archive] saving game result failed")
	}
}

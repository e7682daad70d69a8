package game

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scythe504/drawguess/internal"
)

const actorInboxSize = 64

// roomActor is the only goroutine that touches its Room. Requests arrive as
// closures on inbox; scheduler ticks arrive on a separate one-slot channel
// so a slow room never stalls the scheduler.
type roomActor struct {
	room  *Room
	inbox chan func(*Room)
	ticks chan time.Time
	quit  chan struct{}
	done  chan struct{}
	stop  sync.Once

	// closing is set from inside the actor to stop after the current request.
	closing bool

	summary    atomic.Pointer[internal.RoomSummary]
	lastActive atomic.Int64

	sink    Sink
	archive func(internal.FinalResults)
	// onEmpty runs on the actor goroutine when the room closes itself.
	onEmpty func(a *roomActor)
	clock   func() time.Time
	log     zerolog.Logger
}

func newRoomActor(room *Room, sink Sink, clock func() time.Time, log zerolog.Logger) *roomActor {
	a := &roomActor{
		room:  room,
		inbox: make(chan func(*Room), actorInboxSize),
		ticks: make(chan time.Time, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		sink:  sink,
		clock: clock,
		log:   log.With().Str("room", room.ID()).Logger(),
	}
	a.lastActive.Store(clock().UnixNano())
	a.publish()
	return a
}

func (a *roomActor) run() {
	defer close(a.done)
	occupied := false

	for {
		select {
		case fn := <-a.inbox:
			fn(a.room)
			a.lastActive.Store(a.clock().UnixNano())
		case now := <-a.ticks:
			a.room.Tick(now)
		case <-a.quit:
			a.flush()
			return
		}
		a.flush()

		if a.room.Len() > 0 {
			occupied = true
			continue
		}
		if occupied || a.closing {
			a.log.Info().Bool("reaped", a.closing).Msg("[roomActor] room empty, closing")
			if a.onEmpty != nil {
				a.onEmpty(a)
			}
			return
		}
	}
}

// flush publishes the summary before delivering, so anyone who has seen a
// message also sees the room state that produced it.
func (a *roomActor) flush() {
	a.publish()
	for _, env := range a.room.Drain() {
		a.sink.Deliver(env.To, env.Msg)
	}
	for _, res := range a.room.TakeResults() {
		if a.archive != nil {
			go a.archive(res)
		}
	}
}

func (a *roomActor) publish() {
	s := a.room.Summary()
	a.summary.Store(&s)
}

// do runs fn on the actor and waits for its result.
func (a *roomActor) do(ctx context.Context, fn func(r *Room, now time.Time) error) error {
	errc := make(chan error, 1)
	req := func(r *Room) { errc <- fn(r, a.clock()) }

	select {
	case a.inbox <- req:
	case <-a.done:
		return ErrRoomNotFound
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-a.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrRoomNotFound
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick offers now to the actor; a tick still pending is left in place.
func (a *roomActor) tick(now time.Time) {
	select {
	case a.ticks <- now:
	default:
	}
}

func (a *roomActor) shutdown() {
	a.stop.Do(func() { close(a.quit) })
}

func (a *roomActor) Summary() internal.RoomSummary {
	return *a.summary.Load()
}

func (a *roomActor) idleSince() time.Time {
	return time.Unix(0, a.lastActive.Load())
}

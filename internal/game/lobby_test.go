package game

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/drawguess/internal"
	"github.com/scythe504/drawguess/internal/protocol"
	"github.com/scythe504/drawguess/internal/registry"
)

// ===== Fakes =====

type fakeBinder struct {
	mu      sync.Mutex
	names   map[string]string
	rooms   map[string]string
	dropped map[string]string
}

func newFakeBinder(ids ...string) *fakeBinder {
	b := &fakeBinder{names: map[string]string{}, rooms: map[string]string{}, dropped: map[string]string{}}
	for _, id := range ids {
		b.names[id] = "name-" + id
	}
	return b
}

func (b *fakeBinder) Bind(playerID, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.names[playerID]; !ok {
		return registry.ErrUnknownPlayer
	}
	b.rooms[playerID] = roomID
	return nil
}

func (b *fakeBinder) Unbind(playerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, playerID)
}

func (b *fakeBinder) RoomOf(playerID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	roomID, ok := b.rooms[playerID]
	return roomID, ok
}

func (b *fakeBinder) NameOf(playerID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.names[playerID]
	return name, ok
}

func (b *fakeBinder) Rename(playerID, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.names[playerID]; !ok {
		return "", registry.ErrUnknownPlayer
	}
	b.names[playerID] = name
	return name, nil
}

func (b *fakeBinder) Disconnect(playerID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, playerID)
	b.dropped[playerID] = reason
}

func (b *fakeBinder) droppedFor(playerID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reason, ok := b.dropped[playerID]
	return reason, ok
}

type recordSink struct {
	mu  sync.Mutex
	got map[string][]protocol.Message
}

func newRecordSink() *recordSink {
	return &recordSink{got: map[string][]protocol.Message{}}
}

func (s *recordSink) Deliver(to []string, msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range to {
		s.got[id] = append(s.got[id], msg)
	}
}

func (s *recordSink) messages(playerID string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.got[playerID]...)
}

func (s *recordSink) waitFor(t *testing.T, playerID string, kind protocol.Kind) protocol.Message {
	t.Helper()
	var found protocol.Message
	require.Eventually(t, func() bool {
		msgs := ofKind(s.messages(playerID), kind)
		if len(msgs) == 0 {
			return false
		}
		found = msgs[len(msgs)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond, "no %s for %s", kind, playerID)
	return found
}

type fakePeer struct {
	id    string
	deny  bool
	full  bool
	mu    sync.Mutex
	inbox []protocol.Message
}

func (p *fakePeer) ID() string  { return p.id }
func (p *fakePeer) Allow() bool { return !p.deny }

func (p *fakePeer) Send(msg protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.inbox = append(p.inbox, msg)
	return true
}

func (p *fakePeer) sent() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Message(nil), p.inbox...)
}

func (p *fakePeer) lastError(t *testing.T) protocol.Error {
	t.Helper()
	errs := ofKind(p.sent(), protocol.KindError)
	require.NotEmpty(t, errs, "expected an error reply")
	return errs[len(errs)-1].Payload.(protocol.Error)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeArchiver struct {
	saved chan internal.FinalResults
}

func (a *fakeArchiver) SaveGameResult(_ context.Context, res internal.FinalResults) error {
	a.saved <- res
	return nil
}

type lobbyFixture struct {
	dir    *Directory
	binder *fakeBinder
	sink   *recordSink
	clock  *fakeClock
}

func newLobby(t *testing.T, opts Options, archiver Archiver, ids ...string) *lobbyFixture {
	t.Helper()
	f := &lobbyFixture{
		binder: newFakeBinder(ids...),
		sink:   newRecordSink(),
		clock:  &fakeClock{now: t0},
	}
	if opts.Defaults.Rounds == 0 {
		opts.Defaults = testConfig()
	}
	opts.Clock = f.clock.Now
	opts.NewRand = func() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

	f.dir = NewDirectory(f.binder, f.sink, StaticWords{{Text: "apple"}}, archiver, opts, zerolog.Nop())
	t.Cleanup(f.dir.Close)
	return f
}

func (f *lobbyFixture) peer(id string) *fakePeer { return &fakePeer{id: id} }

// ===== Tests =====

func TestDirectory_CreateAndList(t *testing.T) {
	f := newLobby(t, Options{MaxRooms: 2}, nil)
	ctx := context.Background()

	zoo, err := f.dir.CreateRoom(ctx, "zoo", protocol.RoomOptions{})
	require.NoError(t, err)
	art, err := f.dir.CreateRoom(ctx, "art", protocol.RoomOptions{})
	require.NoError(t, err)

	_, err = f.dir.CreateRoom(ctx, "extra", protocol.RoomOptions{})
	assert.ErrorIs(t, err, ErrTooManyRooms)

	rooms := f.dir.ListRooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, art, rooms[0].Id)
	assert.Equal(t, zoo, rooms[1].Id)
	assert.Equal(t, internal.PhaseWaiting, rooms[0].Phase)

	summary, ok := f.dir.Room(zoo)
	require.True(t, ok)
	assert.Equal(t, "zoo", summary.Name)

	_, ok = f.dir.Room("missing")
	assert.False(t, ok)
}

func TestDirectory_CreateRoomValidatesConfig(t *testing.T) {
	f := newLobby(t, Options{}, nil)
	zero := 0
	_, err := f.dir.CreateRoom(context.Background(), "bad", protocol.RoomOptions{Rounds: &zero})
	assert.ErrorIs(t, err, internal.ErrInvalidConfig)
	assert.Equal(t, 0, f.dir.Len())

	id, err := f.dir.CreateRoom(context.Background(), "   ", protocol.RoomOptions{})
	require.NoError(t, err)
	summary, _ := f.dir.Room(id)
	assert.Equal(t, "Room "+id, summary.Name)
}

func TestHandle_CreateJoinAndChat(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b")
	ctx := context.Background()
	a, b := f.peer("a"), f.peer("b")

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindCreateRoom, Payload: protocol.CreateRoom{Name: "den"}}))
	snap := f.sink.waitFor(t, "a", protocol.KindRoomSnapshot).Payload.(protocol.RoomSnapshot)
	roomID, bound := f.binder.RoomOf("a")
	require.True(t, bound)
	assert.Equal(t, snap.RoomID, roomID)

	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindJoinRoom, Payload: protocol.JoinRoom{RoomID: roomID}}))
	f.sink.waitFor(t, "a", protocol.KindJoin)

	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindChat, Payload: protocol.Chat{Text: "hey"}}))
	chat := f.sink.waitFor(t, "a", protocol.KindChat)
	assert.Equal(t, "hey", chat.Payload.(protocol.Chat).Text)

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindListRooms, Payload: protocol.ListRooms{}}))
	lists := ofKind(a.sent(), protocol.KindRoomList)
	require.Len(t, lists, 1)
	assert.Equal(t, 2, lists[0].Payload.(protocol.RoomList).Rooms[0].MemberCount)

	assert.Empty(t, ofKind(a.sent(), protocol.KindError))
	assert.Empty(t, ofKind(b.sent(), protocol.KindError))
}

func TestHandle_Errors(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b")
	ctx := context.Background()
	a := f.peer("a")

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindJoinRoom, Payload: protocol.JoinRoom{RoomID: "NOPE"}}))
	assert.Equal(t, protocol.ErrKindRoomNotFound, a.lastError(t).Kind)

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindChat, Payload: protocol.Chat{Text: "hi"}}))
	assert.Equal(t, protocol.ErrKindNotInRoom, a.lastError(t).Kind)

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindLeave, Payload: protocol.Leave{}}))
	assert.Equal(t, protocol.ErrKindNotInRoom, a.lastError(t).Kind)

	one := 1
	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindCreateRoom, Payload: protocol.CreateRoom{Config: protocol.RoomOptions{MaxPlayers: &one}}}))
	assert.Equal(t, protocol.ErrKindInvalidConfig, a.lastError(t).Kind)

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindCreateRoom, Payload: protocol.CreateRoom{Name: "solo"}}))
	f.sink.waitFor(t, "a", protocol.KindRoomSnapshot)
	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindStartRound, Payload: protocol.StartRound{}}))
	assert.Equal(t, protocol.ErrKindNotEnoughPlayers, a.lastError(t).Kind)

	before := len(a.sent())
	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: "dance", Payload: protocol.Unrecognized{Kind: "dance"}}))
	assert.Len(t, a.sent(), before, "unknown kinds are ignored")
}

func TestHandle_DrawingCommandsDroppedSilently(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b")
	ctx := context.Background()
	a, b := f.peer("a"), f.peer("b")

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindCreateRoom, Payload: protocol.CreateRoom{Name: "den"}}))
	roomID, _ := f.binder.RoomOf("a")
	require.NoError(t, f.dir.JoinRoom(ctx, roomID, "b"))

	stroke := protocol.Stroke{Points: []internal.Point{{X: 0.5, Y: 0.5}}}
	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindStroke, Payload: stroke}))
	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindClearCanvas, Payload: protocol.ClearCanvas{}}))

	assert.Empty(t, b.sent())
	assert.Empty(t, ofKind(f.sink.messages("a"), protocol.KindStroke))
}

func TestHandle_RateLimited(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b")
	ctx := context.Background()
	a := f.peer("a")
	b := &fakePeer{id: "b", deny: true}

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindCreateRoom, Payload: protocol.CreateRoom{Name: "den"}}))
	roomID, _ := f.binder.RoomOf("a")
	require.NoError(t, f.dir.JoinRoom(ctx, roomID, "b"))

	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindChat, Payload: protocol.Chat{Text: "spam"}}))
	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindChat, Payload: protocol.Chat{Text: "ok"}}))

	chat := f.sink.waitFor(t, "a", protocol.KindChat)
	assert.Equal(t, "ok", chat.Payload.(protocol.Chat).Text)
	for _, msg := range ofKind(f.sink.messages("a"), protocol.KindChat) {
		assert.NotEqual(t, "spam", msg.Payload.(protocol.Chat).Text)
	}
	assert.Empty(t, b.sent())
}

func TestHandle_RenameInRoom(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b")
	ctx := context.Background()
	a, b := f.peer("a"), f.peer("b")

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindCreateRoom, Payload: protocol.CreateRoom{Name: "den"}}))
	roomID, _ := f.binder.RoomOf("a")
	require.NoError(t, f.dir.JoinRoom(ctx, roomID, "b"))

	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindJoin, Payload: protocol.Join{Name: "bea"}}))
	welcome := ofKind(b.sent(), protocol.KindWelcome)
	require.Len(t, welcome, 1)
	assert.Equal(t, "bea", welcome[0].Payload.(protocol.Welcome).Name)

	require.Eventually(t, func() bool {
		for _, msg := range ofKind(f.sink.messages("a"), protocol.KindJoin) {
			if msg.Payload.(protocol.Join).Name == "bea" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestJoinRoom_MovesBetweenRooms(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a")
	ctx := context.Background()

	first, err := f.dir.CreateRoom(ctx, "first", protocol.RoomOptions{})
	require.NoError(t, err)
	second, err := f.dir.CreateRoom(ctx, "second", protocol.RoomOptions{})
	require.NoError(t, err)

	require.NoError(t, f.dir.JoinRoom(ctx, first, "a"))
	require.NoError(t, f.dir.JoinRoom(ctx, second, "a"))

	roomID, _ := f.binder.RoomOf("a")
	assert.Equal(t, second, roomID)

	require.Eventually(t, func() bool {
		_, ok := f.dir.Room(first)
		return !ok
	}, time.Second, 5*time.Millisecond, "room closes once its last member leaves")
	assert.Equal(t, 1, f.dir.Len())
}

func TestJoinRoom_RefusedJoinKeepsPreviousRoom(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "x", "b", "c")
	ctx := context.Background()
	two := 2

	home, err := f.dir.CreateRoom(ctx, "home", protocol.RoomOptions{})
	require.NoError(t, err)
	full, err := f.dir.CreateRoom(ctx, "full", protocol.RoomOptions{MaxPlayers: &two})
	require.NoError(t, err)
	for _, id := range []string{"a", "x"} {
		require.NoError(t, f.dir.JoinRoom(ctx, home, id))
	}
	for _, id := range []string{"b", "c"} {
		require.NoError(t, f.dir.JoinRoom(ctx, full, id))
	}

	assert.ErrorIs(t, f.dir.JoinRoom(ctx, full, "a"), ErrRoomFull)

	roomID, bound := f.binder.RoomOf("a")
	require.True(t, bound)
	assert.Equal(t, home, roomID)

	require.Eventually(t, func() bool {
		h, _ := f.dir.Room(home)
		other, _ := f.dir.Room(full)
		return h.MemberCount == 2 && other.MemberCount == 2
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, ofKind(f.sink.messages("x"), protocol.KindLeave), "home never sees a leave")
}

func TestHandle_FullQueueDropsConnection(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b", "c")
	ctx := context.Background()

	a := &fakePeer{id: "a", full: true}
	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindListRooms, Payload: protocol.ListRooms{}}))
	reason, dropped := f.binder.droppedFor("a")
	assert.True(t, dropped)
	assert.Equal(t, registry.ReasonSlow, reason)

	c := &fakePeer{id: "c", full: true}
	require.NoError(t, f.dir.Handle(ctx, c, protocol.Message{Kind: protocol.KindChat, Payload: protocol.Chat{Text: "hi"}}))
	reason, dropped = f.binder.droppedFor("c")
	assert.True(t, dropped, "error replies go through the same path")
	assert.Equal(t, registry.ReasonSlow, reason)

	b := f.peer("b")
	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindListRooms, Payload: protocol.ListRooms{}}))
	_, dropped = f.binder.droppedFor("b")
	assert.False(t, dropped)
	assert.Len(t, ofKind(b.sent(), protocol.KindRoomList), 1)
}

func TestOnDisconnect(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b")
	ctx := context.Background()

	roomID, err := f.dir.CreateRoom(ctx, "den", protocol.RoomOptions{})
	require.NoError(t, err)
	require.NoError(t, f.dir.JoinRoom(ctx, roomID, "a"))
	require.NoError(t, f.dir.JoinRoom(ctx, roomID, "b"))

	f.dir.OnDisconnect("b", roomID, registry.ReasonClosed)
	left := f.sink.waitFor(t, "a", protocol.KindLeave).Payload.(protocol.Leave)
	assert.Equal(t, "b", left.PlayerID)
	assert.Equal(t, registry.ReasonClosed, left.Reason)

	summary, ok := f.dir.Room(roomID)
	require.True(t, ok)
	assert.Equal(t, 1, summary.MemberCount)

	f.dir.OnDisconnect("a", roomID, registry.ReasonClosed)
	require.Eventually(t, func() bool { return f.dir.Len() == 0 }, time.Second, 5*time.Millisecond)

	f.dir.OnDisconnect("a", roomID, registry.ReasonClosed)
}

func TestKick_UnbindsTarget(t *testing.T) {
	f := newLobby(t, Options{}, nil, "a", "b", "c")
	ctx := context.Background()
	a := f.peer("a")

	roomID, err := f.dir.CreateRoom(ctx, "den", protocol.RoomOptions{})
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.dir.JoinRoom(ctx, roomID, id))
	}

	require.NoError(t, f.dir.Handle(ctx, a, protocol.Message{Kind: protocol.KindKick, Payload: protocol.Kick{PlayerID: "c"}}))
	_, bound := f.binder.RoomOf("c")
	assert.False(t, bound)
	kicked := f.sink.waitFor(t, "c", protocol.KindError).Payload.(protocol.Error)
	assert.Equal(t, protocol.ErrKindKicked, kicked.Kind)

	b := f.peer("b")
	require.NoError(t, f.dir.Handle(ctx, b, protocol.Message{Kind: protocol.KindKick, Payload: protocol.Kick{PlayerID: "a"}}))
	assert.Equal(t, protocol.ErrKindPermissionDenied, b.lastError(t).Kind)
}

func TestTick_DrivesRoundsAndArchives(t *testing.T) {
	cfg := testConfig()
	cfg.Rounds = 1
	archiver := &fakeArchiver{saved: make(chan internal.FinalResults, 1)}
	f := newLobby(t, Options{Defaults: cfg}, archiver, "a", "b")
	ctx := context.Background()

	roomID, err := f.dir.CreateRoom(ctx, "den", protocol.RoomOptions{})
	require.NoError(t, err)
	require.NoError(t, f.dir.JoinRoom(ctx, roomID, "a"))
	require.NoError(t, f.dir.JoinRoom(ctx, roomID, "b"))
	require.NoError(t, f.dir.Handle(ctx, f.peer("a"), protocol.Message{Kind: protocol.KindStartRound, Payload: protocol.StartRound{}}))

	waitPhase := func(phase internal.GamePhase) {
		t.Helper()
		require.Eventually(t, func() bool {
			s, _ := f.dir.Room(roomID)
			return s.Phase == phase
		}, 2*time.Second, 5*time.Millisecond, "room never reached %s", phase)
	}

	waitPhase(internal.PhaseCountdown)
	f.dir.Tick(f.clock.Add(cfg.CountdownDuration))
	waitPhase(internal.PhaseDrawing)

	require.NoError(t, f.dir.Handle(ctx, f.peer("b"), protocol.Message{Kind: protocol.KindGuess, Payload: protocol.Guess{Text: "Apple"}}))
	waitPhase(internal.PhaseRoundEnd)

	f.dir.Tick(f.clock.Add(cfg.RoundEndDuration))
	waitPhase(internal.PhaseGameOver)

	select {
	case res := <-archiver.saved:
		assert.Equal(t, roomID, res.RoomID)
		assert.Equal(t, 1, res.RoundsPlayed)
		require.Len(t, res.Leaderboard, 2)
		assert.Equal(t, "b", res.Leaderboard[0].PlayerID)
	case <-time.After(2 * time.Second):
		t.Fatal("finished game was not archived")
	}

	f.dir.Tick(f.clock.Add(cfg.GameOverDuration))
	waitPhase(internal.PhaseWaiting)
}

func TestReap_ClosesIdleEmptyRooms(t *testing.T) {
	f := newLobby(t, Options{IdleTimeout: time.Minute}, nil, "a")
	ctx := context.Background()

	idle, err := f.dir.CreateRoom(ctx, "idle", protocol.RoomOptions{})
	require.NoError(t, err)
	busy, err := f.dir.CreateRoom(ctx, "busy", protocol.RoomOptions{})
	require.NoError(t, err)
	require.NoError(t, f.dir.JoinRoom(ctx, busy, "a"))

	f.dir.Reap(f.clock.Add(30 * time.Second))
	assert.Equal(t, 2, f.dir.Len())

	f.dir.Reap(f.clock.Add(time.Minute))
	require.Eventually(t, func() bool {
		_, ok := f.dir.Room(idle)
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok := f.dir.Room(busy)
	assert.True(t, ok)

	assert.ErrorIs(t, f.dir.JoinRoom(ctx, idle, "a"), ErrRoomNotFound)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, protocol.ErrKindRoomFull, ErrorKind(ErrRoomFull))
	assert.Equal(t, protocol.ErrKindMalformed, ErrorKind(protocol.ErrMalformed))
	assert.Equal(t, protocol.ErrKindInternal, ErrorKind(context.Canceled))
}

package game

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/drawguess/internal/protocol"
	"github.com/scythe504/drawguess/internal/registry"
)

type pipeConn struct {
	frames  chan []byte
	release chan struct{}
	once    sync.Once
}

func newPipeConn(blocked bool) *pipeConn {
	c := &pipeConn{frames: make(chan []byte, 32), release: make(chan struct{})}
	if !blocked {
		close(c.release)
	}
	return c
}

func (c *pipeConn) ReadFrame() ([]byte, error) { return nil, io.EOF }

func (c *pipeConn) WriteFrame(body []byte) error {
	<-c.release
	c.frames <- body
	return nil
}

func (c *pipeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *pipeConn) RemoteAddr() string               { return "pipe" }

func (c *pipeConn) Close() error {
	c.once.Do(func() {
		select {
		case <-c.release:
		default:
			close(c.release)
		}
	})
	return nil
}

func (c *pipeConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case body := <-c.frames:
		msg, err := protocol.Decode(body)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame written")
		return protocol.Message{}
	}
}

func TestDispatcher_DeliversToEachRecipient(t *testing.T) {
	sessions := registry.New(registry.Options{}, zerolog.Nop())
	t.Cleanup(func() { sessions.CloseAll(registry.ReasonShutdown) })
	connA, connB := newPipeConn(false), newPipeConn(false)
	a := sessions.Register(connA, "a")
	b := sessions.Register(connB, "b")

	d := NewDispatcher(sessions, zerolog.Nop())
	d.Deliver([]string{a.ID(), "gone", b.ID()}, protocol.Message{Kind: protocol.KindChat, RoomID: "R1", Payload: protocol.Chat{Text: "hi"}})

	for _, c := range []*pipeConn{connA, connB} {
		msg := c.next(t)
		assert.Equal(t, protocol.KindChat, msg.Kind)
		assert.Equal(t, "R1", msg.RoomID)
		assert.Equal(t, "hi", msg.Payload.(protocol.Chat).Text)
	}
}

func TestDispatcher_DropsSlowRecipient(t *testing.T) {
	sessions := registry.New(registry.Options{QueueSize: 2}, zerolog.Nop())
	t.Cleanup(func() { sessions.CloseAll(registry.ReasonShutdown) })
	slowConn, fastConn := newPipeConn(true), newPipeConn(false)
	slow := sessions.Register(slowConn, "slow")
	fast := sessions.Register(fastConn, "fast")

	d := NewDispatcher(sessions, zerolog.Nop())
	for i := 0; i < 5; i++ {
		d.Deliver([]string{slow.ID()}, protocol.Message{Kind: protocol.KindClearCanvas, Payload: protocol.ClearCanvas{}})
	}

	require.Eventually(t, func() bool {
		_, ok := sessions.Lookup(slow.ID())
		return !ok
	}, time.Second, 5*time.Millisecond, "slow session should be disconnected")

	d.Deliver([]string{slow.ID(), fast.ID()}, protocol.Message{Kind: protocol.KindChat, Payload: protocol.Chat{Text: "still here"}})
	assert.Equal(t, "still here", fastConn.next(t).Payload.(protocol.Chat).Text)
	_, ok := sessions.Lookup(fast.ID())
	assert.True(t, ok)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/scythe504/drawguess/internal/game"
	"github.com/scythe504/drawguess/internal/protocol"
	"github.com/scythe504/drawguess/internal/registry"
)

var errHandshake = errors.New("expected join as the first message")

// serveConn runs one connection from handshake to disconnect. A non-empty
// roomID is joined straight after the welcome.
func (s *Server) serveConn(ctx context.Context, conn frameConn, roomID string) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := s.log.With().Str("remote", conn.RemoteAddr()).Logger()

	name, err := s.handshake(conn)
	if err != nil {
		log.Debug().Err(err).Msg("[serveConn] handshake failed")
		s.reject(conn, err)
		return
	}

	sess := s.sessions.Register(conn, name)
	sess.Send(protocol.Message{
		Kind:    protocol.KindWelcome,
		Payload: protocol.Welcome{PlayerID: sess.ID(), Name: sess.Name()},
	})

	if roomID != "" {
		join := protocol.Message{Kind: protocol.KindJoinRoom, SenderID: sess.ID(), Payload: protocol.JoinRoom{RoomID: roomID}}
		if err := s.handle(ctx, sess, join); err != nil {
			s.sessions.Disconnect(sess.ID(), registry.ReasonShutdown)
			return
		}
	}

	reason := s.readLoop(ctx, sess, conn)
	s.sessions.Disconnect(sess.ID(), reason)
}

// handshake waits for the client's join and returns the requested name.
func (s *Server) handshake(conn frameConn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return "", err
	}
	body, err := conn.ReadFrame()
	if err != nil {
		return "", err
	}
	msg, err := protocol.Decode(body)
	if err != nil {
		return "", err
	}
	join, ok := msg.Payload.(protocol.Join)
	if !ok {
		return "", fmt.Errorf("%w: got %q", errHandshake, msg.Kind)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	return join.Name, nil
}

// reject tells a client why its handshake failed, when it is still there to
// hear it, and closes the connection.
func (s *Server) reject(conn frameConn, err error) {
	defer conn.Close()

	if !errors.Is(err, protocol.ErrMalformed) && !errors.Is(err, errHandshake) {
		return
	}
	body, encErr := protocol.Encode(protocol.Message{
		Kind:    protocol.KindError,
		Payload: protocol.Error{Kind: protocol.ErrKindMalformed, Message: err.Error()},
	})
	if encErr != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.SendTimeout))
	_ = conn.WriteFrame(body)
}

// readLoop feeds decoded messages to the directory until the connection
// fails, and returns the disconnect reason.
func (s *Server) readLoop(ctx context.Context, sess *registry.Session, conn frameConn) string {
	log := s.log.With().Str("player", sess.ID()).Logger()

	for {
		body, err := conn.ReadFrame()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return registry.ReasonShutdown
			case errors.Is(err, protocol.ErrMalformed):
				log.Debug().Err(err).Msg("[readLoop] bad frame")
				return registry.ReasonMalformed
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				return registry.ReasonClosed
			default:
				log.Debug().Err(err).Msg("[readLoop] read failed")
				return registry.ReasonClosed
			}
		}

		msg, err := protocol.Decode(body)
		if err != nil {
			log.Debug().Err(err).Msg("[readLoop] malformed message")
			return registry.ReasonMalformed
		}
		msg.SenderID = sess.ID()

		if err := s.handle(ctx, sess, msg); err != nil {
			return registry.ReasonShutdown
		}
	}
}

// handle applies msg with the request timeout. A timed-out request is
// logged and the connection kept; an error is returned only once ctx ends.
func (s *Server) handle(ctx context.Context, sess game.Peer, msg protocol.Message) error {
	reqCtx, cancel := context.WithTimeout(ctx, game.DefaultRequestTimeout)
	defer cancel()

	err := s.rooms.Handle(reqCtx, sess, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.log.Warn().Err(err).Str("player", sess.ID()).Str("kind", string(msg.Kind)).Msg("[handle] request timed out")
	return nil
}

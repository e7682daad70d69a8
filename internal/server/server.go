package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/scythe504/drawguess/internal"
	"github.com/scythe504/drawguess/internal/config"
	"github.com/scythe504/drawguess/internal/game"
	"github.com/scythe504/drawguess/internal/registry"
)

const (
	httpTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// History serves finished games; storage.Store implements it.
type History interface {
	RecentResults(ctx context.Context, limit int) ([]internal.FinalResults, error)
}

// Server accepts players over framed TCP and WebSocket and exposes the room
// directory over HTTP.
type Server struct {
	cfg      *config.Config
	version  string
	sessions *registry.Registry
	rooms    *game.Directory
	history  History
	upgrader websocket.Upgrader

	startedAt time.Time
	base      context.Context
	conns     sync.WaitGroup
	log       zerolog.Logger
}

// New builds a server around an existing registry and directory. history
// may be nil when no database is configured.
func New(cfg *config.Config, sessions *registry.Registry, rooms *game.Directory, history History, version string, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		version:  version,
		sessions: sessions,
		rooms:    rooms,
		history:  history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startedAt: time.Now(),
		base:      context.Background(),
		log:       log.With().Str("component", "server").Logger(),
	}
}

// ListenAndServe runs the HTTP listener and, when configured, the TCP
// listener until ctx is cancelled, then shuts both down and disconnects
// every session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return err
	}
	var tcpLn net.Listener
	if s.cfg.TCPPort != 0 {
		tcpLn, err = net.Listen("tcp", net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.TCPPort)))
		if err != nil {
			_ = httpLn.Close()
			return err
		}
	}
	return s.Serve(ctx, httpLn, tcpLn)
}

// Serve is ListenAndServe over listeners the caller opened. tcpLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, tcpLn net.Listener) error {
	s.base = ctx
	srv := &http.Server{
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: httpTimeout,
	}

	errs := make(chan error, 2)
	go func() {
		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			s.log.Info().Str("addr", httpLn.Addr().String()).Msg("[Serve] listening on https")
			err = srv.ServeTLS(httpLn, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			s.log.Info().Str("addr", httpLn.Addr().String()).Msg("[Serve] listening on http")
			err = srv.Serve(httpLn)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	if tcpLn != nil {
		go func() {
			if err := s.ServeTCP(ctx, tcpLn); err != nil {
				errs <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if tcpLn != nil {
		_ = tcpLn.Close()
	}
	s.sessions.CloseAll(registry.ReasonShutdown)
	s.conns.Wait()

	s.log.Info().Msg("[Serve] stopped")
	return err
}

// ServeTCP accepts framed connections until ln is closed or ctx ends.
func (s *Server) ServeTCP(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("[ServeTCP] listening for framed tcp")
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(ctx, newTCPConn(c), "")
		}()
	}
}

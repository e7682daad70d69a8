package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/scythe504/drawguess/internal"
	"github.com/scythe504/drawguess/internal/game"
	"github.com/scythe504/drawguess/internal/protocol"
)

const (
	qrSize             = 320
	defaultResultLimit = 20
	maxResultLimit     = 200
	maxRequestBody     = 64 << 10
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.HelloWorldHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/version", s.VersionHandler).Methods(http.MethodGet)

	r.HandleFunc("/rooms", s.ListRoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.CreateRoomHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/rooms-available", s.GetRoomToJoin).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}", s.GetRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}/qr", s.RoomQRHandler).Methods(http.MethodGet)
	r.HandleFunc("/results", s.ResultsHandler).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.HandleWebSocket)
	r.HandleFunc("/ws/{roomId}", s.HandleWebSocket)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// If it's a websocket upgrade, skip further CORS checks
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleWebSocket upgrades the request and runs the connection like any
// other session. /ws/{roomId} joins that room right after the handshake.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if roomID == "" {
		roomID = r.URL.Query().Get("room")
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("[HandleWebSocket] upgrade failed")
		return
	}
	conn := newWSConn(ws, realIP(r))
	go conn.keepalive()

	s.conns.Add(1)
	defer s.conns.Done()
	s.serveConn(s.base, conn, roomID)
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	s.respond(w, time.Now(), http.StatusOK, map[string]any{
		"message": "drawguess",
		"version": s.version,
		"players": s.sessions.Len(),
		"rooms":   s.rooms.Len(),
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok\n"))
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("drawguess v" + s.version + "\n"))
}

func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	s.respond(w, time.Now(), http.StatusOK, s.rooms.ListRooms())
}

// RoomInfo is a room summary plus the links a client needs to join it.
type RoomInfo struct {
	internal.RoomSummary
	JoinURL   string `json:"join_url"`
	InviteURL string `json:"invite_url"`
}

func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	roomID := mux.Vars(r)["roomId"]

	summary, ok := s.rooms.Room(roomID)
	if !ok {
		s.respond(w, startTime, http.StatusNotFound, "Room not found")
		return
	}
	s.respond(w, startTime, http.StatusOK, s.roomInfo(r, summary))
}

func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req protocol.CreateRoom
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respond(w, startTime, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	roomID, err := s.rooms.CreateRoom(r.Context(), req.Name, req.Config)
	switch {
	case errors.Is(err, internal.ErrInvalidConfig):
		s.respond(w, startTime, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, game.ErrTooManyRooms):
		s.respond(w, startTime, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Msg("[CreateRoomHandler] create failed")
		s.respond(w, startTime, http.StatusInternalServerError, "Internal server error")
		return
	}

	summary, _ := s.rooms.Room(roomID)
	s.respond(w, startTime, http.StatusCreated, s.roomInfo(r, summary))
}

// GetRoomToJoin picks the fullest waiting room that still has space.
func (s *Server) GetRoomToJoin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var best *internal.RoomSummary
	for _, room := range s.rooms.ListRooms() {
		if room.Phase != internal.PhaseWaiting || room.MemberCount >= room.MaxPlayers {
			continue
		}
		if best == nil || room.MemberCount > best.MemberCount {
			best = &room
		}
	}

	if best == nil {
		s.respond(w, startTime, http.StatusNotFound, "No joinable rooms available")
		return
	}
	s.respond(w, startTime, http.StatusOK, best.Id)
}

// RoomQRHandler renders the room's invite URL as a PNG QR code.
func (s *Server) RoomQRHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	summary, ok := s.rooms.Room(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(s.roomInfo(r, summary).InviteURL, qrcode.Medium, qrSize)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("[RoomQRHandler] qr generation failed")
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	if s.history == nil {
		s.respond(w, startTime, http.StatusNotFound, "Game history is not enabled")
		return
	}

	limit := defaultResultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respond(w, startTime, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxResultLimit)
	}

	results, err := s.history.RecentResults(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("[ResultsHandler] loading results failed")
		s.respond(w, startTime, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.respond(w, startTime, http.StatusOK, results)
}

func (s *Server) roomInfo(r *http.Request, summary internal.RoomSummary) RoomInfo {
	base := s.baseURL(r)
	wsBase := "ws" + strings.TrimPrefix(base, "http")
	return RoomInfo{
		RoomSummary: summary,
		JoinURL:     wsBase + "/ws/" + summary.Id,
		InviteURL:   base + "/rooms/" + summary.Id,
	}
}

// baseURL prefers the configured public URL and otherwise derives one from
// the request.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimSuffix(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// realIP returns the client address, trusting proxy headers that carry a
// valid IP.
func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)

	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}

	if port != "" {
		return net.JoinHostPort(host, port)
	}
	return host
}

func (s *Server) respond(w http.ResponseWriter, startTime time.Time, status int, data any) {
	resp := internal.Response{
		StatusCode:    status,
		RespStartTime: startTime.UnixMilli(),
		Data:          data,
	}

	// Calculate response times
	endTime := time.Now().UnixMilli()
	resp.RespEndTime = endTime
	resp.NetRespTime = endTime - resp.RespStartTime

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("[respond] encoding response failed")
	}
}

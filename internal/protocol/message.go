package protocol

import (
	"encoding/json"
	"time"

	"github.com/scythe504/drawguess/internal"
)

type Kind string

const (
	KindJoin             Kind = "join"
	KindWelcome          Kind = "welcome"
	KindLeave            Kind = "leave"
	KindListRooms        Kind = "list_rooms"
	KindRoomList         Kind = "room_list"
	KindCreateRoom       Kind = "create_room"
	KindJoinRoom         Kind = "join_room"
	KindRoomSnapshot     Kind = "room_snapshot"
	KindChat             Kind = "chat"
	KindGuess            Kind = "guess"
	KindStroke           Kind = "stroke"
	KindClearCanvas      Kind = "clear_canvas"
	KindStartRound       Kind = "start_round"
	KindKick             Kind = "kick"
	KindRoundStateUpdate Kind = "round_state_update"
	KindScoreUpdate      Kind = "score_update"
	KindGameResult       Kind = "game_result"
	KindError            Kind = "error"
)

// Message is one protocol unit. SenderID is always stamped by the server;
// whatever a client puts there is overwritten on receipt.
type Message struct {
	Kind     Kind
	RoomID   string
	SenderID string
	Payload  any
}

type Join struct {
	PlayerID string `json:"player_id,omitempty"`
	Name     string `json:"name"`
}

type Welcome struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

type Leave struct {
	PlayerID string `json:"player_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type ListRooms struct{}

type RoomList struct {
	Rooms []internal.RoomSummary `json:"rooms"`
}

type CreateRoom struct {
	Name   string      `json:"name"`
	Config RoomOptions `json:"config"`
}

type JoinRoom struct {
	RoomID string `json:"room_id"`
}

type RoomSnapshot struct {
	RoomID   string               `json:"room_id"`
	Name     string               `json:"name"`
	HostID   string               `json:"host_id"`
	Members  []internal.Player    `json:"members"`
	State    RoundStateUpdate     `json:"state"`
	Chat     []internal.ChatEntry `json:"chat"`
	CanGuess bool                 `json:"can_guess"`
}

type Chat struct {
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
	System   bool   `json:"system,omitempty"`
}

type Guess struct {
	Text string `json:"text"`
}

type Stroke = internal.Stroke

type ClearCanvas struct{}

type StartRound struct{}

type Kick struct {
	PlayerID string `json:"player_id"`
}

type RoundStateUpdate struct {
	State           internal.GamePhase      `json:"state"`
	DrawerID        string                  `json:"drawer_id,omitempty"`
	TimeRemainingMs int64                   `json:"time_remaining_ms"`
	RoundNumber     int                     `json:"round_number"`
	TotalRounds     int                     `json:"total_rounds"`
	Word            string                  `json:"word,omitempty"`
	MaskedWord      string                  `json:"masked_word,omitempty"`
	WordLength      int                     `json:"word_length,omitempty"`
	Category        string                  `json:"category,omitempty"`
	Reason          internal.RoundEndReason `json:"reason,omitempty"`
}

type ScoreUpdate struct {
	PlayerID string               `json:"player_id"`
	NewScore int                  `json:"new_score"`
	Delta    int                  `json:"delta"`
	Reason   internal.ScoreReason `json:"reason"`
}

type GameResult struct {
	FinalScores  []internal.PlayerScore `json:"final_scores"`
	RoundsPlayed int                    `json:"rounds_played"`
}

type ErrorKind string

const (
	ErrKindMalformed        ErrorKind = "malformed_message"
	ErrKindPermissionDenied ErrorKind = "permission_denied"
	ErrKindRoomFull         ErrorKind = "room_full"
	ErrKindRoomNotFound     ErrorKind = "room_not_found"
	ErrKindGameInProgress   ErrorKind = "game_in_progress"
	ErrKindNotInRoom        ErrorKind = "not_in_room"
	ErrKindInvalidConfig    ErrorKind = "invalid_config"
	ErrKindKicked           ErrorKind = "kicked"
	ErrKindTooManyRooms     ErrorKind = "too_many_rooms"
	ErrKindNotEnoughPlayers ErrorKind = "not_enough_players"
	ErrKindInternal         ErrorKind = "internal"
)

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Unrecognized holds a message whose kind this server does not know.
type Unrecognized struct {
	Kind Kind
	Raw  json.RawMessage
}

// RoomOptions is the client-facing room configuration. Unset fields keep
// the server defaults.
type RoomOptions struct {
	RoundSeconds     *int     `json:"round_seconds,omitempty"`
	CountdownSeconds *int     `json:"countdown_seconds,omitempty"`
	RoundEndSeconds  *int     `json:"round_end_seconds,omitempty"`
	GameOverSeconds  *int     `json:"game_over_seconds,omitempty"`
	Rounds           *int     `json:"rounds,omitempty"`
	MinPlayers       *int     `json:"min_players,omitempty"`
	MaxPlayers       *int     `json:"max_players,omitempty"`
	FirstGuessPoints *int     `json:"first_guess_points,omitempty"`
	LaterGuessPoints *int     `json:"later_guess_points,omitempty"`
	DrawerPoints     *int     `json:"drawer_points,omitempty"`
	FuzzyMatch       *bool    `json:"fuzzy_match,omitempty"`
	FuzzyDistance    *int     `json:"fuzzy_distance,omitempty"`
	AllowLateJoin    *bool    `json:"allow_late_join,omitempty"`
	Category         string   `json:"category,omitempty"`
	Words            []string `json:"words,omitempty"`
}

func (o RoomOptions) Apply(base internal.RoomConfig) internal.RoomConfig {
	// one past the cap, so oversized values fail validation instead of wrapping
	limit := int(internal.MaxPhaseDuration/time.Second) + 1
	seconds := func(dst *time.Duration, v *int) {
		if v != nil {
			*dst = time.Duration(min(max(*v, -limit), limit)) * time.Second
		}
	}
	integer := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	boolean := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}

	seconds(&base.RoundDuration, o.RoundSeconds)
	seconds(&base.CountdownDuration, o.CountdownSeconds)
	seconds(&base.RoundEndDuration, o.RoundEndSeconds)
	seconds(&base.GameOverDuration, o.GameOverSeconds)
	integer(&base.Rounds, o.Rounds)
	integer(&base.MinPlayers, o.MinPlayers)
	integer(&base.MaxPlayers, o.MaxPlayers)
	integer(&base.FirstGuessPoints, o.FirstGuessPoints)
	integer(&base.LaterGuessPoints, o.LaterGuessPoints)
	integer(&base.DrawerPoints, o.DrawerPoints)
	boolean(&base.FuzzyMatch, o.FuzzyMatch)
	integer(&base.FuzzyDistance, o.FuzzyDistance)
	boolean(&base.AllowLateJoin, o.AllowLateJoin)
	if o.Category != "" {
		base.Category = o.Category
	}
	if len(o.Words) > 0 {
		base.Words = append([]string(nil), o.Words...)
	}
	return base
}

package internal

import (
	"errors"
	"fmt"
	"time"
)

const (
	CountdownPhaseDuration = 5 * time.Second
	DrawingPhaseDuration   = 80 * time.Second
	RoundEndPhaseDuration  = 6 * time.Second
	GameOverPhaseDuration  = 15 * time.Second
	MaxPlayersPerRoom      = 8
	MinPlayersToStart      = 2
	MaxRounds              = 6

	FirstGuessPoints = 100
	LaterGuessPoints = 50
	DrawerPoints     = 25

	// MaxPhaseDuration caps every configurable phase length.
	MaxPhaseDuration = time.Hour

	MaxNameLength = 24
	MaxChatLength = 200
)

type GamePhase string

const (
	PhaseWaiting   GamePhase = "waiting"
	PhaseCountdown GamePhase = "countdown"
	PhaseDrawing   GamePhase = "drawing"
	PhaseRoundEnd  GamePhase = "round_end"
	PhaseGameOver  GamePhase = "game_over"
)

// Active reports whether a game is running (a round is scheduled or in progress).
func (p GamePhase) Active() bool {
	return p == PhaseCountdown || p == PhaseDrawing || p == PhaseRoundEnd
}

type ScoreReason string

const (
	ReasonFirstGuess  ScoreReason = "first_guess"
	ReasonLaterGuess  ScoreReason = "later_guess"
	ReasonDrawerBonus ScoreReason = "drawer_bonus"
)

// RoundEndReason explains why a drawing phase stopped.
type RoundEndReason string

const (
	EndTimeout    RoundEndReason = "timeout"
	EndAllGuessed RoundEndReason = "all_guessed"
	EndDrawerLeft RoundEndReason = "drawer_left"
)

type Word struct {
	Text     string `json:"word"`
	Category string `json:"category,omitempty"`
}

type Player struct {
	Id       string    `json:"id"`
	Username string    `json:"username"`
	Score    int       `json:"score"`
	JoinedAt time.Time `json:"joined_at"`
}

type ChatEntry struct {
	PlayerID  string    `json:"player_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Text      string    `json:"text"`
	System    bool      `json:"system"`
	Timestamp time.Time `json:"timestamp"`
}

type ScoreEvent struct {
	PlayerID string      `json:"player_id"`
	Delta    int         `json:"delta"`
	Reason   ScoreReason `json:"reason"`
	Round    int         `json:"round"`
	At       time.Time   `json:"at"`
}

type PlayerScore struct {
	PlayerID string `json:"player_id"`
	Username string `json:"name"`
	Score    int    `json:"score"`
	Position int    `json:"position"`
}

type RoomSummary struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	MemberCount int       `json:"member_count"`
	MaxPlayers  int       `json:"max_players"`
	Phase       GamePhase `json:"state"`
}

type FinalResults struct {
	RoomID       string        `json:"room_id"`
	RoomName     string        `json:"room_name"`
	Leaderboard  []PlayerScore `json:"final_scores"`
	RoundsPlayed int           `json:"rounds_played"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// RoomConfig is fixed when a room is created.
type RoomConfig struct {
	RoundDuration     time.Duration `json:"round_duration"`
	CountdownDuration time.Duration `json:"countdown_duration"`
	RoundEndDuration  time.Duration `json:"round_end_duration"`
	GameOverDuration  time.Duration `json:"game_over_duration"`
	Rounds            int           `json:"rounds"`
	MinPlayers        int           `json:"min_players"`
	MaxPlayers        int           `json:"max_players"`
	FirstGuessPoints  int           `json:"first_guess_points"`
	LaterGuessPoints  int           `json:"later_guess_points"`
	DrawerPoints      int           `json:"drawer_points"`
	FuzzyMatch        bool          `json:"fuzzy_match"`
	FuzzyDistance     int           `json:"fuzzy_distance"`
	AllowLateJoin     bool          `json:"allow_late_join"`
	Category          string        `json:"category,omitempty"`
	Words             []string      `json:"words,omitempty"`
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		RoundDuration:     DrawingPhaseDuration,
		CountdownDuration: CountdownPhaseDuration,
		RoundEndDuration:  RoundEndPhaseDuration,
		GameOverDuration:  GameOverPhaseDuration,
		Rounds:            MaxRounds,
		MinPlayers:        MinPlayersToStart,
		MaxPlayers:        MaxPlayersPerRoom,
		FirstGuessPoints:  FirstGuessPoints,
		LaterGuessPoints:  LaterGuessPoints,
		DrawerPoints:      DrawerPoints,
		FuzzyDistance:     1,
		AllowLateJoin:     true,
	}
}

var ErrInvalidConfig = errors.New("invalid room config")

func (c RoomConfig) Validate() error {
	switch {
	case c.RoundDuration <= 0, c.CountdownDuration < 0, c.RoundEndDuration < 0, c.GameOverDuration < 0:
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	case c.RoundDuration > MaxPhaseDuration, c.CountdownDuration > MaxPhaseDuration,
		c.RoundEndDuration > MaxPhaseDuration, c.GameOverDuration > MaxPhaseDuration:
		return fmt.Errorf("%w: durations must not exceed %s", ErrInvalidConfig, MaxPhaseDuration)
	case c.Rounds < 1:
		return fmt.Errorf("%w: rounds must be at least 1, got %d", ErrInvalidConfig, c.Rounds)
	case c.MinPlayers < 2:
		return fmt.Errorf("%w: min_players must be at least 2, got %d", ErrInvalidConfig, c.MinPlayers)
	case c.MaxPlayers < c.MinPlayers:
		return fmt.Errorf("%w: max_players %d below min_players %d", ErrInvalidConfig, c.MaxPlayers, c.MinPlayers)
	case c.FirstGuessPoints < 0, c.LaterGuessPoints < 0, c.DrawerPoints < 0:
		return fmt.Errorf("%w: scoring weights must not be negative", ErrInvalidConfig)
	case c.FuzzyMatch && c.FuzzyDistance < 1:
		return fmt.Errorf("%w: fuzzy_distance must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Response wraps every JSON body served over HTTP.
type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}

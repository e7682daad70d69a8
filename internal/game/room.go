package game

import (
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/scythe504/drawguess/internal"
	"github.com/scythe504/drawguess/internal/protocol"
	"github.com/scythe504/drawguess/internal/utils"
)

const (
	ChatHistorySize    = 50
	MaxStrokesPerRound = 4096
)

// Envelope is an accepted outbound message and the players it goes to.
type Envelope struct {
	To  []string
	Msg protocol.Message
}

// Room is one game's state machine. It is not safe for concurrent use; a
// room actor owns it and applies every operation in order.
type Room struct {
	id   string
	name string
	cfg  internal.RoomConfig

	hostID  string
	members []*internal.Player

	phase    internal.GamePhase
	round    int
	drawerID string
	word     internal.Word
	deadline time.Time

	// roundSettled is the last round whose drawing phase has ended.
	roundSettled int
	drawn        map[string]bool
	eligible     map[string]bool
	scored       map[string]bool
	correctCount int

	strokes []internal.Stroke
	chat    []internal.ChatEntry
	events  []internal.ScoreEvent
	pool    *WordPool

	pending []Envelope
	results []internal.FinalResults

	log zerolog.Logger
}

func NewRoom(id, name string, cfg internal.RoomConfig, pool *WordPool, log zerolog.Logger) *Room {
	return &Room{
		id:       id,
		name:     name,
		cfg:      cfg,
		phase:    internal.PhaseWaiting,
		drawn:    make(map[string]bool),
		eligible: make(map[string]bool),
		scored:   make(map[string]bool),
		pool:     pool,
		log:      log.With().Str("room", id).Logger(),
	}
}

// ===== Accessors =====

func (r *Room) ID() string                    { return r.id }
func (r *Room) Name() string                  { return r.name }
func (r *Room) Config() internal.RoomConfig   { return r.cfg }
func (r *Room) Phase() internal.GamePhase     { return r.phase }
func (r *Room) Round() int                    { return r.round }
func (r *Room) DrawerID() string              { return r.drawerID }
func (r *Room) HostID() string                { return r.hostID }
func (r *Room) Word() internal.Word           { return r.word }
func (r *Room) Deadline() time.Time           { return r.deadline }
func (r *Room) Len() int                      { return len(r.members) }
func (r *Room) Strokes() []internal.Stroke    { return r.strokes }
func (r *Room) Events() []internal.ScoreEvent { return r.events }

func (r *Room) Members() []internal.Player {
	out := make([]internal.Player, len(r.members))
	for i, m := range r.members {
		out[i] = *m
	}
	return out
}

func (r *Room) Member(playerID string) (internal.Player, bool) {
	if m := r.member(playerID); m != nil {
		return *m, true
	}
	return internal.Player{}, false
}

func (r *Room) Summary() internal.RoomSummary {
	return internal.RoomSummary{
		Id:          r.id,
		Name:        r.name,
		MemberCount: len(r.members),
		MaxPlayers:  r.cfg.MaxPlayers,
		Phase:       r.phase,
	}
}

// Drain hands over the messages accepted since the last call.
func (r *Room) Drain() []Envelope {
	out := r.pending
	r.pending = nil
	return out
}

// TakeResults hands over finished games waiting to be archived.
func (r *Room) TakeResults() []internal.FinalResults {
	out := r.results
	r.results = nil
	return out
}

// ===== Membership =====

func (r *Room) Join(playerID, name string, now time.Time) error {
	if r.member(playerID) != nil {
		r.sendTo(playerID, r.snapshotMessage(playerID, now))
		return nil
	}
	if len(r.members) >= r.cfg.MaxPlayers {
		return ErrRoomFull
	}
	if r.phase.Active() && !r.cfg.AllowLateJoin {
		return ErrGameInProgress
	}

	p := &internal.Player{Id: playerID, Username: name, JoinedAt: now}
	r.members = append(r.members, p)
	if r.hostID == "" {
		r.hostID = playerID
	}

	r.log.Info().Str("player", playerID).Str("name", name).Int("members", len(r.members)).
		Str("phase", string(r.phase)).Msg("[Join] player joined")

	r.broadcastExcept(playerID, protocol.Message{
		Kind:     protocol.KindJoin,
		SenderID: playerID,
		Payload:  protocol.Join{PlayerID: playerID, Name: name},
	})
	r.sendTo(playerID, r.snapshotMessage(playerID, now))
	for _, s := range r.strokes {
		r.sendTo(playerID, protocol.Message{Kind: protocol.KindStroke, SenderID: r.drawerID, Payload: s})
	}
	if r.phase == internal.PhaseDrawing {
		r.sendTo(playerID, r.systemChat("A round is in progress. You can guess from the next round."))
	}
	return nil
}

// Leave removes a member. It reports false when the player was not here.
func (r *Room) Leave(playerID, reason string, now time.Time) bool {
	idx := slices.IndexFunc(r.members, func(p *internal.Player) bool { return p.Id == playerID })
	if idx < 0 {
		return false
	}
	leaver := r.members[idx]
	r.members = slices.Delete(r.members, idx, idx+1)
	delete(r.eligible, playerID)

	r.log.Info().Str("player", playerID).Str("reason", reason).Int("members", len(r.members)).
		Str("phase", string(r.phase)).Msg("[Leave] player left")

	r.broadcast(protocol.Message{
		Kind:     protocol.KindLeave,
		SenderID: playerID,
		Payload:  protocol.Leave{PlayerID: playerID, Name: leaver.Username, Reason: reason},
	})

	if len(r.members) == 0 {
		r.hostID = ""
		r.resetToWaiting(now, false)
		return true
	}

	if r.hostID == playerID {
		next := r.members[idx%len(r.members)]
		r.hostID = next.Id
		r.appendChat(r.systemEntry(fmt.Sprintf("%s is now the host.", next.Username), now))
	}

	if r.phase.Active() && len(r.members) < r.cfg.MinPlayers {
		r.log.Info().Int("members", len(r.members)).Msg("[Leave] too few players, ending game")
		r.finishGame(now, false)
		r.resetToWaiting(now, true)
		return true
	}

	switch {
	case playerID == r.drawerID && r.phase == internal.PhaseCountdown:
		r.log.Info().Str("drawer", playerID).Msg("[Leave] drawer left during countdown, picking another")
		r.startCountdown(now, false)
	case playerID == r.drawerID && r.phase == internal.PhaseDrawing:
		r.endRound(internal.EndDrawerLeft, now)
	case r.phase == internal.PhaseDrawing && r.correctCount > 0 && r.allGuessed():
		r.endRound(internal.EndAllGuessed, now)
	}
	return true
}

// Kick removes target on the host's request. The target is told why before
// the rest of the room sees it leave.
func (r *Room) Kick(hostID, targetID string, now time.Time) error {
	if hostID != r.hostID || hostID == targetID {
		return ErrPermissionDenied
	}
	if r.member(targetID) == nil {
		return ErrNotInRoom
	}
	r.sendTo(targetID, protocol.Message{
		Kind:    protocol.KindError,
		RoomID:  r.id,
		Payload: protocol.Error{Kind: protocol.ErrKindKicked, Message: "removed from the room by the host"},
	})
	r.Leave(targetID, "kicked", now)
	return nil
}

func (r *Room) Rename(playerID, name string) {
	m := r.member(playerID)
	if m == nil || m.Username == name {
		return
	}
	m.Username = name
	r.broadcast(protocol.Message{
		Kind:     protocol.KindJoin,
		SenderID: playerID,
		Payload:  protocol.Join{PlayerID: playerID, Name: name},
	})
}

// ===== Game Flow =====

// StartRound begins a new game on the host's request.
func (r *Room) StartRound(playerID string, now time.Time) error {
	if playerID != r.hostID {
		return ErrPermissionDenied
	}
	if r.phase.Active() {
		return ErrGameInProgress
	}
	if len(r.members) < r.cfg.MinPlayers {
		return fmt.Errorf("%w: %d/%d", ErrNotEnoughPlayers, len(r.members), r.cfg.MinPlayers)
	}

	for _, m := range r.members {
		m.Score = 0
	}
	r.round = 0
	r.roundSettled = 0
	r.events = nil
	r.drawn = make(map[string]bool)
	r.pool.Reset()

	r.log.Info().Int("members", len(r.members)).Int("rounds", r.cfg.Rounds).Msg("[StartRound] game started")
	r.startCountdown(now, true)
	return nil
}

// Tick applies any transition whose deadline has passed.
func (r *Room) Tick(now time.Time) {
	if r.deadline.IsZero() || now.Before(r.deadline) {
		return
	}
	switch r.phase {
	case internal.PhaseCountdown:
		r.startDrawing(now)
	case internal.PhaseDrawing:
		r.endRound(internal.EndTimeout, now)
	case internal.PhaseRoundEnd:
		if r.round >= r.cfg.Rounds {
			r.finishGame(now, true)
			return
		}
		r.startCountdown(now, true)
	case internal.PhaseGameOver:
		r.resetToWaiting(now, true)
	}
}

func (r *Room) startCountdown(now time.Time, nextRound bool) {
	if nextRound {
		r.round++
	}
	r.drawerID = r.nextDrawer()
	r.drawn[r.drawerID] = true
	r.word = internal.Word{}
	r.strokes = nil
	r.eligible = make(map[string]bool)
	r.scored = make(map[string]bool)
	r.correctCount = 0
	r.phase = internal.PhaseCountdown
	r.deadline = now.Add(r.cfg.CountdownDuration)

	r.log.Info().Int("round", r.round).Str("drawer", r.drawerID).Msg("[startCountdown] round scheduled")

	r.broadcast(protocol.Message{Kind: protocol.KindClearCanvas, Payload: protocol.ClearCanvas{}})
	r.broadcast(r.stateMessage("", now))
}

func (r *Room) startDrawing(now time.Time) {
	r.word = r.pool.Next()
	for _, m := range r.members {
		if m.Id != r.drawerID {
			r.eligible[m.Id] = true
		}
	}
	r.phase = internal.PhaseDrawing
	r.deadline = now.Add(r.cfg.RoundDuration)

	r.log.Info().Int("round", r.round).Str("drawer", r.drawerID).Int("guessers", len(r.eligible)).
		Msg("[startDrawing] drawing phase started")

	r.sendTo(r.drawerID, r.stateMessage(r.drawerID, now))
	r.broadcastExcept(r.drawerID, r.stateMessage("", now))
}

// endRound settles the current drawing phase once per round number.
func (r *Room) endRound(reason internal.RoundEndReason, now time.Time) {
	if r.phase != internal.PhaseDrawing || r.roundSettled == r.round {
		return
	}
	r.roundSettled = r.round
	r.phase = internal.PhaseRoundEnd
	r.drawerID = ""
	r.deadline = now.Add(r.cfg.RoundEndDuration)

	r.log.Info().Int("round", r.round).Str("reason", string(reason)).Int("correct", r.correctCount).
		Msg("[endRound] round over")

	update := r.stateMessage("", now)
	state := update.Payload.(protocol.RoundStateUpdate)
	state.Reason = reason
	update.Payload = state
	r.broadcast(update)
	r.appendChat(r.systemEntry(fmt.Sprintf("The word was %q.", r.word.Text), now))
}

// finishGame publishes the leaderboard. Complete games are also queued for
// archiving and enter GameOver; partial ones leave the phase to the caller.
func (r *Room) finishGame(now time.Time, complete bool) {
	results := r.finalResults(now)
	r.broadcast(protocol.Message{
		Kind:    protocol.KindGameResult,
		Payload: protocol.GameResult{FinalScores: results.Leaderboard, RoundsPlayed: results.RoundsPlayed},
	})
	if !complete {
		return
	}

	r.results = append(r.results, results)
	r.phase = internal.PhaseGameOver
	r.drawerID = ""
	r.deadline = now.Add(r.cfg.GameOverDuration)
	r.log.Info().Int("rounds", results.RoundsPlayed).Msg("[finishGame] game over")
	r.broadcast(r.stateMessage("", now))
}

func (r *Room) resetToWaiting(now time.Time, announce bool) {
	r.phase = internal.PhaseWaiting
	r.drawerID = ""
	r.word = internal.Word{}
	r.deadline = time.Time{}
	r.eligible = make(map[string]bool)
	r.scored = make(map[string]bool)
	r.correctCount = 0
	if announce {
		r.broadcast(r.stateMessage("", now))
	}
}

// nextDrawer picks the first member in rotation order who has not drawn in
// the current cycle, starting a new cycle when everyone has.
func (r *Room) nextDrawer() string {
	for _, m := range r.members {
		if !r.drawn[m.Id] {
			return m.Id
		}
	}
	r.drawn = make(map[string]bool)
	return r.members[0].Id
}

// ===== Chat & Guesses =====

func (r *Room) Chat(playerID, text string, now time.Time) {
	if r.phase == internal.PhaseDrawing {
		r.Guess(playerID, text, now)
		return
	}
	r.publicChat(playerID, text, now)
}

// Guess checks text against the secret word. Text that matches is never
// shown to anyone but its author unless it scores.
func (r *Room) Guess(playerID, text string, now time.Time) {
	m := r.member(playerID)
	text = trimChat(text)
	if m == nil || text == "" {
		return
	}
	if r.phase != internal.PhaseDrawing {
		r.publicChat(playerID, text, now)
		return
	}

	echo := protocol.Message{
		Kind:     protocol.KindChat,
		SenderID: playerID,
		Payload:  protocol.Chat{Username: m.Username, Text: text},
	}
	knowsWord := playerID == r.drawerID || r.scored[playerID]
	if knowsWord && mentionsWord(text, r.word.Text) {
		r.log.Debug().Str("player", playerID).Msg("[Guess] chat naming the word kept private")
		r.sendTo(playerID, echo)
		return
	}

	if !MatchGuess(text, r.word.Text, r.cfg) {
		r.publicChat(playerID, text, now)
		return
	}

	if knowsWord || !r.eligible[playerID] {
		r.log.Debug().Str("player", playerID).Msg("[Guess] matching text from non-scoring player kept private")
		r.sendTo(playerID, echo)
		return
	}

	r.scored[playerID] = true
	r.correctCount++
	points, reason := CalculateGuessPoints(r.correctCount, r.cfg)

	r.log.Info().Str("player", playerID).Int("position", r.correctCount).Int("points", points).
		Msg("[Guess] correct guess")

	r.sendTo(playerID, echo)
	entry := r.systemEntry(fmt.Sprintf("%s guessed the word!", m.Username), now)
	entry.PlayerID = playerID
	r.appendChat(entry)

	r.award(m, points, reason, now)
	if drawer := r.member(r.drawerID); drawer != nil {
		r.award(drawer, r.cfg.DrawerPoints, internal.ReasonDrawerBonus, now)
	}

	if r.allGuessed() {
		r.endRound(internal.EndAllGuessed, now)
	}
}

func (r *Room) award(p *internal.Player, delta int, reason internal.ScoreReason, now time.Time) {
	if delta <= 0 {
		return
	}
	p.Score += delta
	r.events = append(r.events, internal.ScoreEvent{
		PlayerID: p.Id,
		Delta:    delta,
		Reason:   reason,
		Round:    r.round,
		At:       now,
	})
	r.broadcast(protocol.Message{
		Kind: protocol.KindScoreUpdate,
		Payload: protocol.ScoreUpdate{
			PlayerID: p.Id,
			NewScore: p.Score,
			Delta:    delta,
			Reason:   reason,
		},
	})
}

// allGuessed reports whether every eligible guesser still present has scored.
func (r *Room) allGuessed() bool {
	for id := range r.eligible {
		if r.member(id) != nil && !r.scored[id] {
			return false
		}
	}
	return true
}

func (r *Room) publicChat(playerID, text string, now time.Time) {
	m := r.member(playerID)
	text = trimChat(text)
	if m == nil || text == "" {
		return
	}
	entry := internal.ChatEntry{PlayerID: playerID, Username: m.Username, Text: text, Timestamp: now}
	r.appendChat(entry)
}

func (r *Room) appendChat(entry internal.ChatEntry) {
	r.chat = append(r.chat, entry)
	if over := len(r.chat) - ChatHistorySize; over > 0 {
		r.chat = slices.Delete(r.chat, 0, over)
	}
	r.broadcast(protocol.Message{
		Kind:     protocol.KindChat,
		SenderID: entry.PlayerID,
		Payload:  protocol.Chat{Username: entry.Username, Text: entry.Text, System: entry.System},
	})
}

func (r *Room) systemEntry(text string, now time.Time) internal.ChatEntry {
	return internal.ChatEntry{Text: text, System: true, Timestamp: now}
}

func (r *Room) systemChat(text string) protocol.Message {
	return protocol.Message{
		Kind:    protocol.KindChat,
		RoomID:  r.id,
		Payload: protocol.Chat{Text: text, System: true},
	}
}

func trimChat(text string) string {
	runes := []rune(text)
	if len(runes) > internal.MaxChatLength {
		runes = runes[:internal.MaxChatLength]
	}
	return string(runes)
}

// ===== State Snapshots =====

// stateMessage describes the current phase as seen by viewer. Only the
// drawer sees the word while drawing; everyone sees it at round end.
func (r *Room) stateMessage(viewer string, now time.Time) protocol.Message {
	state := protocol.RoundStateUpdate{
		State:       r.phase,
		DrawerID:    r.drawerID,
		RoundNumber: r.round,
		TotalRounds: r.cfg.Rounds,
	}
	if !r.deadline.IsZero() {
		state.TimeRemainingMs = max(r.deadline.Sub(now), 0).Milliseconds()
	}

	switch r.phase {
	case internal.PhaseDrawing:
		state.Category = r.word.Category
		state.WordLength = utils.LetterCount(r.word.Text)
		if viewer != "" && viewer == r.drawerID {
			state.Word = r.word.Text
		} else {
			state.MaskedWord = utils.GetMaskedWord(r.word.Text)
		}
	case internal.PhaseRoundEnd:
		state.Word = r.word.Text
		state.Category = r.word.Category
		state.WordLength = utils.LetterCount(r.word.Text)
	}

	return protocol.Message{Kind: protocol.KindRoundStateUpdate, RoomID: r.id, Payload: state}
}

func (r *Room) snapshotMessage(viewer string, now time.Time) protocol.Message {
	state := r.stateMessage(viewer, now).Payload.(protocol.RoundStateUpdate)
	return protocol.Message{
		Kind:   protocol.KindRoomSnapshot,
		RoomID: r.id,
		Payload: protocol.RoomSnapshot{
			RoomID:   r.id,
			Name:     r.name,
			HostID:   r.hostID,
			Members:  r.Members(),
			State:    state,
			Chat:     slices.Clone(r.chat),
			CanGuess: r.phase == internal.PhaseDrawing && r.eligible[viewer] && !r.scored[viewer],
		},
	}
}

// ===== Delivery =====

func (r *Room) member(playerID string) *internal.Player {
	for _, m := range r.members {
		if m.Id == playerID {
			return m
		}
	}
	return nil
}

func (r *Room) memberIDs(except string) []string {
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.Id != except {
			ids = append(ids, m.Id)
		}
	}
	return ids
}

func (r *Room) broadcast(msg protocol.Message) {
	r.broadcastExcept("", msg)
}

func (r *Room) broadcastExcept(except string, msg protocol.Message) {
	to := r.memberIDs(except)
	if len(to) == 0 {
		return
	}
	msg.RoomID = r.id
	r.pending = append(r.pending, Envelope{To: to, Msg: msg})
}

func (r *Room) sendTo(playerID string, msg protocol.Message) {
	msg.RoomID = r.id
	r.pending = append(r.pending, Envelope{To: []string{playerID}, Msg: msg})
}

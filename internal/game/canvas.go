package game

import (
	"fmt"
	"time"

	"github.com/scythe504/drawguess/internal"
	"github.com/scythe504/drawguess/internal/protocol"
)

// =============================================================================
// DRAWING SYSTEM
// =============================================================================

// Stroke records a drawer's stroke and relays it to everyone else. Strokes
// from anyone but the current drawer are refused with ErrPermissionDenied.
func (r *Room) Stroke(playerID string, stroke internal.Stroke, now time.Time) error {
	if err := r.canDraw(playerID); err != nil {
		return err
	}

	clean, err := stroke.Sanitize()
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	if len(r.strokes) >= MaxStrokesPerRound {
		r.log.Warn().Str("player", playerID).Int("strokes", len(r.strokes)).Msg("[Stroke] stroke limit reached, dropping")
		return nil
	}

	r.strokes = append(r.strokes, clean)
	r.broadcastExcept(playerID, protocol.Message{
		Kind:     protocol.KindStroke,
		SenderID: playerID,
		Payload:  clean,
	})
	return nil
}

// ClearCanvas empties the stroke list on the drawer's request.
func (r *Room) ClearCanvas(playerID string, now time.Time) error {
	if err := r.canDraw(playerID); err != nil {
		return err
	}

	r.log.Debug().Str("player", playerID).Int("strokes", len(r.strokes)).Msg("[ClearCanvas] canvas cleared")
	r.strokes = nil
	r.broadcastExcept(playerID, protocol.Message{
		Kind:     protocol.KindClearCanvas,
		SenderID: playerID,
		Payload:  protocol.ClearCanvas{},
	})
	return nil
}

func (r *Room) canDraw(playerID string) error {
	if r.phase != internal.PhaseDrawing {
		return fmt.Errorf("%w: not drawing (phase=%s)", ErrPermissionDenied, r.phase)
	}
	if playerID != r.drawerID {
		return fmt.Errorf("%w: %s is not the drawer", ErrPermissionDenied, playerID)
	}
	return nil
}

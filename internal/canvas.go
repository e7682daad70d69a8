package internal

import (
	"errors"
	"fmt"
	"math"
	"regexp"
)

// Coordinates are normalized to the unit square so clients with different
// canvas sizes agree on positions.
const (
	MaxStrokePoints = 512
	MinStrokeWidth  = 1
	MaxStrokeWidth  = 64
	DefaultColor    = "#000000"
)

var (
	ErrEmptyStroke   = errors.New("stroke has no points")
	ErrStrokeTooLong = errors.New("stroke has too many points")
	ErrBadColor      = errors.New("stroke color must be #rrggbb")

	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Tool struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
	Erase bool    `json:"erase"`
}

type Stroke struct {
	Points []Point `json:"points"`
	Tool
}

// Sanitize clamps points and width into range and fills a default color.
// It rejects strokes that cannot be drawn at all.
func (s Stroke) Sanitize() (Stroke, error) {
	if len(s.Points) == 0 {
		return s, ErrEmptyStroke
	}
	if len(s.Points) > MaxStrokePoints {
		return s, fmt.Errorf("%w: %d > %d", ErrStrokeTooLong, len(s.Points), MaxStrokePoints)
	}
	if s.Color == "" {
		s.Color = DefaultColor
	}
	if !colorPattern.MatchString(s.Color) {
		return s, fmt.Errorf("%w: %q", ErrBadColor, s.Color)
	}

	points := make([]Point, len(s.Points))
	for i, p := range s.Points {
		points[i] = Point{X: clampUnit(p.X), Y: clampUnit(p.Y)}
	}
	s.Points = points
	s.Width = math.Min(math.Max(s.Width, MinStrokeWidth), MaxStrokeWidth)
	return s, nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

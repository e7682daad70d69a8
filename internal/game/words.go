package game

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/scythe504/drawguess/internal"
)

// WordSource supplies candidate words for a category; an empty category
// means any word.
type WordSource interface {
	Words(ctx context.Context, category string) ([]internal.Word, error)
}

// StaticWords serves a fixed list, such as one read from a words file.
type StaticWords []internal.Word

func (s StaticWords) Words(_ context.Context, category string) ([]internal.Word, error) {
	if category == "" {
		return s, nil
	}
	var out []internal.Word
	for _, w := range s {
		if strings.EqualFold(w.Category, category) {
			out = append(out, w)
		}
	}
	return out, nil
}

// DefaultWords is used when no other source yields anything.
var DefaultWords = StaticWords{
	{Text: "apple", Category: "food"},
	{Text: "banana", Category: "food"},
	{Text: "pizza", Category: "food"},
	{Text: "ice cream", Category: "food"},
	{Text: "sandwich", Category: "food"},
	{Text: "carrot", Category: "food"},
	{Text: "cat", Category: "animals"},
	{Text: "elephant", Category: "animals"},
	{Text: "giraffe", Category: "animals"},
	{Text: "penguin", Category: "animals"},
	{Text: "octopus", Category: "animals"},
	{Text: "snail", Category: "animals"},
	{Text: "house", Category: "places"},
	{Text: "castle", Category: "places"},
	{Text: "lighthouse", Category: "places"},
	{Text: "volcano", Category: "places"},
	{Text: "island", Category: "places"},
	{Text: "bridge", Category: "places"},
	{Text: "bicycle", Category: "things"},
	{Text: "umbrella", Category: "things"},
	{Text: "guitar", Category: "things"},
	{Text: "scissors", Category: "things"},
	{Text: "telescope", Category: "things"},
	{Text: "kite", Category: "things"},
	{Text: "rocket", Category: "things"},
	{Text: "candle", Category: "things"},
	{Text: "sun", Category: "nature"},
	{Text: "rainbow", Category: "nature"},
	{Text: "tree", Category: "nature"},
	{Text: "mountain", Category: "nature"},
	{Text: "snowman", Category: "nature"},
	{Text: "flower", Category: "nature"},
}

// WordPool hands out a game's words without replacement. When it runs dry
// it reshuffles the full list, never repeating the last word first.
type WordPool struct {
	words []internal.Word
	queue []internal.Word
	last  string
	rng   *rand.Rand
}

func NewWordPool(words []internal.Word, rng *rand.Rand) *WordPool {
	if len(words) == 0 {
		words = DefaultWords
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &WordPool{words: append([]internal.Word(nil), words...), rng: rng}
}

// WordsFromStrings wraps plain words supplied in a room config.
func WordsFromStrings(texts []string, category string) []internal.Word {
	out := make([]internal.Word, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, internal.Word{Text: t, Category: category})
		}
	}
	return out
}

func (p *WordPool) Next() internal.Word {
	if len(p.queue) == 0 {
		p.refill()
	}
	w := p.queue[0]
	p.queue = p.queue[1:]
	p.last = w.Text
	return w
}

// Reset starts a fresh cycle for a new game.
func (p *WordPool) Reset() {
	p.queue = nil
}

func (p *WordPool) Size() int { return len(p.words) }

// Remaining is the number of words left before the next reshuffle.
func (p *WordPool) Remaining() int { return len(p.queue) }

func (p *WordPool) refill() {
	p.queue = append(p.queue[:0], p.words...)
	p.rng.Shuffle(len(p.queue), func(i, j int) {
		p.queue[i], p.queue[j] = p.queue[j], p.queue[i]
	})
	if len(p.queue) > 1 && p.queue[0].Text == p.last {
		n := len(p.queue) - 1
		p.queue[0], p.queue[n] = p.queue[n], p.queue[0]
	}
}

// Package motion picks the Ken Burns pan/zoom parameters for each beat.
package motion

import (
	"math/rand"
	"sync"
	"time"

	"github.com/bobarin/storyreel/internal/models"
)

// ScaleSet is the pool of zoom factors, from no zoom to a 30% push-in.
var ScaleSet = []float64{1.0, 1.1, 1.2, 1.3}

// OffsetSet is the pool of pan offsets as fractions of the frame size.
var OffsetSet = []float64{0, 0.1, 0.2, -0.1, -0.2}

// Source is the random choice strategy. *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// Generator draws MotionEffects from ScaleSet and OffsetSet. It is safe for
// concurrent use.
type Generator struct {
	mu  sync.Mutex
	src Source
}

// NewGenerator uses src, or a time-seeded source when src is nil.
func NewGenerator(src Source) *Generator {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{src: src}
}

// NewSeeded returns a reproducible generator.
func NewSeeded(seed int64) *Generator {
	return NewGenerator(rand.New(rand.NewSource(seed)))
}

// Next draws one effect. Start and end scale are independent and may be
// equal, which yields a pure pan.
func (g *Generator) Next() models.MotionEffect {
	g.mu.Lock()
	defer g.mu.Unlock()

	return models.MotionEffect{
		StartScale: g.pick(ScaleSet),
		EndScale:   g.pick(ScaleSet),
		StartX:     g.pick(OffsetSet),
		StartY:     g.pick(OffsetSet),
		EndX:       g.pick(OffsetSet),
		EndY:       g.pick(OffsetSet),
	}
}

// Sequence draws n effects in beat order.
func (g *Generator) Sequence(n int) []models.MotionEffect {
	if n <= 0 {
		return nil
	}
	out := make([]models.MotionEffect, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

func (g *Generator) pick(set []float64) float64 {
	return set[g.src.Intn(len(set))]
}

// InDomain reports whether every field of e comes from the known sets.
func InDomain(e models.MotionEffect) bool {
	return member(ScaleSet, e.StartScale) && member(ScaleSet, e.EndScale) &&
		member(OffsetSet, e.StartX) && member(OffsetSet, e.StartY) &&
		member(OffsetSet, e.EndX) && member(OffsetSet, e.EndY)
}

func member(set []float64, v float64) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

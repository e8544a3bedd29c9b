package hub

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"tickrelay/internal/hub/protocol"
)

const (
	DefaultSeedPrice   = 100.0
	DefaultSeedPoints  = 30
	DefaultSeedSpacing = time.Second
	seedJitter         = 0.001
)

// Seeder fabricates a short random walk so a chart has something to draw
// before enough real ticks exist. Seeded points never enter the store.
type Seeder struct {
	points  int
	spacing time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeder creates a seeder producing points samples spaced by spacing.
// A nil rng uses a randomly seeded source.
func NewSeeder(points int, spacing time.Duration, rng *rand.Rand) *Seeder {
	if points <= 0 {
		points = DefaultSeedPoints
	}
	if spacing <= 0 {
		spacing = DefaultSeedSpacing
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Seeder{points: points, spacing: spacing, rng: rng}
}

// Series returns the walk starting from base, ascending in time, with the
// final point at now.
func (s *Seeder) Series(base float64, now time.Time) []protocol.Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Point, 0, s.points)
	p := base
	for i := s.points - 1; i >= 0; i-- {
		next := round2(p * (1 + (s.rng.Float64()-0.5)*seedJitter))
		if next > 0 {
			p = next
		}
		out = append(out, protocol.Point{
			T:     now.Add(-time.Duration(i) * s.spacing).UnixMilli(),
			Price: p,
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package reconciler

import (
	"sort"
	"sync"
)

// Book holds one Series per observed symbol. Updates to a symbol are applied
// in call order; readers get copies.
type Book struct {
	mu     sync.Mutex
	series map[string]*Series
}

func NewBook() *Book {
	return &Book{series: make(map[string]*Series)}
}

func (b *Book) get(symbol string) *Series {
	s, ok := b.series[symbol]
	if !ok {
		s = &Series{}
		b.series[symbol] = s
	}
	return s
}

func (b *Book) ApplySnapshot(symbol string, samples []Sample) Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(symbol).ApplySnapshot(samples)
}

func (b *Book) ApplyTick(symbol string, t, price float64) Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(symbol).ApplyTick(t, price)
}

// Points returns a copy of symbol's series, or nil when it is not observed.
func (b *Book) Points(symbol string) []Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.series[symbol]
	if !ok {
		return nil
	}
	return s.Points()
}

// Last returns the newest point for symbol.
func (b *Book) Last(symbol string) (Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.series[symbol]
	if !ok || len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Drop discards symbol's series when observation ends.
func (b *Book) Drop(symbol string) {
	b.mu.Lock()
	delete(b.series, symbol)
	b.mu.Unlock()
}

// Symbols returns the observed symbols, sorted.
func (b *Book) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.series))
	for s := range b.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

package memorystore

import (
	"sort"
	"sync"
)

// MemorySymbolStore is a concurrency-safe set of symbols.
type MemorySymbolStore struct {
	mu      sync.Mutex
	symbols map[string]struct{}
}

func NewSymbolStore(symbols ...string) *MemorySymbolStore {
	s := &MemorySymbolStore{
		symbols: make(map[string]struct{}, len(symbols)),
	}
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
	return s
}

// Add inserts symbol and reports whether it was newly added.
func (s *MemorySymbolStore) Add(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; ok {
		return false
	}
	s.symbols[symbol] = struct{}{}
	return true
}

// Remove deletes symbol and reports whether it was present.
func (s *MemorySymbolStore) Remove(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; !ok {
		return false
	}
	delete(s.symbols, symbol)
	return true
}

func (s *MemorySymbolStore) Has(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.symbols[symbol]
	return ok
}

// GetAll returns a sorted copy of the set.
func (s *MemorySymbolStore) GetAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

package graph

import (
	"errors"
	"fmt"
	"sync"
)

var ErrOutputExists = errors.New("output already set")

// OutputSet maps keys (feature names or cross keys) to the node holding
// their final per-feature value. Keys are written once; Replace is the only
// way to overwrite an entry.
type OutputSet struct {
	mu      sync.Mutex
	entries map[string]*Node
	order   []string
}

func NewOutputSet() *OutputSet {
	return &OutputSet{entries: map[string]*Node{}}
}

func (s *OutputSet) Set(key string, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrOutputExists, key)
	}
	s.entries[key] = n
	s.order = append(s.order, key)
	return nil
}

// Replace sets key, keeping its original position when it already exists.
func (s *OutputSet) Replace(key string, n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		s.order = append(s.order, key)
	}
	s.entries[key] = n
}

func (s *OutputSet) Get(key string) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entries[key]
	return n, ok
}

// Keys returns the keys in insertion order.
func (s *OutputSet) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *OutputSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *OutputSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]*Node{}
	s.order = nil
}

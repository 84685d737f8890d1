package processor

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"tabprep/pkg/graph"
)

// memo deduplicates the pipeline of a feature within one build. Concurrent
// requests for the same feature share a single construction.
type memo struct {
	enabled bool
	group   singleflight.Group

	mu    sync.Mutex
	nodes map[string]*graph.Node
}

func (m *memo) do(key string, build func() (*graph.Node, error)) (*graph.Node, error) {
	if !m.enabled {
		return build()
	}
	m.mu.Lock()
	n, ok := m.nodes[key]
	m.mu.Unlock()
	if ok {
		return n, nil
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		n, err := build()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.nodes == nil {
			m.nodes = map[string]*graph.Node{}
		}
		m.nodes[key] = n
		m.mu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.Node), nil
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}

func (m *memo) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = nil
}

// timed logs how long the enclosing call took once the returned function
// runs.
func timed(log logr.Logger, what string) func() {
	start := time.Now()
	return func() {
		log.V(1).Info("Finished "+what, "elapsed", time.Since(start).String())
	}
}

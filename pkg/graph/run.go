package graph

import (
	"fmt"
	"sort"

	"tabprep/pkg/tensor"
)

// Order returns the nodes needed to compute outputs in a deterministic
// topological order (Kahn's algorithm, ties broken by creation order).
// Without outputs it orders the whole graph.
func (g *Graph) Order(outputs ...*Node) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	needed := map[*Node]bool{}
	if len(outputs) == 0 {
		for _, n := range g.nodes {
			needed[n] = true
		}
	}
	var mark func(n *Node) error
	mark = func(n *Node) error {
		if needed[n] {
			return nil
		}
		if n == nil || g.byName[n.name] != n {
			return fmt.Errorf("%w: %v", ErrNodeNotFound, n)
		}
		needed[n] = true
		for _, in := range n.inputs {
			if err := mark(in); err != nil {
				return err
			}
		}
		return nil
	}
	for _, out := range outputs {
		if err := mark(out); err != nil {
			return nil, err
		}
	}

	inDegree := make(map[*Node]int, len(needed))
	children := make(map[*Node][]*Node, len(needed))
	for n := range needed {
		inDegree[n] = len(n.inputs)
		for _, in := range n.inputs {
			children[in] = append(children[in], n)
		}
	}

	queue := make([]*Node, 0, len(needed))
	for n, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, n)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].id < queue[j].id })

	result := make([]*Node, 0, len(needed))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		result = append(result, n)
		for _, child := range children[n] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = insertSorted(queue, child)
			}
		}
	}
	if len(result) != len(needed) {
		return nil, fmt.Errorf("%w: ordered %d of %d nodes", ErrCycleDetected, len(result), len(needed))
	}
	return result, nil
}

func insertSorted(queue []*Node, n *Node) []*Node {
	idx := sort.Search(len(queue), func(i int) bool { return queue[i].id >= n.id })
	queue = append(queue, nil)
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = n
	return queue
}

// Run evaluates outputs on a concrete batch. feeds maps input names to
// values; every input reachable from outputs must be fed, and all feeds must
// share one batch size.
func (g *Graph) Run(feeds map[string]*tensor.Value, outputs ...*Node) ([]*tensor.Value, error) {
	order, err := g.Order(outputs...)
	if err != nil {
		return nil, err
	}

	rows := -1
	values := make(map[*Node]*tensor.Value, len(order))
	for _, n := range order {
		if n.IsInput() {
			v, ok := feeds[n.name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrMissingFeed, n.name)
			}
			if err := checkFeed(n, v); err != nil {
				return nil, err
			}
			if rows >= 0 && v.Rows() != rows {
				return nil, fmt.Errorf("%w: input %s has %d rows, expected %d", tensor.ErrShapeMismatch, n.name, v.Rows(), rows)
			}
			rows = v.Rows()
			values[n] = v
			continue
		}

		args := make([]*tensor.Value, len(n.inputs))
		for i, in := range n.inputs {
			args[i] = values[in]
		}
		out, err := n.layer.Call(args...)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", n.name, err)
		}
		if err := out.Validate(); err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", n.name, err)
		}
		values[n] = out
	}

	results := make([]*tensor.Value, len(outputs))
	for i, out := range outputs {
		results[i] = values[out]
	}
	return results, nil
}

func checkFeed(n *Node, v *tensor.Value) error {
	if v == nil {
		return fmt.Errorf("%w: %s", ErrMissingFeed, n.name)
	}
	if v.DType != n.spec.DType {
		return fmt.Errorf("%w: input %s expects %s, got %s", tensor.ErrDTypeMismatch, n.name, n.spec.DType, v.DType)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("input %s: %w", n.name, err)
	}
	if want := n.spec.Width(); want >= 0 && v.RowWidth() != want {
		return fmt.Errorf("%w: input %s expects %s, got shape %v", tensor.ErrShapeMismatch, n.name, n.spec, v.Shape)
	}
	return nil
}

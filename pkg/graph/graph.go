// Package graph holds the symbolic preprocessing graph: named input
// placeholders and layer applications connected by typed edges.
//
// Every Apply call checks the layer's output type against its inputs, so a
// graph that was assembled without error is shape and dtype consistent. The
// graph is safe for concurrent construction; the nodes themselves never change
// after they are created.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"tabprep/pkg/layers"
	"tabprep/pkg/tensor"
)

var (
	ErrNodeAlreadyExists = errors.New("node already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrInputConflict     = errors.New("input redeclared with a different type")
	ErrCycleDetected     = errors.New("cycle detected in graph")
	ErrMissingFeed       = errors.New("missing value for input")
)

// Node is either an input placeholder (Layer is nil) or the application of a
// layer to earlier nodes.
type Node struct {
	id     int
	name   string
	spec   tensor.Spec
	layer  layers.Layer
	inputs []*Node
}

func (n *Node) Name() string {
	return n.name
}

// Spec is the static type of the value the node produces.
func (n *Node) Spec() tensor.Spec {
	return n.spec
}

func (n *Node) Layer() layers.Layer {
	return n.layer
}

func (n *Node) Inputs() []*Node {
	return n.inputs
}

func (n *Node) IsInput() bool {
	return n.layer == nil
}

func (n *Node) String() string {
	return fmt.Sprintf("%s:%s", n.name, n.spec)
}

type Graph struct {
	registry *layers.Registry

	mu     sync.RWMutex
	nodes  []*Node
	byName map[string]*Node
	// names handed out to Apply calls whose layer is still being built
	reserved map[string]struct{}
}

// New creates an empty graph that instantiates layers from registry, or
// from layers.Default when registry is nil.
func New(registry *layers.Registry) *Graph {
	if registry == nil {
		registry = layers.Default
	}
	return &Graph{registry: registry, byName: map[string]*Node{}, reserved: map[string]struct{}{}}
}

func (g *Graph) Registry() *layers.Registry {
	return g.registry
}

// Input returns the placeholder called name, creating it when missing.
// Asking for an existing placeholder with a different spec is an error.
func (g *Graph) Input(name string, spec tensor.Spec) (*Node, error) {
	if name == "" {
		return nil, errors.New("input name cannot be empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.reserved[name]; ok {
		return nil, fmt.Errorf("%w: %q is not an input", ErrNodeAlreadyExists, name)
	}
	if n, ok := g.byName[name]; ok {
		if !n.IsInput() {
			return nil, fmt.Errorf("%w: %q is not an input", ErrNodeAlreadyExists, name)
		}
		if !sameSpec(n.spec, spec) {
			return nil, fmt.Errorf("%w: %q is %s, requested %s", ErrInputConflict, name, n.spec, spec)
		}
		return n, nil
	}
	return g.add(name, spec, nil, nil), nil
}

// Apply instantiates a layer of the given kind and connects it to inputs.
// The node name is made unique by suffixing a counter when name is taken.
// Only the name is reserved under the graph lock, so layers are constructed
// concurrently.
func (g *Graph) Apply(kind, name string, cfg layers.Config, inputs ...*Node) (*Node, error) {
	g.mu.Lock()
	specs, err := g.inputSpecs(name, inputs)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	name = g.uniqueName(name)
	g.reserved[name] = struct{}{}
	g.mu.Unlock()

	layer, spec, err := g.construct(kind, name, cfg, specs, inputs)

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reserved, name)
	if err != nil {
		return nil, err
	}
	return g.add(name, spec, layer, inputs), nil
}

func (g *Graph) construct(kind, name string, cfg layers.Config, specs []tensor.Spec, inputs []*Node) (layers.Layer, tensor.Spec, error) {
	layer, err := g.registry.New(kind, name, cfg)
	if err != nil {
		return nil, tensor.Spec{}, err
	}
	spec, err := layer.OutputSpec(specs...)
	if err != nil {
		return nil, tensor.Spec{}, fmt.Errorf("applying %s to %v: %w", name, inputs, err)
	}
	return layer, spec, nil
}

// ApplyLayer connects an already constructed layer. Its name must be free.
func (g *Graph) ApplyLayer(layer layers.Layer, inputs ...*Node) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.taken(layer.Name()) {
		return nil, fmt.Errorf("%w: %s", ErrNodeAlreadyExists, layer.Name())
	}
	specs, err := g.inputSpecs(layer.Name(), inputs)
	if err != nil {
		return nil, err
	}
	spec, err := layer.OutputSpec(specs...)
	if err != nil {
		return nil, fmt.Errorf("applying %s to %v: %w", layer.Name(), inputs, err)
	}
	return g.add(layer.Name(), spec, layer, inputs), nil
}

// inputSpecs checks that every input belongs to the graph. Callers hold g.mu.
func (g *Graph) inputSpecs(owner string, inputs []*Node) ([]tensor.Spec, error) {
	specs := make([]tensor.Spec, len(inputs))
	for i, in := range inputs {
		if in == nil || g.byName[in.name] != in {
			return nil, fmt.Errorf("%w: input %d of %s", ErrNodeNotFound, i, owner)
		}
		specs[i] = in.spec
	}
	return specs, nil
}

func (g *Graph) add(name string, spec tensor.Spec, layer layers.Layer, inputs []*Node) *Node {
	n := &Node{
		id:     len(g.nodes),
		name:   name,
		spec:   spec,
		layer:  layer,
		inputs: append([]*Node(nil), inputs...),
	}
	g.nodes = append(g.nodes, n)
	g.byName[name] = n
	return n
}

func (g *Graph) taken(name string) bool {
	if _, ok := g.byName[name]; ok {
		return true
	}
	_, ok := g.reserved[name]
	return ok
}

func (g *Graph) uniqueName(name string) string {
	if !g.taken(name) {
		return name
	}
	for i := 1; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if !g.taken(candidate) {
			return candidate
		}
	}
}

func (g *Graph) Node(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byName[name]
	return n, ok
}

// Nodes returns every node in creation order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Node(nil), g.nodes...)
}

// Inputs returns the placeholders sorted by name.
func (g *Graph) Inputs() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Node
	for _, n := range g.nodes {
		if n.IsInput() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func sameSpec(a, b tensor.Spec) bool {
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

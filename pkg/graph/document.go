package graph

import (
	"fmt"

	"tabprep/pkg/layers"
	"tabprep/pkg/tensor"
)

// Document is the serialisable form of a graph. Nodes are stored in
// topological order and reference their inputs by name.
type Document struct {
	Inputs  []InputDocument `json:"inputs"`
	Nodes   []NodeDocument  `json:"nodes"`
	Outputs []string        `json:"outputs"`
}

type InputDocument struct {
	Name string      `json:"name"`
	Spec tensor.Spec `json:"spec"`
}

type NodeDocument struct {
	Name   string        `json:"name"`
	Kind   string        `json:"kind"`
	Config layers.Config `json:"config"`
	Inputs []string      `json:"inputs"`
}

// Export describes every input placeholder plus the layer nodes needed to
// compute outputs.
func (g *Graph) Export(outputs ...*Node) (*Document, error) {
	order, err := g.Order(outputs...)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	for _, in := range g.Inputs() {
		doc.Inputs = append(doc.Inputs, InputDocument{Name: in.name, Spec: in.spec})
	}
	for _, n := range order {
		if n.IsInput() {
			continue
		}
		inputs := make([]string, len(n.inputs))
		for i, in := range n.inputs {
			inputs[i] = in.name
		}
		doc.Nodes = append(doc.Nodes, NodeDocument{
			Name:   n.name,
			Kind:   n.layer.Kind(),
			Config: n.layer.Config(),
			Inputs: inputs,
		})
	}
	for _, out := range outputs {
		doc.Outputs = append(doc.Outputs, out.name)
	}
	return doc, nil
}

// Import rebuilds a graph from doc, recreating each layer from its kind and
// config. It returns the graph and the output nodes in document order.
func Import(doc *Document, registry *layers.Registry) (*Graph, []*Node, error) {
	g := New(registry)
	for _, in := range doc.Inputs {
		if _, err := g.Input(in.Name, in.Spec); err != nil {
			return nil, nil, err
		}
	}
	for _, nd := range doc.Nodes {
		inputs := make([]*Node, len(nd.Inputs))
		for i, name := range nd.Inputs {
			n, ok := g.Node(name)
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s referenced by %s", ErrNodeNotFound, name, nd.Name)
			}
			inputs[i] = n
		}
		cfg := nd.Config.With("name", nd.Name)
		layer, err := g.registry.FromConfig(nd.Kind, cfg)
		if err != nil {
			return nil, nil, err
		}
		if _, err := g.ApplyLayer(layer, inputs...); err != nil {
			return nil, nil, err
		}
	}
	outputs := make([]*Node, len(doc.Outputs))
	for i, name := range doc.Outputs {
		n, ok := g.Node(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: output %s", ErrNodeNotFound, name)
		}
		outputs[i] = n
	}
	return g, outputs, nil
}

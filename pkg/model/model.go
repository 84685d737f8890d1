package model

import (
	"fmt"

	"tabprep/pkg/graph"
	"tabprep/pkg/tensor"
)

// Output is a named model output.
type Output struct {
	Name string
	Node *graph.Node
}

// Model is a finalized preprocessing graph. In concat mode it has exactly
// one output; in dict mode one output per feature or cross, in order.
type Model struct {
	Graph    *graph.Graph
	Inputs   []*graph.Node
	Outputs  []Output
	Metadata Metadata

	outputIndex NameMap
}

func New(g *graph.Graph, inputs []*graph.Node, outputs []Output, metadata Metadata) *Model {
	index := NewNameMap()
	for i, out := range outputs {
		index.Set(out.Name, i)
	}
	return &Model{Graph: g, Inputs: inputs, Outputs: outputs, Metadata: metadata, outputIndex: index}
}

// Signature maps input names to their static types.
func (m *Model) Signature() map[string]tensor.Spec {
	sig := make(map[string]tensor.Spec, len(m.Inputs))
	for _, in := range m.Inputs {
		sig[in.Name()] = in.Spec()
	}
	return sig
}

func (m *Model) OutputNames() []string {
	return m.outputIndex.Names()
}

// OutputDims returns the per-sample width of every output, in order.
func (m *Model) OutputDims() []int {
	dims := make([]int, len(m.Outputs))
	for i, out := range m.Outputs {
		dims[i] = out.Node.Spec().Width()
	}
	return dims
}

func (m *Model) outputNodes() []*graph.Node {
	nodes := make([]*graph.Node, len(m.Outputs))
	for i, out := range m.Outputs {
		nodes[i] = out.Node
	}
	return nodes
}

// Prediction holds the output values of one batch.
type Prediction struct {
	Values []*tensor.Value
	index  NameMap
}

func (p *Prediction) Names() []string {
	return p.index.Names()
}

func (p *Prediction) Get(name string) (*tensor.Value, bool) {
	i, ok := p.index.ContainsName(name)
	if !ok {
		return nil, false
	}
	return p.Values[i], true
}

func (p *Prediction) Rows() int {
	if len(p.Values) == 0 {
		return 0
	}
	return p.Values[0].Rows()
}

// Predict evaluates the model on one batch of input columns.
func (m *Model) Predict(feeds map[string]*tensor.Value) (*Prediction, error) {
	if len(m.Outputs) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}
	values, err := m.Graph.Run(feeds, m.outputNodes()...)
	if err != nil {
		return nil, err
	}
	return &Prediction{Values: values, index: m.outputIndex}, nil
}

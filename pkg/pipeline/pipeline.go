// Package pipeline assembles ordered chains of layers for one feature.
package pipeline

import (
	"errors"
	"fmt"

	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
)

var ErrEmptyPipeline = errors.New("empty pipeline")

// Step is one layer of a chain: a registry kind, the node name and the
// layer configuration.
type Step struct {
	Kind   string
	Name   string
	Config layers.Config
}

type Pipeline struct {
	name  string
	steps []Step
}

func New(name string) *Pipeline {
	return &Pipeline{name: name}
}

func (p *Pipeline) Name() string {
	return p.name
}

// Add appends a step and returns the pipeline for chaining.
func (p *Pipeline) Add(kind, name string, cfg layers.Config) *Pipeline {
	p.steps = append(p.steps, Step{Kind: kind, Name: name, Config: cfg})
	return p
}

func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Chain applies the steps to g. The first step receives every input, each
// later step the output of the previous one. A pipeline without steps
// passes a single input through unchanged.
func (p *Pipeline) Chain(g *graph.Graph, inputs ...*graph.Node) (*graph.Node, error) {
	if len(p.steps) == 0 {
		if len(inputs) == 1 {
			return inputs[0], nil
		}
		return nil, fmt.Errorf("%w: %s has %d inputs and no steps", ErrEmptyPipeline, p.name, len(inputs))
	}
	current := inputs
	var out *graph.Node
	for i, step := range p.steps {
		n, err := g.Apply(step.Kind, step.Name, step.Config, current...)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s, step %d: %w", p.name, i, err)
		}
		out = n
		current = []*graph.Node{n}
	}
	return out, nil
}

package io

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"

	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
	"tabprep/pkg/model"
)

type modelDocument struct {
	Metadata   model.Metadata  `json:"metadata"`
	Graph      *graph.Document `json:"graph"`
	InputNames []string        `json:"input_names"`
	// OutputNames are the model output names, parallel to Graph.Outputs.
	OutputNames []string `json:"output_names"`
}

func SaveModel(m *model.Model, writer io.Writer) error {
	outputs := make([]*graph.Node, len(m.Outputs))
	for i, out := range m.Outputs {
		outputs[i] = out.Node
	}
	doc, err := m.Graph.Export(outputs...)
	if err != nil {
		return fmt.Errorf("error exporting graph: %w", err)
	}
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	inputs := make([]string, len(m.Inputs))
	for i, in := range m.Inputs {
		inputs[i] = in.Name()
	}
	err = encoder.Encode(modelDocument{Metadata: m.Metadata, Graph: doc, InputNames: inputs, OutputNames: m.OutputNames()})
	if err != nil {
		return fmt.Errorf("error encoding model: %w", err)
	}
	return nil
}

// LoadModel rebuilds the graph through registry, or layers.Default when
// registry is nil. The metadata comes back as saved.
func LoadModel(input io.Reader, registry *layers.Registry) (*model.Model, error) {
	var doc modelDocument
	if err := json.NewDecoder(input).Decode(&doc); err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	if doc.Graph == nil {
		return nil, fmt.Errorf("error decoding model: no graph")
	}
	g, outputNodes, err := graph.Import(doc.Graph, registry)
	if err != nil {
		return nil, fmt.Errorf("error rebuilding graph: %w", err)
	}
	if len(doc.OutputNames) != len(outputNodes) {
		return nil, fmt.Errorf("error decoding model: %d output names for %d outputs", len(doc.OutputNames), len(outputNodes))
	}
	outputs := make([]model.Output, len(outputNodes))
	for i, n := range outputNodes {
		outputs[i] = model.Output{Name: doc.OutputNames[i], Node: n}
	}
	inputs := make([]*graph.Node, len(doc.InputNames))
	for i, name := range doc.InputNames {
		n, ok := g.Node(name)
		if !ok || !n.IsInput() {
			return nil, fmt.Errorf("error decoding model: %w: input %s", graph.ErrNodeNotFound, name)
		}
		inputs[i] = n
	}
	return model.New(g, inputs, outputs, doc.Metadata), nil
}

func SaveModelFile(m *model.Model, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating model file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return SaveModel(m, f)
}

func LoadModelFile(path string, registry *layers.Registry) (m *model.Model, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening model file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return LoadModel(f, registry)
}

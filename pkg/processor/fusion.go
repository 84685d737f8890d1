package processor

import (
	"fmt"

	"tabprep/pkg/graph"
	"tabprep/pkg/layers"
	"tabprep/pkg/model"
)

// ordered returns the entries of set in declaration order followed by the
// crosses in declaration order.
func (a *assembly) ordered(set *graph.OutputSet) ([]string, []*graph.Node) {
	var keys []string
	var nodes []*graph.Node
	seen := map[string]bool{}
	add := func(key string) {
		if seen[key] {
			return
		}
		if n, ok := set.Get(key); ok {
			seen[key] = true
			keys = append(keys, key)
			nodes = append(nodes, n)
		}
	}
	for _, name := range a.p.space.Names() {
		add(name)
	}
	for _, c := range a.p.crosses {
		add(c.Key())
	}
	return keys, nodes
}

func (a *assembly) fuse() ([]model.Output, error) {
	defer timed(a.p.log, "fusion")()
	if a.p.mode == OutputDict {
		return a.fuseDict()
	}
	out, err := a.fuseConcat()
	if err != nil {
		return nil, err
	}
	return []model.Output{{Name: out.Name(), Node: out}}, nil
}

// fuseDict keeps one output per feature or cross. Transformer blocks only
// apply to the concatenated representation.
func (a *assembly) fuseDict() ([]model.Output, error) {
	if a.p.transformer.Blocks > 0 {
		a.p.log.V(1).Info("Ignoring transformer blocks in dict mode", "blocks", a.p.transformer.Blocks)
	}
	merged := graph.NewOutputSet()
	for _, set := range []*graph.OutputSet{a.plainOutputs, a.categoricalOutputs} {
		for _, key := range set.Keys() {
			n, _ := set.Get(key)
			merged.Replace(key, n)
		}
	}
	keys, nodes := a.ordered(merged)
	if len(keys) == 0 {
		return nil, ErrNoOutputs
	}
	outputs := make([]model.Output, len(keys))
	for i := range keys {
		outputs[i] = model.Output{Name: keys[i], Node: nodes[i]}
	}
	return outputs, nil
}

func (a *assembly) fuseConcat() (*graph.Node, error) {
	plainKeys, plain := a.ordered(a.plainOutputs)
	for i, n := range plain {
		if rank := n.Spec().Rank(); rank == 2 || rank == 4 {
			reshaped, err := a.graph.Apply(layers.KindReshape, "reshape_"+plainKeys[i],
				layers.Config{"target_shape": []int{-1}}, n)
			if err != nil {
				return nil, err
			}
			plain[i] = reshaped
		}
	}
	_, categorical := a.ordered(a.categoricalOutputs)

	plainBlock, err := a.concatenate("ConcatenateNumeric", plain)
	if err != nil {
		return nil, err
	}
	categoricalBlock, err := a.concatenate("ConcatenateCategorical", categorical)
	if err != nil {
		return nil, err
	}

	var fused *graph.Node
	switch {
	case plainBlock != nil && categoricalBlock != nil:
		if fused, err = a.concatenate("ConcatenateAll", []*graph.Node{plainBlock, categoricalBlock}); err != nil {
			return nil, err
		}
	case plainBlock != nil:
		fused = plainBlock
	case categoricalBlock != nil:
		fused = categoricalBlock
	default:
		return nil, ErrNoOutputs
	}

	t := a.p.transformer
	if t.Blocks <= 0 {
		return fused, nil
	}
	if t.Placement == PlacementCategorical && categoricalBlock != nil {
		attended, err := a.transformerBlocks(categoricalBlock)
		if err != nil {
			return nil, err
		}
		if plainBlock == nil {
			return attended, nil
		}
		return a.concatenate("ConcatenateTransformed", []*graph.Node{plainBlock, attended})
	}
	return a.transformerBlocks(fused)
}

// concatenate joins nodes along the feature axis and returns nil when there
// is nothing to join.
func (a *assembly) concatenate(name string, nodes []*graph.Node) (*graph.Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	return a.graph.Apply(layers.KindConcatenate, name, layers.Config{"axis": -1}, nodes...)
}

func (a *assembly) transformerBlocks(x *graph.Node) (*graph.Node, error) {
	t := a.p.transformer
	for i := 0; i < t.Blocks; i++ {
		next, err := a.graph.Apply(layers.KindTransformerBlock,
			fmt.Sprintf("transformer_block_%d_%dheads", i, t.Heads),
			layers.Config{
				"dim_model":    x.Spec().Width(),
				"num_heads":    t.Heads,
				"ff_units":     t.FFUnits,
				"dropout_rate": t.Dropout,
			}, x)
		if err != nil {
			return nil, err
		}
		x = next
	}
	return x, nil
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sbinet/npyio"
)

// Graph holds per-node phishing probabilities from the offline graph model
// together with the post-id to node-index mapping. A nil Graph has no entries.
type Graph struct {
	probs []float64
	index map[string]int
}

// NewGraph validates probabilities and builds a lookup table. Mapped indices
// outside the probability array are kept and resolve as unmapped.
func NewGraph(probs []float64, index map[string]int) (*Graph, error) {
	for i, p := range probs {
		if !finite(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("graph probability %d is %v, want a value in [0,1]", i, p)
		}
	}
	idx := make(map[string]int, len(index))
	for k, v := range index {
		idx[k] = v
	}
	return &Graph{probs: append([]float64(nil), probs...), index: idx}, nil
}

// Lookup returns the probability for postID when it maps to a node.
func (g *Graph) Lookup(postID string) (float64, bool) {
	if g == nil || postID == "" {
		return 0, false
	}
	i, ok := g.index[postID]
	if !ok || i < 0 || i >= len(g.probs) {
		return 0, false
	}
	return g.probs[i], true
}

// Nodes returns the number of node probabilities.
func (g *Graph) Nodes() int {
	if g == nil {
		return 0
	}
	return len(g.probs)
}

// Mapped returns the number of post ids in the mapping.
func (g *Graph) Mapped() int {
	if g == nil {
		return 0
	}
	return len(g.index)
}

// ReadProbabilities decodes a NumPy array of node probabilities. One
// dimensional arrays and (N,1) columns are read as-is; for (N,2) the second
// column, the phishing class, is used.
func ReadProbabilities(r io.Reader) ([]float64, error) {
	rd, err := npyio.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header: %w", err)
	}

	var flat []float64
	switch rd.Header.Descr.Type {
	case "<f8", "f8", "float64":
		if err := rd.Read(&flat); err != nil {
			return nil, fmt.Errorf("failed to read npy data: %w", err)
		}
	case "<f4", "f4", "float32":
		var f32 []float32
		if err := rd.Read(&f32); err != nil {
			return nil, fmt.Errorf("failed to read npy data: %w", err)
		}
		flat = make([]float64, len(f32))
		for i, v := range f32 {
			flat[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("unsupported npy dtype %q", rd.Header.Descr.Type)
	}

	shape := rd.Header.Descr.Shape
	switch {
	case len(shape) <= 1:
		return flat, nil
	case len(shape) == 2 && shape[1] == 1:
		return flat, nil
	case len(shape) == 2 && shape[1] == 2 && !rd.Header.Descr.Fortran:
		out := make([]float64, shape[0])
		for i := range out {
			out[i] = flat[2*i+1]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported npy shape %v", shape)
	}
}

// ParseGraph builds a Graph from the raw probability array and node map.
func ParseGraph(probsData, mapData []byte) (*Graph, error) {
	probs, err := ReadProbabilities(bytes.NewReader(probsData))
	if err != nil {
		return nil, err
	}
	var index map[string]int
	if err := json.Unmarshal(mapData, &index); err != nil {
		return nil, fmt.Errorf("failed to decode node map: %w", err)
	}
	return NewGraph(probs, index)
}

package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"testing"

	"github.com/sbinet/npyio"
)

// memSource serves artifacts from memory.
type memSource map[string][]byte

func (m memSource) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", name, fs.ErrNotExist)
	}
	return data, nil
}

func (m memSource) Describe() string { return "mem://test" }

func identityLayer(n int, activation string) layerJSON {
	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
		w[i][i] = 1
	}
	return layerJSON{Weights: w, Bias: make([]float64, n), Activation: activation}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return data
}

func mustNpy(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := npyio.Write(&buf, v); err != nil {
		t.Fatalf("npyio.Write: %v", err)
	}
	return buf.Bytes()
}

// baseArtifacts returns a valid three-column artifact set without the
// optional graph and classifier.
func baseArtifacts(t *testing.T) memSource {
	t.Helper()
	return memSource{
		ScalerArtifact: mustJSON(t, scalerJSON{
			Columns: []string{"qty_dot_url", "length_url", "domain_in_ip"},
			Mean:    []float64{2, 40, 0.1},
			Scale:   []float64{1, 10, 0},
		}),
		AutoencoderArtifact: mustJSON(t, networkJSON{Layers: []layerJSON{identityLayer(3, ActivationLinear)}}),
		ThresholdArtifact:   []byte("0.5\n"),
	}
}

package model

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestParseNetworkIdentity(t *testing.T) {
	net, err := ParseNetwork(mustJSON(t, networkJSON{Layers: []layerJSON{
		identityLayer(3, ActivationLinear),
		identityLayer(3, ""),
	}}))
	if err != nil {
		t.Fatalf("ParseNetwork() error: %v", err)
	}
	if net.InputDim() != 3 || net.OutputDim() != 3 {
		t.Fatalf("dims = %d->%d, want 3->3", net.InputDim(), net.OutputDim())
	}

	in := mat.NewDense(2, 3, []float64{1, -2, 3, 0.5, 0, -0.5})
	out, err := net.Predict(in)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if !mat.Equal(in, out) {
		t.Errorf("Predict() = %v, want input unchanged", mat.Formatted(out))
	}
}

func TestNetworkActivations(t *testing.T) {
	tests := []struct {
		activation string
		in         []float64
		want       []float64
	}{
		{ActivationReLU, []float64{-1, 0, 2}, []float64{0, 0, 2}},
		{ActivationSigmoid, []float64{0, 0, 0}, []float64{0.5, 0.5, 0.5}},
		{ActivationTanh, []float64{0, 1, -1}, []float64{0, math.Tanh(1), -math.Tanh(1)}},
		{ActivationSoftmax, []float64{1, 1, 1}, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
	}

	for _, tt := range tests {
		t.Run(tt.activation, func(t *testing.T) {
			net, err := ParseNetwork(mustJSON(t, networkJSON{Layers: []layerJSON{identityLayer(3, tt.activation)}}))
			if err != nil {
				t.Fatalf("ParseNetwork() error: %v", err)
			}
			out, err := net.Predict(mat.NewDense(1, 3, tt.in))
			if err != nil {
				t.Fatalf("Predict() error: %v", err)
			}
			for j, want := range tt.want {
				if got := out.At(0, j); math.Abs(got-want) > 1e-12 {
					t.Errorf("out[%d] = %v, want %v", j, got, want)
				}
			}
		})
	}
}

func TestNetworkBias(t *testing.T) {
	l := layerJSON{
		Weights: [][]float64{{2}, {3}},
		Bias:    []float64{1},
	}
	net, err := ParseNetwork(mustJSON(t, networkJSON{Layers: []layerJSON{l}}))
	if err != nil {
		t.Fatalf("ParseNetwork() error: %v", err)
	}
	out, err := net.Predict(mat.NewDense(1, 2, []float64{1, 1}))
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if got := out.At(0, 0); got != 6 {
		t.Errorf("out = %v, want 6", got)
	}
}

func TestParseNetworkErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{"layers":`},
		{"no layers", `{"layers":[]}`},
		{"empty weights", `{"layers":[{"weights":[]}]}`},
		{"ragged weights", `{"layers":[{"weights":[[1,2],[3]]}]}`},
		{"bias width", `{"layers":[{"weights":[[1,2]],"bias":[1]}]}`},
		{"unknown activation", `{"layers":[{"weights":[[1]],"activation":"swish"}]}`},
		{"broken chain", `{"layers":[{"weights":[[1,2]]},{"weights":[[1],[2],[3]]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseNetwork([]byte(tt.data)); err == nil {
				t.Error("ParseNetwork() error = nil, want error")
			}
		})
	}
}

func TestNetworkPredictWidthMismatch(t *testing.T) {
	net, err := ParseNetwork(mustJSON(t, networkJSON{Layers: []layerJSON{identityLayer(3, ActivationLinear)}}))
	if err != nil {
		t.Fatalf("ParseNetwork() error: %v", err)
	}
	if _, err := net.Predict(mat.NewDense(1, 2, []float64{1, 2})); err == nil {
		t.Error("Predict() error = nil, want width mismatch")
	}
}

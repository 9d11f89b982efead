package model

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Activation names accepted in network artifacts.
const (
	ActivationLinear  = "linear"
	ActivationReLU    = "relu"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
	ActivationSoftmax = "softmax"
)

type layerJSON struct {
	Weights    [][]float64 `json:"weights"` // input x output, Keras kernel layout
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

type networkJSON struct {
	Layers []layerJSON `json:"layers"`
}

type layer struct {
	weights    *mat.Dense
	bias       []float64
	activation string
}

// Network is a feed-forward stack of dense layers. It is immutable once
// parsed and safe for concurrent use.
type Network struct {
	layers []layer
}

// ParseNetwork decodes a dense network artifact and checks that the layer
// shapes chain.
func ParseNetwork(data []byte) (*Network, error) {
	var raw networkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode network: %w", err)
	}
	if len(raw.Layers) == 0 {
		return nil, fmt.Errorf("network has no layers")
	}

	n := &Network{layers: make([]layer, 0, len(raw.Layers))}
	prevOut := 0
	for i, l := range raw.Layers {
		in := len(l.Weights)
		if in == 0 {
			return nil, fmt.Errorf("layer %d: empty weights", i)
		}
		out := len(l.Weights[0])
		if out == 0 {
			return nil, fmt.Errorf("layer %d: empty weight row", i)
		}
		if i > 0 && in != prevOut {
			return nil, fmt.Errorf("layer %d: input width %d does not match previous output %d", i, in, prevOut)
		}

		flat := make([]float64, 0, in*out)
		for r, row := range l.Weights {
			if len(row) != out {
				return nil, fmt.Errorf("layer %d: weight row %d has %d columns, want %d", i, r, len(row), out)
			}
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, fmt.Errorf("layer %d: non-finite weight", i)
				}
			}
			flat = append(flat, row...)
		}

		bias := l.Bias
		if len(bias) == 0 {
			bias = make([]float64, out)
		}
		if len(bias) != out {
			return nil, fmt.Errorf("layer %d: bias has %d entries, want %d", i, len(bias), out)
		}

		act := l.Activation
		if act == "" {
			act = ActivationLinear
		}
		switch act {
		case ActivationLinear, ActivationReLU, ActivationSigmoid, ActivationTanh, ActivationSoftmax:
		default:
			return nil, fmt.Errorf("layer %d: unsupported activation %q", i, act)
		}

		n.layers = append(n.layers, layer{
			weights:    mat.NewDense(in, out, flat),
			bias:       append([]float64(nil), bias...),
			activation: act,
		})
		prevOut = out
	}

	return n, nil
}

// InputDim returns the width of the input layer.
func (n *Network) InputDim() int {
	r, _ := n.layers[0].weights.Dims()
	return r
}

// OutputDim returns the width of the output layer.
func (n *Network) OutputDim() int {
	_, c := n.layers[len(n.layers)-1].weights.Dims()
	return c
}

// Predict runs a forward pass over every row of x.
func (n *Network) Predict(x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("no input rows")
	}
	if cols != n.InputDim() {
		return nil, fmt.Errorf("input has %d columns, network expects %d", cols, n.InputDim())
	}

	cur := mat.DenseCopyOf(x)
	for _, l := range n.layers {
		var out mat.Dense
		out.Mul(cur, l.weights)
		r, _ := out.Dims()
		for i := 0; i < r; i++ {
			row := out.RawRowView(i)
			for j := range row {
				row[j] += l.bias[j]
			}
			activate(l.activation, row)
		}
		cur = &out
	}
	return cur, nil
}

func activate(name string, row []float64) {
	switch name {
	case ActivationReLU:
		for j, v := range row {
			if v < 0 {
				row[j] = 0
			}
		}
	case ActivationSigmoid:
		for j, v := range row {
			row[j] = 1 / (1 + math.Exp(-v))
		}
	case ActivationTanh:
		for j, v := range row {
			row[j] = math.Tanh(v)
		}
	case ActivationSoftmax:
		max := math.Inf(-1)
		for _, v := range row {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - max)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Classifier is the optional supervised model. Its input is the content score
// and the structural score followed by the scaled feature row; its output is
// either [p_benign, p_phish] or a single sigmoid probability.
type Classifier struct {
	net *Network
}

// NewClassifier checks that net has a usable output layer and expects
// featureWidth+2 inputs.
func NewClassifier(net *Network, featureWidth int) (*Classifier, error) {
	if want := featureWidth + 2; net.InputDim() != want {
		return nil, fmt.Errorf("classifier expects %d inputs, want %d", net.InputDim(), want)
	}
	if out := net.OutputDim(); out != 1 && out != 2 {
		return nil, fmt.Errorf("classifier has %d outputs, want 1 or 2", out)
	}
	return &Classifier{net: net}, nil
}

// Probability returns the phishing probability for one input row.
func (c *Classifier) Probability(content, structural float64, scaled []float64) (float64, error) {
	in := make([]float64, 0, len(scaled)+2)
	in = append(in, content, structural)
	in = append(in, scaled...)

	out, err := c.net.Predict(mat.NewDense(1, len(in), in))
	if err != nil {
		return 0, err
	}
	var p float64
	if _, cols := out.Dims(); cols == 2 {
		p = out.At(0, 1)
	} else {
		p = out.At(0, 0)
	}
	if !finite(p) {
		return 0, fmt.Errorf("classifier produced %v", p)
	}
	return clamp01(p), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

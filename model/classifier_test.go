package model

import (
	"testing"
)

func TestClassifierSingleOutput(t *testing.T) {
	// sigmoid(content + structural) with the feature weights zeroed
	net, err := ParseNetwork([]byte(`{"layers":[{"weights":[[1],[1],[0]],"bias":[0],"activation":"sigmoid"}]}`))
	if err != nil {
		t.Fatalf("ParseNetwork() error: %v", err)
	}
	c, err := NewClassifier(net, 1)
	if err != nil {
		t.Fatalf("NewClassifier() error: %v", err)
	}

	p, err := c.Probability(0, 0, []float64{42})
	if err != nil {
		t.Fatalf("Probability() error: %v", err)
	}
	if p != 0.5 {
		t.Errorf("Probability() = %v, want 0.5", p)
	}
}

func TestClassifierTwoClassOutput(t *testing.T) {
	net, err := ParseNetwork([]byte(`{"layers":[{"weights":[[0,2],[0,0],[0,0]],"bias":[0,0],"activation":"softmax"}]}`))
	if err != nil {
		t.Fatalf("ParseNetwork() error: %v", err)
	}
	c, err := NewClassifier(net, 1)
	if err != nil {
		t.Fatalf("NewClassifier() error: %v", err)
	}

	low, _ := c.Probability(0, 0, []float64{0})
	high, _ := c.Probability(1, 0, []float64{0})
	if !(high > low) {
		t.Errorf("phishing probability did not rise with content score: %v -> %v", low, high)
	}
}

func TestNewClassifierRejectsShapes(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		width int
	}{
		{"input width", `{"layers":[{"weights":[[1],[1]]}]}`, 3},
		{"three outputs", `{"layers":[{"weights":[[1,1,1],[1,1,1],[1,1,1]]}]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, err := ParseNetwork([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseNetwork() error: %v", err)
			}
			if _, err := NewClassifier(net, tt.width); err == nil {
				t.Error("NewClassifier() error = nil, want error")
			}
		})
	}
}

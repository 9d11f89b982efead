package phishguard

import (
	"errors"
	"math"
	"testing"

	"github.com/docutag/phishguard/model"
)

func TestFuse(t *testing.T) {
	tests := []struct {
		name       string
		content    float64
		structural float64
		weight     float64
		want       float64
	}{
		{"weighted", 0.8, 0.2, 0.6, 0.56},
		{"content only", 0.3, 0.9, 1, 0.3},
		{"structural only", 0.3, 0.9, 0, 0.9},
		{"neutral structural", 0, 0.5, 0.6, 0.2},
		{"maximum", 1, 1, 0.6, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(tt.content, tt.structural, tt.weight)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Fuse(%v, %v, %v) = %v, want %v", tt.content, tt.structural, tt.weight, got, tt.want)
			}
		})
	}
}

func TestFuseDecisionExample(t *testing.T) {
	final := Fuse(0.8, 0.2, 0.6)
	if !Decide(final, 0.5) {
		t.Errorf("Decide(%v, 0.5) = false, want true", final)
	}
}

func TestDecideBoundary(t *testing.T) {
	tests := []struct {
		final  float64
		cutoff float64
		want   bool
	}{
		{0.5, 0.5, false},
		{math.Nextafter(0.5, 1), 0.5, true},
		{math.Nextafter(0.5, 0), 0.5, false},
		{0, 0, false},
		{1, 1, false},
	}

	for _, tt := range tests {
		if got := Decide(tt.final, tt.cutoff); got != tt.want {
			t.Errorf("Decide(%v, %v) = %v, want %v", tt.final, tt.cutoff, got, tt.want)
		}
	}
}

func TestApplyOverride(t *testing.T) {
	p := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		final     float64
		prob      *float64
		threshold float64
		want      float64
		override  bool
	}{
		{"no classifier", 0.3, nil, 0.8, 0.3, false},
		{"below threshold", 0.3, p(0.7), 0.8, 0.3, false},
		{"at threshold", 0.3, p(0.8), 0.8, 0.3, false},
		{"above threshold raises", 0.3, p(0.95), 0.8, 0.95, true},
		{"above threshold never lowers", 0.97, p(0.9), 0.8, 0.97, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, overridden := ApplyOverride(tt.final, tt.prob, tt.threshold)
			if got != tt.want || overridden != tt.override {
				t.Errorf("ApplyOverride() = %v, %v, want %v, %v", got, overridden, tt.want, tt.override)
			}
		})
	}
}

func TestApplyOverrideNeverDecreases(t *testing.T) {
	for _, final := range []float64{0, 0.1, 0.49, 0.5, 0.81, 0.99, 1} {
		for _, prob := range []float64{0, 0.2, 0.79, 0.8, 0.85, 1} {
			for _, threshold := range []float64{0, 0.5, 0.8, 1} {
				pr := prob
				got, _ := ApplyOverride(final, &pr, threshold)
				if got < final {
					t.Errorf("ApplyOverride(%v, %v, %v) = %v, decreased", final, prob, threshold, got)
				}
			}
		}
	}
}

func TestStructuralScore(t *testing.T) {
	g, err := model.NewGraph([]float64{0.25, 0.75}, map[string]int{"a": 0, "b": 1, "oob": 5})
	if err != nil {
		t.Fatalf("NewGraph() error: %v", err)
	}

	tests := []struct {
		name   string
		graph  *model.Graph
		postID string
		want   float64
		mapped bool
	}{
		{"mapped", g, "b", 0.75, true},
		{"unmapped", g, "zzz", 0.5, false},
		{"out of bounds", g, "oob", 0.5, false},
		{"empty id", g, "", 0.5, false},
		{"no graph", nil, "b", 0.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, mapped := StructuralScore(tt.graph, tt.postID)
			if got != tt.want || mapped != tt.mapped {
				t.Errorf("StructuralScore() = %v, %v, want %v, %v", got, mapped, tt.want, tt.mapped)
			}
		})
	}
}

func zeroAutoencoder(t *testing.T, width int) *model.Network {
	t.Helper()
	w := make([][]float64, width)
	for i := range w {
		w[i] = make([]float64, width)
	}
	net, err := model.ParseNetwork(mustJSON(t, map[string]any{
		"layers": []map[string]any{{"weights": w, "activation": "linear"}},
	}))
	if err != nil {
		t.Fatalf("ParseNetwork() error: %v", err)
	}
	return net
}

func TestScoreContent(t *testing.T) {
	ae := zeroAutoencoder(t, 2)

	// the autoencoder reconstructs zeros, so the error is the mean square of the row
	got, err := ScoreContent([][]float64{{1, 1}, {0.5, 0.5}, {3, 4}, {0, 0}}, nil, ae, 0.5)
	if err != nil {
		t.Fatalf("ScoreContent() error: %v", err)
	}

	want := []struct{ err, score float64 }{
		{1, 1},
		{0.25, 0.25},
		{12.5, 1},
		{0, 0},
	}
	for i, w := range want {
		if got[i].ReconstructionError != w.err || got[i].ContentScore != w.score {
			t.Errorf("row %d = (%v, %v), want (%v, %v)", i, got[i].ReconstructionError, got[i].ContentScore, w.err, w.score)
		}
		if got[i].ContentScore < 0 || got[i].ContentScore > 1 {
			t.Errorf("row %d content score %v outside [0,1]", i, got[i].ContentScore)
		}
	}
}

func TestScoreContentErrors(t *testing.T) {
	ae := zeroAutoencoder(t, 2)

	tests := []struct {
		name      string
		rows      [][]float64
		ae        *model.Network
		threshold float64
	}{
		{"no autoencoder", [][]float64{{1, 1}}, nil, 0.5},
		{"zero threshold", [][]float64{{1, 1}}, ae, 0},
		{"width mismatch", [][]float64{{1, 1, 1}}, ae, 0.5},
		{"ragged rows", [][]float64{{1, 1}, {1}}, ae, 0.5},
		{"non-finite input", [][]float64{{math.Inf(1), 0}}, ae, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScoreContent(tt.rows, nil, tt.ae, tt.threshold)
			if !errors.Is(err, ErrScoring) {
				t.Errorf("ScoreContent() error = %v, want ErrScoring", err)
			}
		})
	}
}

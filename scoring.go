package phishguard

import (
	"fmt"
	"math"

	"github.com/docutag/phishguard/model"
)

// NeutralStructuralScore is used when no graph probability is available.
const NeutralStructuralScore = 0.5

// ContentResult is the anomaly score for one row.
type ContentResult struct {
	ReconstructionError float64
	ContentScore        float64
	Scaled              []float64 // scaled input row, fed to the classifier
}

// ScoreContent scales rows, reconstructs them with the autoencoder and maps
// the per-row mean squared error onto [0,1] with errors at twice the
// threshold or more scoring 1. Every failure is wrapped in ErrScoring.
func ScoreContent(rows [][]float64, scaler *model.Scaler, ae *model.Network, threshold float64) ([]ContentResult, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if ae == nil {
		return nil, fmt.Errorf("%w: autoencoder not loaded", ErrScoring)
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		return nil, fmt.Errorf("%w: invalid threshold %v", ErrScoring, threshold)
	}

	scaled, err := scaler.Transform(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoring, err)
	}
	recon, err := ae.Predict(scaled)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoring, err)
	}

	n, d := scaled.Dims()
	out := make([]ContentResult, n)
	for i := 0; i < n; i++ {
		in := scaled.RawRowView(i)
		rec := recon.RawRowView(i)
		var sum float64
		for j := 0; j < d; j++ {
			diff := in[j] - rec[j]
			sum += diff * diff
		}
		mse := sum / float64(d)
		if math.IsNaN(mse) || math.IsInf(mse, 0) {
			return nil, fmt.Errorf("%w: row %d reconstruction error is %v", ErrScoring, i, mse)
		}
		out[i] = ContentResult{
			ReconstructionError: mse,
			ContentScore:        math.Min(mse/(threshold*2), 1),
			Scaled:              append([]float64(nil), in...),
		}
	}
	return out, nil
}

// StructuralScore returns the graph probability for postID, or the neutral
// score with false when the graph is absent or has no usable mapping.
func StructuralScore(g *model.Graph, postID string) (float64, bool) {
	p, ok := g.Lookup(postID)
	if !ok {
		return NeutralStructuralScore, false
	}
	return p, true
}

// Fuse combines the content and structural scores with weight on content.
func Fuse(content, structural, weight float64) float64 {
	return clamp01(weight*content + (1-weight)*structural)
}

// ApplyOverride raises final to the classifier probability when that
// probability exceeds threshold. It never lowers final.
func ApplyOverride(final float64, prob *float64, threshold float64) (float64, bool) {
	if prob == nil || !(*prob > threshold) || !(*prob > final) {
		return final, false
	}
	return *prob, true
}

// Decide reports whether final is strictly above cutoff.
func Decide(final, cutoff float64) bool {
	return final > cutoff
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

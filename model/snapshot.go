// Package model loads the scoring artifacts into immutable snapshots and
// publishes the current one through a Registry.
package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/docutag/phishguard/features"
)

// Artifact names read from a Source.
const (
	ScalerArtifact      = "scaler.json"
	AutoencoderArtifact = "autoencoder.json"
	ThresholdArtifact   = "autoencoder_threshold.txt"
	GraphProbsArtifact  = "gnn_probs.npy"
	GraphMapArtifact    = "post_node_map.json"
	ClassifierArtifact  = "classifier.json"
)

// Source reads named artifacts. Missing artifacts must match fs.ErrNotExist.
type Source interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Describe() string
}

// Snapshot is one consistent set of loaded artifacts. It is never mutated
// after Load returns.
type Snapshot struct {
	ID          string
	Schema      *features.Schema // nil when the scaler names no columns
	Scaler      *Scaler
	Autoencoder *Network
	Threshold   Threshold
	Graph       *Graph      // nil when graph artifacts are absent
	Classifier  *Classifier // nil when no classifier is deployed
	LoadedAt    time.Time
	Warnings    []string
}

// FeatureWidth is the row width the autoencoder consumes.
func (s *Snapshot) FeatureWidth() int {
	return s.Autoencoder.InputDim()
}

// Load reads every artifact from src and validates that they fit together.
func Load(ctx context.Context, src Source, multiplier float64) (*Snapshot, error) {
	snap := &Snapshot{ID: uuid.NewString()}

	data, err := src.Read(ctx, ScalerArtifact)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ScalerArtifact, err)
	}
	snap.Schema, snap.Scaler, err = ParseScaler(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ScalerArtifact, err)
	}

	data, err = src.Read(ctx, AutoencoderArtifact)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", AutoencoderArtifact, err)
	}
	snap.Autoencoder, err = ParseNetwork(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", AutoencoderArtifact, err)
	}
	in, out := snap.Autoencoder.InputDim(), snap.Autoencoder.OutputDim()
	if in != out {
		return nil, fmt.Errorf("%s: output width %d does not reconstruct input width %d", AutoencoderArtifact, out, in)
	}
	if w := snap.Scaler.Width(); w != in {
		return nil, fmt.Errorf("scaler width %d does not match autoencoder input %d", w, in)
	}

	data, err = src.Read(ctx, ThresholdArtifact)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ThresholdArtifact, err)
	}
	snap.Threshold, err = ParseThreshold(data, multiplier)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ThresholdArtifact, err)
	}

	if err := loadGraph(ctx, src, snap); err != nil {
		return nil, err
	}

	data, err = readOptional(ctx, src, ClassifierArtifact)
	if err != nil {
		return nil, err
	}
	if data != nil {
		net, err := ParseNetwork(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ClassifierArtifact, err)
		}
		if snap.Classifier, err = NewClassifier(net, in); err != nil {
			return nil, fmt.Errorf("%s: %w", ClassifierArtifact, err)
		}
	}

	snap.LoadedAt = time.Now().UTC()
	return snap, nil
}

func loadGraph(ctx context.Context, src Source, snap *Snapshot) error {
	probs, err := readOptional(ctx, src, GraphProbsArtifact)
	if err != nil {
		return err
	}
	index, err := readOptional(ctx, src, GraphMapArtifact)
	if err != nil {
		return err
	}

	switch {
	case probs == nil && index == nil:
		return nil
	case probs == nil:
		snap.Warnings = append(snap.Warnings, GraphMapArtifact+" present without "+GraphProbsArtifact+"; structural scores disabled")
		return nil
	case index == nil:
		snap.Warnings = append(snap.Warnings, GraphProbsArtifact+" present without "+GraphMapArtifact+"; structural scores disabled")
		return nil
	}

	snap.Graph, err = ParseGraph(probs, index)
	if err != nil {
		return fmt.Errorf("graph artifacts: %w", err)
	}
	if snap.Graph.Mapped() > 0 && snap.Graph.Nodes() == 0 {
		snap.Warnings = append(snap.Warnings, "graph probabilities are empty; every post resolves to the neutral score")
	}
	return nil
}

// readOptional returns nil data and nil error when the artifact is absent.
func readOptional(ctx context.Context, src Source, name string) ([]byte, error) {
	data, err := src.Read(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

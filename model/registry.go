package model

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docutag/phishguard/metrics"
)

// ErrNotLoaded is returned by Current before the first load attempt.
var ErrNotLoaded = errors.New("models not loaded")

type registryState struct {
	snapshot    *Snapshot
	err         error
	attemptedAt time.Time
}

// Registry publishes the current Snapshot. Readers never block; reloads are
// serialized and swap in a complete snapshot or a load error.
type Registry struct {
	source Source
	logger *slog.Logger

	mu    sync.Mutex
	state atomic.Pointer[registryState]
}

// NewRegistry creates an empty registry reading artifacts from source.
func NewRegistry(source Source, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{source: source, logger: logger}
}

// Reload builds a new snapshot and publishes it. On failure the registry
// leaves service until a later reload succeeds. A reload cut short by ctx
// leaves the published state untouched.
func (r *Registry) Reload(ctx context.Context, multiplier float64) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	snap, err := Load(ctx, r.source, multiplier)
	if err != nil && ctx.Err() != nil {
		// interrupted, not broken: the published state stays as it was
		metrics.ModelReloads.WithLabelValues("canceled").Inc()
		r.logger.Warn("model load interrupted, keeping current state", "source", r.source.Describe(), "error", err)
		return nil, err
	}
	if err != nil {
		r.state.Store(&registryState{err: err, attemptedAt: start.UTC()})
		metrics.ModelReloads.WithLabelValues("error").Inc()
		metrics.ModelReady.Set(0)
		r.logger.Error("model load failed", "source", r.source.Describe(), "error", err)
		return nil, err
	}

	r.state.Store(&registryState{snapshot: snap, attemptedAt: start.UTC()})
	metrics.ModelReloads.WithLabelValues("ok").Inc()
	metrics.ModelReady.Set(1)
	for _, w := range snap.Warnings {
		r.logger.Warn("model snapshot warning", "snapshot", snap.ID, "warning", w)
	}
	r.logger.Info("models loaded",
		"source", r.source.Describe(),
		"snapshot", snap.ID,
		"feature_width", snap.FeatureWidth(),
		"ae_threshold", snap.Threshold.Base,
		"effective_threshold", snap.Threshold.Effective(),
		"graph_loaded", snap.Graph != nil,
		"classifier_loaded", snap.Classifier != nil,
		"duration", time.Since(start),
	)
	return snap, nil
}

// Current returns the published snapshot, or the error that keeps the
// registry out of service.
func (r *Registry) Current() (*Snapshot, error) {
	st := r.state.Load()
	if st == nil {
		return nil, ErrNotLoaded
	}
	if st.snapshot == nil {
		return nil, st.err
	}
	return st.snapshot, nil
}

// Info describes the registry for the model_info and ready endpoints.
type Info struct {
	Ready                bool       `json:"models_ready"`
	Source               string     `json:"source"`
	SnapshotID           string     `json:"snapshot_id,omitempty"`
	LoadedAt             *time.Time `json:"models_last_loaded_at"`
	LastAttemptAt        *time.Time `json:"last_attempt_at,omitempty"`
	Error                string     `json:"error,omitempty"`
	FeatureWidth         int        `json:"feature_width,omitempty"`
	SchemaColumns        int        `json:"schema_columns"`
	AutoencoderThreshold float64    `json:"autoencoder_threshold,omitempty"`
	ThresholdMultiplier  float64    `json:"ae_threshold_multiplier,omitempty"`
	EffectiveThreshold   float64    `json:"effective_ae_threshold,omitempty"`
	GraphLoaded          bool       `json:"gnn_loaded"`
	GraphNodes           int        `json:"gnn_nodes"`
	GraphMappedPosts     int        `json:"gnn_mapped_posts"`
	ClassifierLoaded     bool       `json:"classifier_loaded"`
	Warnings             []string   `json:"warnings,omitempty"`
}

// Info returns a point-in-time description of the registry.
func (r *Registry) Info() Info {
	info := Info{Source: r.source.Describe()}
	st := r.state.Load()
	if st == nil {
		info.Error = ErrNotLoaded.Error()
		return info
	}

	attempted := st.attemptedAt
	info.LastAttemptAt = &attempted
	if st.snapshot == nil {
		info.Error = st.err.Error()
		return info
	}

	s := st.snapshot
	loaded := s.LoadedAt
	info.Ready = true
	info.SnapshotID = s.ID
	info.LoadedAt = &loaded
	info.FeatureWidth = s.FeatureWidth()
	info.SchemaColumns = s.Schema.Width()
	info.AutoencoderThreshold = s.Threshold.Base
	info.ThresholdMultiplier = s.Threshold.Multiplier
	info.EffectiveThreshold = s.Threshold.Effective()
	info.GraphLoaded = s.Graph != nil
	info.GraphNodes = s.Graph.Nodes()
	info.GraphMappedPosts = s.Graph.Mapped()
	info.ClassifierLoaded = s.Classifier != nil
	info.Warnings = s.Warnings
	return info
}

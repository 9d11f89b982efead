// Package phishguard scores URLs for phishing by fusing an autoencoder
// anomaly score over lexical URL features with a precomputed graph
// probability, optionally raised by a supervised classifier.
package phishguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/docutag/phishguard/config"
	"github.com/docutag/phishguard/features"
	"github.com/docutag/phishguard/metrics"
	"github.com/docutag/phishguard/model"
	"github.com/docutag/phishguard/models"
	"github.com/docutag/phishguard/tracing"
	"github.com/docutag/phishguard/urlnorm"
)

// SnapshotSource supplies the current model snapshot.
type SnapshotSource interface {
	Current() (*model.Snapshot, error)
}

// TuningSource supplies the current fusion parameters.
type TuningSource interface {
	Current() config.Tuning
}

// URLResolver expands shortened URLs. Implementations must not fail; they
// return the input when resolution is not possible.
type URLResolver interface {
	Resolve(ctx context.Context, rawURL string, enabled bool) string
}

// Enricher adds network-derived features in place.
type Enricher interface {
	Enrich(ctx context.Context, rawURL string, f features.Features)
}

// Options configures optional Engine collaborators.
type Options struct {
	Resolver URLResolver // nil disables shortener resolution
	Enricher Enricher    // nil disables network enrichment
	Workers  int         // batch parallelism, defaults to GOMAXPROCS
	Logger   *slog.Logger
}

// Engine runs the scoring pipeline against the current snapshot and tuning.
type Engine struct {
	snapshots SnapshotSource
	tuning    TuningSource
	resolver  URLResolver
	enricher  Enricher
	workers   int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates an Engine.
func New(snapshots SnapshotSource, tuning TuningSource, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		snapshots: snapshots,
		tuning:    tuning,
		resolver:  opts.Resolver,
		enricher:  opts.Enricher,
		workers:   opts.Workers,
		logger:    opts.Logger,
		tracer:    tracing.Tracer("github.com/docutag/phishguard"),
	}
}

// Predict scores one URL. Missing url or post_id yields ErrInvalidRequest.
func (e *Engine) Predict(ctx context.Context, req models.PredictRequest) (models.Prediction, error) {
	start := time.Now()
	defer func() {
		metrics.PredictionDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())
	}()

	if req.URL == "" || req.PostID == "" {
		metrics.PredictionFailures.WithLabelValues("invalid").Inc()
		return models.Prediction{}, fmt.Errorf("%w: url and post_id are required", ErrInvalidRequest)
	}

	snap, tuning, err := e.current()
	if err != nil {
		return models.Prediction{}, err
	}

	p, err := e.score(ctx, snap, tuning, req)
	if err != nil {
		metrics.PredictionFailures.WithLabelValues("scoring").Inc()
		return models.Prediction{}, err
	}
	return p, nil
}

// PredictBatch scores items in parallel against one snapshot and tuning.
// Each row is scored exactly as Predict would score it. Results keep input
// order and echo url and post_id. Any row failure fails the batch.
func (e *Engine) PredictBatch(ctx context.Context, items []models.PredictRequest) ([]models.Prediction, error) {
	if len(items) == 0 {
		return []models.Prediction{}, nil
	}

	start := time.Now()
	defer func() {
		metrics.PredictionDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	}()

	snap, tuning, err := e.current()
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "phishguard.predict_batch", trace.WithAttributes(
		attribute.Int("phishguard.batch_size", len(items)),
	))
	defer span.End()

	out := make([]models.Prediction, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, item := range items {
		g.Go(func() error {
			p, err := e.score(gctx, snap, tuning, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			p.URL = item.URL
			p.PostID = item.PostID
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.PredictionFailures.WithLabelValues("scoring").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (e *Engine) current() (*model.Snapshot, config.Tuning, error) {
	snap, err := e.snapshots.Current()
	if err != nil {
		metrics.PredictionFailures.WithLabelValues("not_ready").Inc()
		if errors.Is(err, ErrNotReady) {
			return nil, config.Tuning{}, err
		}
		return nil, config.Tuning{}, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return snap, e.tuning.Current(), nil
}

func (e *Engine) score(ctx context.Context, snap *model.Snapshot, tuning config.Tuning, req models.PredictRequest) (models.Prediction, error) {
	ctx, span := e.tracer.Start(ctx, "phishguard.score")
	defer span.End()

	normalized := urlnorm.Normalize(req.URL)
	target, resolved := normalized, ""
	if e.resolver != nil {
		if r := e.resolver.Resolve(ctx, normalized, tuning.ResolveShorteners); r != normalized {
			target = urlnorm.Normalize(r)
			resolved = target
		}
	}

	f := features.Extract(target)
	if e.enricher != nil {
		e.enricher.Enrich(ctx, target, f)
	}
	row := features.Assemble(f, snap.Schema, snap.FeatureWidth())

	content, err := ScoreContent([][]float64{row}, snap.Scaler, snap.Autoencoder, snap.Threshold.Effective())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("content scoring failed", "url", req.URL, "error", err)
		return models.Prediction{}, err
	}
	c := content[0]

	structural, mapped := StructuralScore(snap.Graph, string(req.PostID))
	if snap.Graph != nil && !mapped {
		metrics.Degradations.WithLabelValues("structural").Inc()
	}
	final := Fuse(c.ContentScore, structural, tuning.AEWeight)

	var prob *float64
	if snap.Classifier != nil {
		p, err := snap.Classifier.Probability(c.ContentScore, structural, c.Scaled)
		if err != nil {
			metrics.Degradations.WithLabelValues("classifier").Inc()
			e.logger.Warn("classifier failed, continuing without override", "url", req.URL, "error", err)
		} else {
			prob = &p
		}
	}
	final, overridden := ApplyOverride(final, prob, tuning.ClassifierOverrideThreshold)
	if overridden {
		metrics.ClassifierOverrides.Inc()
	}
	phishing := Decide(final, tuning.FinalScoreCutoff)

	decision := "benign"
	if phishing {
		decision = "phishing"
	}
	metrics.Predictions.WithLabelValues(decision).Inc()
	metrics.ReconstructionError.Observe(c.ReconstructionError)
	metrics.FinalScore.Observe(final)
	span.SetAttributes(
		attribute.Float64("phishguard.final_score", final),
		attribute.Bool("phishguard.is_phishing", phishing),
		attribute.Bool("phishguard.structural_mapped", mapped),
	)

	e.logger.Info("prediction",
		"url", req.URL,
		"post_id", string(req.PostID),
		"recon_error", c.ReconstructionError,
		"content", c.ContentScore,
		"structural", structural,
		"final", final,
		"phishing", phishing,
		"used_gcn", snap.Graph != nil,
	)

	return models.Prediction{
		IsPhishing:          phishing,
		UsedGCN:             snap.Graph != nil,
		FinalScore:          final,
		ReconstructionError: c.ReconstructionError,
		ContentScore:        c.ContentScore,
		StructuralScore:     structural,
		AEThresholdUsed:     snap.Threshold.Effective(),
		AEWeight:            tuning.AEWeight,
		FinalScoreCutoff:    tuning.FinalScoreCutoff,
		ClassifierProb:      prob,
		Diagnostics: models.Diagnostics{
			NormalizedURL:      normalized,
			ResolvedURL:        resolved,
			StructuralMapped:   mapped,
			ClassifierOverride: overridden,
			OverrideThreshold:  tuning.ClassifierOverrideThreshold,
			SnapshotID:         snap.ID,
		},
	}, nil
}

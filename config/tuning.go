// Package config holds the hot-reloadable scoring parameters.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read on every reload.
const (
	EnvAEWeight              = "AE_WEIGHT"
	EnvFinalScoreCutoff      = "FINAL_SCORE_CUTOFF"
	EnvClassifierOverride    = "CLASSIFIER_OVERRIDE_THRESHOLD"
	EnvResolveShorteners     = "RESOLVE_SHORTENERS"
	EnvAEThresholdMultiplier = "AE_THRESHOLD_MULTIPLIER"
)

// Tuning is the set of fusion parameters read once per scoring call.
type Tuning struct {
	AEWeight                    float64 `json:"ae_weight"`
	FinalScoreCutoff            float64 `json:"final_score_cutoff"`
	ClassifierOverrideThreshold float64 `json:"classifier_override_threshold"`
	ResolveShorteners           bool    `json:"resolve_shorteners"`
	AEThresholdMultiplier       float64 `json:"ae_threshold_multiplier"`
}

// DefaultTuning returns the built-in parameters.
func DefaultTuning() Tuning {
	return Tuning{
		AEWeight:                    0.6,
		FinalScoreCutoff:            0.5,
		ClassifierOverrideThreshold: 0.8,
		ResolveShorteners:           true,
		AEThresholdMultiplier:       1.0,
	}
}

// fileTuning mirrors Tuning with optional fields so unset keys keep the
// lower-precedence value.
type fileTuning struct {
	AEWeight                    *float64 `yaml:"ae_weight"`
	FinalScoreCutoff            *float64 `yaml:"final_score_cutoff"`
	ClassifierOverrideThreshold *float64 `yaml:"classifier_override_threshold"`
	ResolveShorteners           *bool    `yaml:"resolve_shorteners"`
	AEThresholdMultiplier       *float64 `yaml:"ae_threshold_multiplier"`
}

// Store publishes the current Tuning. Current never blocks.
type Store struct {
	path      string
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Tuning]
}

// NewStore creates a store reading the optional YAML file at path and the
// process environment, and performs the first load.
func NewStore(path string, logger *slog.Logger) *Store {
	return newStore(path, os.LookupEnv, logger)
}

func newStore(path string, lookupEnv func(string) (string, bool), logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, lookupEnv: lookupEnv, logger: logger}
	d := DefaultTuning()
	s.current.Store(&d)
	if _, err := s.Reload(); err != nil {
		logger.Error("failed to load tuning, using defaults", "error", err)
	}
	return s
}

// Current returns the active parameters.
func (s *Store) Current() Tuning {
	return *s.current.Load()
}

// Reload re-reads the file and environment. When the file cannot be read or
// parsed the previous parameters stay active and the error is returned.
func (s *Store) Reload() (Tuning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := DefaultTuning()
	if s.path != "" {
		if err := s.applyFile(&t); err != nil {
			return s.Current(), err
		}
	}
	s.applyEnv(&t)

	prev := s.current.Swap(&t)
	if prev == nil || *prev != t {
		s.logger.Info("tuning updated",
			"ae_weight", t.AEWeight,
			"final_score_cutoff", t.FinalScoreCutoff,
			"classifier_override_threshold", t.ClassifierOverrideThreshold,
			"resolve_shorteners", t.ResolveShorteners,
			"ae_threshold_multiplier", t.AEThresholdMultiplier,
		)
	}
	return t, nil
}

// Watch reloads every interval until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reload(); err != nil {
				s.logger.Warn("tuning reload failed, keeping previous values", "error", err)
			}
		}
	}
}

func (s *Store) applyFile(t *Tuning) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("tuning file not found, skipping", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read tuning file: %w", err)
	}

	var ft fileTuning
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return fmt.Errorf("failed to parse tuning file %s: %w", s.path, err)
	}

	d := DefaultTuning()
	if ft.AEWeight != nil {
		t.AEWeight = s.checkUnit("ae_weight", *ft.AEWeight, d.AEWeight)
	}
	if ft.FinalScoreCutoff != nil {
		t.FinalScoreCutoff = s.checkUnit("final_score_cutoff", *ft.FinalScoreCutoff, d.FinalScoreCutoff)
	}
	if ft.ClassifierOverrideThreshold != nil {
		t.ClassifierOverrideThreshold = s.checkUnit("classifier_override_threshold", *ft.ClassifierOverrideThreshold, d.ClassifierOverrideThreshold)
	}
	if ft.ResolveShorteners != nil {
		t.ResolveShorteners = *ft.ResolveShorteners
	}
	if ft.AEThresholdMultiplier != nil {
		t.AEThresholdMultiplier = s.checkPositive("ae_threshold_multiplier", *ft.AEThresholdMultiplier, d.AEThresholdMultiplier)
	}
	return nil
}

func (s *Store) applyEnv(t *Tuning) {
	d := DefaultTuning()
	if v, ok := s.float(EnvAEWeight); ok {
		t.AEWeight = s.checkUnit(EnvAEWeight, v, d.AEWeight)
	}
	if v, ok := s.float(EnvFinalScoreCutoff); ok {
		t.FinalScoreCutoff = s.checkUnit(EnvFinalScoreCutoff, v, d.FinalScoreCutoff)
	}
	if v, ok := s.float(EnvClassifierOverride); ok {
		t.ClassifierOverrideThreshold = s.checkUnit(EnvClassifierOverride, v, d.ClassifierOverrideThreshold)
	}
	if v, ok := s.float(EnvAEThresholdMultiplier); ok {
		t.AEThresholdMultiplier = s.checkPositive(EnvAEThresholdMultiplier, v, d.AEThresholdMultiplier)
	}
	if raw, ok := s.lookupEnv(EnvResolveShorteners); ok && strings.TrimSpace(raw) != "" {
		b, err := parseBool(raw)
		if err != nil {
			s.logger.Warn("invalid tuning value, using default", "key", EnvResolveShorteners, "value", raw)
			b = d.ResolveShorteners
		}
		t.ResolveShorteners = b
	}
}

// float returns the parsed value of key. Unparsable values are logged and
// reported as NaN so the range check falls back to the default.
func (s *Store) float(key string) (float64, bool) {
	raw, ok := s.lookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return math.NaN(), true
	}
	return v, true
}

func (s *Store) checkUnit(key string, v, def float64) float64 {
	if math.IsNaN(v) || v < 0 || v > 1 {
		s.logger.Warn("invalid tuning value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return v
}

func (s *Store) checkPositive(key string, v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		s.logger.Warn("invalid tuning value, using default", "key", key, "value", v, "default", def)
		return def
	}
	return v
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on", "t", "y":
		return true, nil
	case "0", "false", "no", "off", "f", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", raw)
}

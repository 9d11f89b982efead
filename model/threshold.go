package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Threshold is the autoencoder reconstruction-error threshold fixed at
// training time, with the operator multiplier applied on top.
type Threshold struct {
	Base       float64
	Multiplier float64
}

// Effective returns Base scaled by Multiplier.
func (t Threshold) Effective() float64 {
	return t.Base * t.Multiplier
}

// ParseThreshold reads a single positive number from a text artifact.
// A multiplier that is not a positive finite number is treated as 1.
func ParseThreshold(data []byte, multiplier float64) (Threshold, error) {
	text := strings.TrimSpace(string(data))
	base, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("failed to parse threshold %q: %w", text, err)
	}
	if !finite(base) || base <= 0 {
		return Threshold{}, fmt.Errorf("threshold must be a positive number, got %v", base)
	}
	if !finite(multiplier) || multiplier <= 0 {
		multiplier = 1
	}
	return Threshold{Base: base, Multiplier: multiplier}, nil
}

package phishguard

import "errors"

var (
	// ErrNotReady is returned while no model snapshot is loaded or the last
	// load failed.
	ErrNotReady = errors.New("models not ready")

	// ErrInvalidRequest is returned when a required request field is missing.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrScoring is returned when the scaler or autoencoder cannot score a row.
	ErrScoring = errors.New("scoring failed")
)

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PostID identifies the post a URL was shared in. Clients send it either
// as a JSON string or as a number; numbers are kept in their shortest
// decimal form, so 512 and "512" are the same id.
type PostID string

// UnmarshalJSON accepts a string, a number or null.
func (p *PostID) UnmarshalJSON(data []byte) error {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*p = ""
	case string:
		*p = PostID(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("post_id %s: %w", x, err)
		}
		*p = PostID(strconv.FormatFloat(f, 'f', -1, 64))
	default:
		return fmt.Errorf("post_id must be a string or a number, got %s", data)
	}
	return nil
}

// PredictRequest is a single scoring request
type PredictRequest struct {
	URL    string `json:"url"`
	PostID PostID `json:"post_id"`
}

// BatchRequest carries several scoring requests
type BatchRequest struct {
	Items []PredictRequest `json:"items"`
}

// Prediction is the result of scoring one URL. It is built once and never
// mutated afterwards.
type Prediction struct {
	URL                 string   `json:"url,omitempty"`     // Echoed in batch responses
	PostID              PostID   `json:"post_id,omitempty"` // Echoed in batch responses
	IsPhishing          bool     `json:"is_phishing"`
	UsedGCN             bool     `json:"used_gcn"` // Graph artifact was loaded for this call
	FinalScore          float64  `json:"final_score"`
	ReconstructionError float64  `json:"reconstruction_error"`
	ContentScore        float64  `json:"content_score"`
	StructuralScore     float64  `json:"structural_score"`
	AEThresholdUsed     float64  `json:"ae_threshold_used"`
	AEWeight            float64  `json:"ae_weight"`
	FinalScoreCutoff    float64  `json:"final_score_cutoff"`
	ClassifierProb      *float64 `json:"classifier_prob"` // null when no classifier ran
	Diagnostics
}

// Diagnostics are auxiliary fields for auditing a decision
type Diagnostics struct {
	NormalizedURL      string  `json:"normalized_url"`
	ResolvedURL        string  `json:"resolved_url,omitempty"` // Set when a shortener was expanded
	StructuralMapped   bool    `json:"structural_mapped"`      // post_id had a graph mapping
	ClassifierOverride bool    `json:"classifier_override"`    // Classifier raised the final score
	OverrideThreshold  float64 `json:"classifier_override_threshold"`
	SnapshotID         string  `json:"model_snapshot_id"`
}

// BatchResponse wraps batch predictions in input order
type BatchResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// Report is a user or app submitted feedback record
type Report struct {
	ID        string          `json:"id"`
	AppID     string          `json:"app_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UserID    string          `json:"userId"`
	CreatedAt time.Time       `json:"created_at"`
}

// BulkReportRequest carries several reports
type BulkReportRequest struct {
	Items []Report `json:"items"`
}

// Flag marks a URL as suspicious on behalf of a user
type Flag struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	URL       string    `json:"url"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"created_at"`
}

// AnonymousUser is stored when a feedback record names no user
const AnonymousUser = "anon"

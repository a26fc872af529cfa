package service

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"agri-inference-service/data"
)

// Method records which tier produced a DetectionResult.
type Method string

const (
	MethodRemoteAPI     Method = "RemoteAPI"
	MethodOnDeviceModel Method = "OnDeviceModel"
	MethodHeuristicMock Method = "HeuristicMock"
)

// SimulatedNote marks heuristic results as non-authoritative.
const SimulatedNote = "This is a simulated analysis for demonstration purposes"

var (
	ErrRemoteDisabled    = errors.New("remote detection endpoint not configured")
	ErrMalformedResponse = errors.New("malformed remote response")
	ErrModelUnavailable  = errors.New("on-device model unavailable")
)

// Image is an uploaded leaf photo.
type Image struct {
	Filename string
	Data     []byte
}

// DetectionResult is the one result shape every tier produces.
type DetectionResult struct {
	Name             string        `json:"name"`
	Confidence       int           `json:"confidence"`
	Severity         data.Severity `json:"severity"`
	Description      string        `json:"description"`
	Treatment        string        `json:"treatment"`
	Pesticide        string        `json:"pesticide"`
	Recommendation   string        `json:"recommendation"`
	Crop             string        `json:"crop"`
	Method           Method        `json:"method"`
	ProcessingTimeMs *float64      `json:"processingTimeMs,omitempty"`
	Note             string        `json:"note,omitempty"`
}

// TierError carries the tier a failure happened in.
type TierError struct {
	Tier Method
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s tier: %v", e.Tier, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// InferenceError wraps a failed forward pass.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// ClampConfidence rounds v to the nearest integer within [0, 100].
func ClampConfidence(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	r := math.Round(v)
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	}
	return int(r)
}

func newResult(rec data.DiseaseRecord, crop string, confidence float64, method Method) DetectionResult {
	return DetectionResult{
		Name:           rec.Name,
		Confidence:     ClampConfidence(confidence),
		Severity:       rec.Severity,
		Description:    rec.Description,
		Treatment:      rec.Treatment,
		Pesticide:      rec.Pesticide,
		Recommendation: rec.Recommendation,
		Crop:           crop,
		Method:         method,
	}
}

// Random is the randomness the interpreter and heuristic tier draw from.
// *rand.Rand from math/rand/v2 satisfies it.
type Random interface {
	Float64() float64
	IntN(n int) int
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }
func (globalRandom) IntN(n int) int   { return rand.IntN(n) }

func orDefault(r Random) Random {
	if r == nil {
		return globalRandom{}
	}
	return r
}

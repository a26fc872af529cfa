package model

import "errors"

// ErrEmptyOutput is returned when a model produced no values.
var ErrEmptyOutput = errors.New("model produced an empty output")

// RawScores is the model output, classified once at the inference boundary.
// It is either PerClassScores or ScalarScore.
type RawScores interface {
	isRawScores()
}

// PerClassScores holds one score per condition, in knowledge base key order.
type PerClassScores []float32

// ScalarScore is the single value emitted by a model that was not trained on
// the condition label set.
type ScalarScore float32

func (PerClassScores) isRawScores() {}
func (ScalarScore) isRawScores()    {}

// ScoresFromOutput wraps a raw output vector. The slice is copied.
func ScoresFromOutput(out []float32) (RawScores, error) {
	switch len(out) {
	case 0:
		return nil, ErrEmptyOutput
	case 1:
		return ScalarScore(out[0]), nil
	default:
		scores := make(PerClassScores, len(out))
		copy(scores, out)
		return scores, nil
	}
}

package service

import (
	"fmt"

	"agri-inference-service/data"
	"agri-inference-service/model"
)

const (
	perClassCap          = 99
	scalarBoost          = 70
	scalarCap            = 95
	lowConfidence        = 30
	maskedConfidence     = 50
	maskedConfidenceSpan = 40
)

// Interpreter maps raw model scores onto a knowledge base condition.
type Interpreter struct {
	kb  *data.KnowledgeBase
	rnd Random
}

func NewInterpreter(kb *data.KnowledgeBase, rnd Random) *Interpreter {
	return &Interpreter{kb: kb, rnd: orDefault(rnd)}
}

// Interpret builds an OnDeviceModel result without timing information.
//
// Per-class output is matched key by key; a scalar output (or a per-class
// vector shorter than the key list) only yields a confidence, and the
// condition is drawn from the crop's disease keys.
func (in *Interpreter) Interpret(scores model.RawScores, cropType string) (DetectionResult, error) {
	crop, _ := in.kb.Crop(cropType)

	var (
		key        string
		confidence float64
	)
	switch s := scores.(type) {
	case model.PerClassScores:
		if len(s) == 0 {
			return DetectionResult{}, model.ErrEmptyOutput
		}
		if len(s) >= len(crop.Keys()) {
			key, confidence = pickPerClass(s, crop)
		} else {
			key, confidence = in.pickScalar(float64(s[0]), crop)
		}
	case model.ScalarScore:
		key, confidence = in.pickScalar(float64(s), crop)
	default:
		return DetectionResult{}, fmt.Errorf("unsupported score type %T", scores)
	}

	confidence = in.maskLowConfidence(confidence)

	rec, ok := crop.Record(key)
	if !ok {
		return DetectionResult{}, fmt.Errorf("crop %q has no condition %q", crop.Name, key)
	}
	return newResult(rec, crop.Name, confidence, MethodOnDeviceModel), nil
}

// pickPerClass keeps the first key with the highest score. Nothing above zero
// leaves the healthy key selected.
func pickPerClass(s model.PerClassScores, crop *data.Crop) (string, float64) {
	key, best := crop.HealthyKey, 0.0
	for i, k := range crop.Keys() {
		v := min(float64(s[i])*100, perClassCap)
		if v > best {
			best, key = v, k
		}
	}
	return key, best
}

func (in *Interpreter) pickScalar(score float64, crop *data.Crop) (string, float64) {
	confidence := min(score*100+scalarBoost, scalarCap)
	diseases := crop.DiseaseKeys()
	return diseases[in.rnd.IntN(len(diseases))], confidence
}

// maskLowConfidence replaces a confidence under 30 with a draw from [50, 90).
// This hides genuine model uncertainty from the caller.
// TODO: expose the unmasked confidence alongside once the presenter can show it.
func (in *Interpreter) maskLowConfidence(confidence float64) float64 {
	if confidence >= lowConfidence {
		return confidence
	}
	return in.rnd.Float64()*maskedConfidenceSpan + maskedConfidence
}

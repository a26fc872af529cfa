package service

import (
	"context"

	"agri-inference-service/model"
)

// PredictorSource hands out the currently loaded model.
type PredictorSource interface {
	Predictor() (model.Predictor, bool)
}

type InferenceService struct {
	models PredictorSource
}

func NewInferenceService(models PredictorSource) *InferenceService {
	return &InferenceService{models: models}
}

// Infer runs the loaded model over a preprocessed image. A forward pass that
// has started is not interrupted by ctx.
func (s *InferenceService) Infer(ctx context.Context, t *model.Tensor) (model.RawScores, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Err: err}
	}
	p, ok := s.models.Predictor()
	if !ok {
		return nil, &InferenceError{Err: ErrModelUnavailable}
	}

	out, err := p.Predict(t.Data)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	scores, err := model.ScoresFromOutput(out)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	return scores, nil
}

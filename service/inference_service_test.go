package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-inference-service/model"
)

type stubPredictor struct {
	out []float32
	err error
	got []float32
}

func (p *stubPredictor) Predict(input []float32) ([]float32, error) {
	p.got = input
	return p.out, p.err
}

func (p *stubPredictor) Close() error { return nil }

type stubSource struct {
	p     model.Predictor
	ready bool
}

func (s stubSource) Predictor() (model.Predictor, bool) { return s.p, s.ready }

func TestInferClassifiesOutput(t *testing.T) {
	p := &stubPredictor{out: []float32{0.1, 0.9}}
	svc := NewInferenceService(stubSource{p: p, ready: true})
	tensor := &model.Tensor{Data: []float32{1, 2, 3}}

	scores, err := svc.Infer(context.Background(), tensor)
	require.NoError(t, err)
	assert.Equal(t, model.PerClassScores{0.1, 0.9}, scores)
	assert.Equal(t, tensor.Data, p.got)

	p.out = []float32{0.3}
	scores, err = svc.Infer(context.Background(), tensor)
	require.NoError(t, err)
	assert.Equal(t, model.ScalarScore(0.3), scores)
}

func TestInferErrors(t *testing.T) {
	tensor := &model.Tensor{Data: []float32{1}}

	_, err := NewInferenceService(stubSource{}).Infer(context.Background(), tensor)
	var ierr *InferenceError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	boom := errors.New("run failed")
	_, err = NewInferenceService(stubSource{p: &stubPredictor{err: boom}, ready: true}).Infer(context.Background(), tensor)
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, boom)

	_, err = NewInferenceService(stubSource{p: &stubPredictor{}, ready: true}).Infer(context.Background(), tensor)
	assert.ErrorIs(t, err, model.ErrEmptyOutput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewInferenceService(stubSource{p: &stubPredictor{out: []float32{1}}, ready: true}).Infer(ctx, tensor)
	assert.ErrorIs(t, err, context.Canceled)
}

package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-inference-service/data"
	"agri-inference-service/model"
)

func threeKeyKB(t *testing.T) *data.KnowledgeBase {
	t.Helper()
	kb, err := data.ParseKnowledgeBase([]byte(`crops:
  - name: pepper
    healthy_key: healthy
    conditions:
      - {key: spot, name: Leaf Spot, severity: Medium}
      - {key: mildew, name: Powdery Mildew, severity: High}
      - {key: healthy, name: Healthy Leaf, severity: None}
`))
	require.NoError(t, err)
	return kb
}

func TestInterpretPerClassFirstMaximumWins(t *testing.T) {
	in := NewInterpreter(threeKeyKB(t), &scriptedRandom{})

	res, err := in.Interpret(model.PerClassScores{0.9, 0.9, 0.1}, "pepper")
	require.NoError(t, err)
	assert.Equal(t, "Leaf Spot", res.Name)
	assert.Equal(t, 90, res.Confidence)
	assert.Equal(t, data.SeverityMedium, res.Severity)
	assert.Equal(t, MethodOnDeviceModel, res.Method)
	assert.Equal(t, "pepper", res.Crop)
	assert.Nil(t, res.ProcessingTimeMs)
	assert.Empty(t, res.Note)
}

func TestInterpretPerClassCapsAt99(t *testing.T) {
	in := NewInterpreter(defaultKB(t), &scriptedRandom{})

	res, err := in.Interpret(model.PerClassScores{0.1, 1.7, 0.2, 0.3}, "potato")
	require.NoError(t, err)
	assert.Equal(t, "Late Blight", res.Name)
	assert.Equal(t, 99, res.Confidence)
}

func TestInterpretPerClassAllZeroPicksHealthyAndMasks(t *testing.T) {
	in := NewInterpreter(defaultKB(t), &scriptedRandom{floats: []float64{0.5}})

	res, err := in.Interpret(model.PerClassScores{0, 0, 0, 0}, "tomato")
	require.NoError(t, err)
	assert.Equal(t, "Healthy Leaf", res.Name)
	assert.Equal(t, 70, res.Confidence)
}

func TestInterpretScalar(t *testing.T) {
	tests := []struct {
		name       string
		score      float32
		pick       int
		confidence int
		disease    string
	}{
		{name: "zero", score: 0, pick: 0, confidence: 70, disease: "Early Blight"},
		{name: "small", score: 0.01, pick: 1, confidence: 71, disease: "Late Blight"},
		{name: "capped", score: 0.6, pick: 2, confidence: 95, disease: "Bacterial Wilt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInterpreter(defaultKB(t), &scriptedRandom{ints: []int{tt.pick}})

			res, err := in.Interpret(model.ScalarScore(tt.score), "potato")
			require.NoError(t, err)
			assert.Equal(t, tt.confidence, res.Confidence)
			assert.Equal(t, tt.disease, res.Name)
		})
	}
}

func TestInterpretScalarNeverPicksHealthy(t *testing.T) {
	kb := defaultKB(t)
	for pick := 0; pick < 10; pick++ {
		in := NewInterpreter(kb, &scriptedRandom{ints: []int{pick}})
		res, err := in.Interpret(model.ScalarScore(0.2), "tomato")
		require.NoError(t, err)
		assert.NotEqual(t, "Healthy Leaf", res.Name)
	}
}

func TestInterpretShortVectorUsesFirstValue(t *testing.T) {
	in := NewInterpreter(defaultKB(t), &scriptedRandom{ints: []int{0}})

	res, err := in.Interpret(model.PerClassScores{0.1, 0.9}, "potato")
	require.NoError(t, err)
	assert.Equal(t, 80, res.Confidence)
	assert.Equal(t, "Early Blight", res.Name)
}

func TestInterpretLowConfidenceIsMasked(t *testing.T) {
	in := NewInterpreter(defaultKB(t), &scriptedRandom{floats: []float64{0.999}})

	res, err := in.Interpret(model.ScalarScore(-0.5), "potato")
	require.NoError(t, err)
	assert.Equal(t, 90, res.Confidence)

	in = NewInterpreter(defaultKB(t), &scriptedRandom{floats: []float64{0}})
	res, err = in.Interpret(model.ScalarScore(-3), "potato")
	require.NoError(t, err)
	assert.Equal(t, 50, res.Confidence)
}

func TestInterpretUnknownCropUsesDefault(t *testing.T) {
	in := NewInterpreter(defaultKB(t), &scriptedRandom{})

	res, err := in.Interpret(model.PerClassScores{0.2, 0.8, 0.1, 0.3}, "rice")
	require.NoError(t, err)
	assert.Equal(t, "potato", res.Crop)
	assert.Equal(t, "Late Blight", res.Name)
}

func TestInterpretEmptyScores(t *testing.T) {
	in := NewInterpreter(defaultKB(t), nil)

	_, err := in.Interpret(model.PerClassScores{}, "potato")
	assert.ErrorIs(t, err, model.ErrEmptyOutput)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-12))
	assert.Equal(t, 100, ClampConfidence(140.2))
	assert.Equal(t, 72, ClampConfidence(71.5))
	assert.Equal(t, 0, ClampConfidence(math.NaN()))
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoresFromOutput(t *testing.T) {
	_, err := ScoresFromOutput(nil)
	assert.ErrorIs(t, err, ErrEmptyOutput)

	s, err := ScoresFromOutput([]float32{0.4})
	require.NoError(t, err)
	assert.Equal(t, ScalarScore(0.4), s)

	out := []float32{0.1, 0.7, 0.2}
	s, err = ScoresFromOutput(out)
	require.NoError(t, err)
	require.IsType(t, PerClassScores{}, s)
	assert.Equal(t, PerClassScores{0.1, 0.7, 0.2}, s)

	out[0] = 9
	assert.Equal(t, float32(0.1), s.(PerClassScores)[0])
}

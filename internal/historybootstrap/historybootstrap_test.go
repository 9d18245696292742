package historybootstrap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"supportbot/internal/llmgateway"
)

func TestCosineDistanceIdenticalVectorsIsZero(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 0, cosineDistance(a, a), 1e-9)
}

func TestCosineDistanceOrthogonalVectorsIsOne(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 1, cosineDistance(a, b), 1e-9)
}

func TestCosineDistanceMismatchedLengthIsMax(t *testing.T) {
	assert.Equal(t, math.MaxFloat64, cosineDistance([]float32{1}, []float32{1, 2}))
}

func TestCosineDistanceZeroVectorIsMax(t *testing.T) {
	assert.Equal(t, math.MaxFloat64, cosineDistance([]float32{0, 0}, []float32{1, 1}))
}

func TestCaseBlockDocumentJoinsFieldsWithNewlines(t *testing.T) {
	c := llmgateway.CaseResult{
		ProblemTitle:    "title",
		ProblemSummary:  "summary",
		SolutionSummary: "solution",
	}
	doc := caseBlockDocument(c)
	assert.Equal(t, "title\nsummary\nsolution", doc)
}

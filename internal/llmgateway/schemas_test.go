package llmgateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSpansAcceptsSortedNonOverlapping(t *testing.T) {
	r := SpanExtractResult{Cases: []CaseSpan{
		{StartIdx: 0, EndIdx: 10},
		{StartIdx: 11, EndIdx: 20},
	}}
	assert.NoError(t, r.ValidateSpans())
}

func TestValidateSpansRejectsOverlap(t *testing.T) {
	r := SpanExtractResult{Cases: []CaseSpan{
		{StartIdx: 0, EndIdx: 10},
		{StartIdx: 5, EndIdx: 20},
	}}
	assert.Error(t, r.ValidateSpans())
}

func TestValidateSpansRejectsNegativeIndex(t *testing.T) {
	r := SpanExtractResult{Cases: []CaseSpan{{StartIdx: -1, EndIdx: 5}}}
	assert.Error(t, r.ValidateSpans())
}

func TestValidateSpansRejectsStartAfterEnd(t *testing.T) {
	r := SpanExtractResult{Cases: []CaseSpan{{StartIdx: 10, EndIdx: 5}}}
	assert.Error(t, r.ValidateSpans())
}

func TestValidateSpansRejectsInvertedLineRange(t *testing.T) {
	start, end := 10, 2
	r := SpanExtractResult{Cases: []CaseSpan{{StartIdx: 0, EndIdx: 5, StartLine: &start, EndLine: &end}}}
	assert.Error(t, r.ValidateSpans())
}

func TestValidateSpansAcceptsEmpty(t *testing.T) {
	assert.NoError(t, SpanExtractResult{}.ValidateSpans())
}

func TestSortSpansOrdersByStartIdx(t *testing.T) {
	cases := []CaseSpan{{StartIdx: 5}, {StartIdx: 1}, {StartIdx: 3}}
	sortSpans(cases)
	assert.Equal(t, []int{1, 3, 5}, []int{cases[0].StartIdx, cases[1].StartIdx, cases[2].StartIdx})
}

package respondworker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"supportbot/internal/model"
	"supportbot/internal/vectorstore"
)

func TestExcerptShorterThanLimitIsUnchanged(t *testing.T) {
	assert.Equal(t, "hello", excerpt("hello", 200))
}

func TestExcerptTruncatesToRuneLimit(t *testing.T) {
	long := ""
	for i := 0; i < 250; i++ {
		long += "x"
	}
	got := excerpt(long, 200)
	assert.Len(t, []rune(got), 200)
}

func TestFilterSolvedKeepsOnlySolvedStatus(t *testing.T) {
	hits := []vectorstore.Result{
		{CaseID: "a", Metadata: model.VectorMetadata{Status: string(model.CaseSolved)}},
		{CaseID: "b", Metadata: model.VectorMetadata{Status: string(model.CaseOpen)}},
	}
	got := filterSolved(hits)
	assert.Len(t, got, 1)
	assert.Equal(t, "a", got[0].CaseID)
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCaseDocumentRendersProblemThenSolutionThenTags(t *testing.T) {
	c := Case{
		ProblemTitle:    "Build fails on main",
		ProblemSummary:  "CI reports a missing dependency",
		SolutionSummary: "Pin the dependency version in go.mod",
		Tags:            []string{"ci", "build"},
		CreatedAt:       time.Now(),
	}
	want := "Build fails on main\nCI reports a missing dependency\nPin the dependency version in go.mod\nci, build"
	assert.Equal(t, want, c.Document())
}

func TestCaseDocumentWithNoTags(t *testing.T) {
	c := Case{ProblemTitle: "t", ProblemSummary: "s", SolutionSummary: "sol"}
	assert.Equal(t, "t\ns\nsol\n", c.Document())
}

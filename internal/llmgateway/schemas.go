package llmgateway

import (
	"fmt"
	"sort"
)

// ImgExtract is the structured result of describing an attached image.
type ImgExtract struct {
	Observations   []string `json:"observations"`
	ExtractedText  string   `json:"extracted_text"`
}

// DecisionResult gates whether a message is even worth running the
// (expensive) respond pipeline on.
type DecisionResult struct {
	Consider bool   `json:"consider"`
	Tag      string `json:"tag"`
}

// ExtractResult is the live-buffer case finder's output: at most one
// solved case per call, plus the buffer with that case removed.
type ExtractResult struct {
	Found     bool   `json:"found"`
	CaseBlock string `json:"case_block"`
	BufferNew string `json:"buffer_new"`
}

// CaseSpan is one bounded excerpt of a history chunk identified as a
// solved case during bulk history bootstrap.
type CaseSpan struct {
	StartIdx  int    `json:"start_idx"`
	EndIdx    int    `json:"end_idx"`
	StartLine *int   `json:"start_line,omitempty"`
	EndLine   *int   `json:"end_line,omitempty"`
	CaseBlock string `json:"case_block"`
}

// SpanExtractResult is the bulk, chunk-level counterpart to
// ExtractResult, used by history bootstrap.
type SpanExtractResult struct {
	Cases []CaseSpan `json:"cases"`
}

// ValidateSpans enforces that spans are well-formed, sorted, and
// non-overlapping: the same invariant the original case-span validator
// enforces on model output before anything downstream trusts it.
func (r SpanExtractResult) ValidateSpans() error {
	prevEnd := -1
	for i, c := range r.Cases {
		if c.StartIdx < 0 || c.EndIdx < 0 {
			return fmt.Errorf("case span %d has negative indexes", i)
		}
		if c.StartIdx > c.EndIdx {
			return fmt.Errorf("case span %d has start_idx > end_idx", i)
		}
		if c.StartLine != nil && c.EndLine != nil && *c.StartLine > *c.EndLine {
			return fmt.Errorf("case span %d has start_line > end_line", i)
		}
		if c.StartIdx <= prevEnd {
			return fmt.Errorf("case spans must be sorted and non-overlapping")
		}
		prevEnd = c.EndIdx
	}
	return nil
}

// sortSpans is defensive: well-behaved models already return spans in
// order, but a reorder here costs nothing and keeps ValidateSpans the
// single source of truth for "well-formed".
func sortSpans(cases []CaseSpan) {
	sort.Slice(cases, func(i, j int) bool { return cases[i].StartIdx < cases[j].StartIdx })
}

// CaseResult is a case block turned into a structured support case.
type CaseResult struct {
	Keep            bool     `json:"keep"`
	Status          string   `json:"status"`
	ProblemTitle    string   `json:"problem_title"`
	ProblemSummary  string   `json:"problem_summary"`
	SolutionSummary string   `json:"solution_summary"`
	Tags            []string `json:"tags"`
	EvidenceIDs     []string `json:"evidence_ids"`
}

// RespondResult is the draft reply decision for B2 (open question).
type RespondResult struct {
	Respond   bool     `json:"respond"`
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}

// ResolutionResult answers whether an open case has since been solved
// by the content of the group's current buffer.
type ResolutionResult struct {
	Resolved        bool   `json:"resolved"`
	SolutionSummary string `json:"solution_summary"`
}

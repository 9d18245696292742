package bufferworker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"supportbot/internal/model"
)

func TestCanonicalLineFormat(t *testing.T) {
	msg := model.RawMessage{TS: 0, SenderHash: "deadbeef", ContentText: "hello"}
	line := canonicalLine(msg)
	assert.Equal(t, "[1970-01-01T00:00:00Z] deadbeef: hello\n", line)
}

func TestMatchEvidenceIDsKeepsOnlyIDsPresentInBlock(t *testing.T) {
	block := "evidence msg-1 and msg-2 are here"
	got := matchEvidenceIDs([]string{"msg-1", "msg-2", "msg-3"}, block)
	assert.Equal(t, []string{"msg-1", "msg-2"}, got)
}

func TestMatchEvidenceIDsEmptyDeclared(t *testing.T) {
	got := matchEvidenceIDs(nil, "anything")
	assert.Empty(t, got)
}

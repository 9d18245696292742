package historybootstrap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportbot/internal/model"
)

func transcriptOf(n int, textLen int) []model.RawMessage {
	msgs := make([]model.RawMessage, n)
	for i := range msgs {
		msgs[i] = model.RawMessage{
			SenderHash:  "abc123",
			ContentText: strings.Repeat("x", textLen),
		}
	}
	return msgs
}

func TestSplitChunksSingleChunkUnderCap(t *testing.T) {
	transcript := transcriptOf(5, 10)
	chunks := SplitChunks(transcript, 12000, 3)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestSplitChunksRespectsCharCap(t *testing.T) {
	// Each line is well over 20 chars; a cap of 50 forces multiple chunks.
	transcript := transcriptOf(20, 20)
	chunks := SplitChunks(transcript, 50, 0)
	require.Greater(t, len(chunks), 1)
	line := canonicalLine(transcript[0])
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 50+2*len(line))
	}
}

func TestSplitChunksOverlapCarriesForwardLines(t *testing.T) {
	transcript := transcriptOf(10, 20)
	chunks := SplitChunks(transcript, 50, 2)
	require.Greater(t, len(chunks), 1)
	// the tail of chunk N should reappear at the head of chunk N+1: each
	// line exceeds the cap, so chunk 0 holds one line and chunk 1 holds
	// that carried-over line plus its own new line
	line := canonicalLine(transcript[0])
	secondChunkLines := strings.Count(chunks[1].Text, line)
	assert.GreaterOrEqual(t, secondChunkLines, 2)
}

func TestSplitChunksEmptyTranscript(t *testing.T) {
	chunks := SplitChunks(nil, 12000, 3)
	assert.Empty(t, chunks)
}

package historybootstrap

import (
	"strings"
	"time"

	"supportbot/internal/model"
)

// Chunk is one overlapping slice of a transcript, bounded by a
// character cap, ready for independent extraction.
type Chunk struct {
	Index int
	Text  string
}

// canonicalLine matches bufferworker's line format so chunked history
// and the live buffer feed the same extraction prompt shape.
func canonicalLine(msg model.RawMessage) string {
	ts := time.UnixMilli(msg.TS).UTC().Format(time.RFC3339)
	return "[" + ts + "] " + msg.SenderHash + ": " + msg.ContentText + "\n"
}

// SplitChunks slices transcript into overlapping chunks, each chunk
// repeating the last overlapMessages messages of the previous one so a
// case spanning a chunk seam is still recoverable whole in at least one
// chunk (spec.md §4.5). A chunk is closed when the next line would take
// it past charCap characters; the cap is not enforced on the carried-over
// overlap lines, so a chunk exceeds charCap when a single line, or the
// overlap lines plus the next line, are longer than charCap.
func SplitChunks(transcript []model.RawMessage, charCap, overlapMessages int) []Chunk {
	if charCap <= 0 {
		charCap = 12000
	}
	if overlapMessages < 0 {
		overlapMessages = 0
	}

	var chunks []Chunk
	var cur strings.Builder
	var curMsgs []string
	start := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: cur.String()})
	}

	for i := start; i < len(transcript); i++ {
		line := canonicalLine(transcript[i])
		if cur.Len() > 0 && cur.Len()+len(line) > charCap {
			flush()
			cur.Reset()
			overlapStart := len(curMsgs) - overlapMessages
			if overlapStart < 0 {
				overlapStart = 0
			}
			for _, l := range curMsgs[overlapStart:] {
				cur.WriteString(l)
			}
			curMsgs = append([]string{}, curMsgs[overlapStart:]...)
		}
		cur.WriteString(line)
		curMsgs = append(curMsgs, line)
	}
	flush()
	return chunks
}

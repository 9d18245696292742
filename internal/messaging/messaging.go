// Package messaging is the narrow boundary to the group-chat
// transport. The transport itself (Signal, Matrix, Slack, whatever the
// deployment wires up) is an external collaborator outside this
// repo's scope; this package only defines what the pipeline needs from
// it and ships an in-memory stub good enough for tests and local runs.
package messaging

import (
	"context"
	"fmt"
	"sync"
)

// Quote anchors a reply to the message that prompted it, the same
// quote_timestamp/quote_author/quote_message triple the source
// adapter's send_group_text took as optional keyword arguments.
type Quote struct {
	TS      int64
	Sender  string
	Excerpt string
}

// Adapter is everything the response worker needs from the chat
// transport.
type Adapter interface {
	// SendGroupText sends text to groupID, quoting quote (nil for no
	// quote) and notifying mentions (nil/empty for none).
	SendGroupText(ctx context.Context, groupID, text string, quote *Quote, mentions []string) error
	ListGroups(ctx context.Context) ([]string, error)
}

// StubAdapter is an in-memory Adapter recording sent messages, used in
// tests and as a safe default when no real transport is configured.
type StubAdapter struct {
	mu     sync.Mutex
	groups []string
	Sent   []SentMessage
}

// SentMessage records one SendGroupText call for test assertions.
type SentMessage struct {
	GroupID  string
	Text     string
	Quote    *Quote
	Mentions []string
}

// NewStub builds a StubAdapter seeded with the given group IDs.
func NewStub(groups ...string) *StubAdapter {
	return &StubAdapter{groups: groups}
}

func (s *StubAdapter) SendGroupText(ctx context.Context, groupID, text string, quote *Quote, mentions []string) error {
	if groupID == "" {
		return fmt.Errorf("messaging: group id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = append(s.Sent, SentMessage{GroupID: groupID, Text: text, Quote: quote, Mentions: mentions})
	return nil
}

func (s *StubAdapter) ListGroups(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

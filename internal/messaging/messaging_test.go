package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubAdapterRecordsQuoteAndMentions(t *testing.T) {
	stub := NewStub("group-1")
	quote := &Quote{TS: 100, Sender: "asker-hash", Excerpt: "how do I reset my password?"}

	err := stub.SendGroupText(context.Background(), "group-1", "here's how", quote, []string{"asker-hash"})
	require.NoError(t, err)

	require.Len(t, stub.Sent, 1)
	sent := stub.Sent[0]
	assert.Equal(t, "group-1", sent.GroupID)
	assert.Equal(t, quote, sent.Quote)
	assert.Equal(t, []string{"asker-hash"}, sent.Mentions)
}

func TestStubAdapterRejectsEmptyGroupID(t *testing.T) {
	stub := NewStub()
	err := stub.SendGroupText(context.Background(), "", "text", nil, nil)
	assert.Error(t, err)
}

func TestStubAdapterListGroupsReturnsSeeded(t *testing.T) {
	stub := NewStub("a", "b")
	groups, err := stub.ListGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, groups)
}

package compression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/costgate/internal/store"
)

func TestBuildPrompt_SmallBlocksInlined(t *testing.T) {
	e, _ := newTestEngine(t, newTestStore(t), nil, Options{})

	req := e.BuildPrompt(PromptInput{
		SystemPrompt: "You are helpful.",
		Summary:      &store.ConversationSummary{SummaryText: "Topics: go", CoveredMessageCount: 2},
		History:      rounds(3, 5),
		Message:      "next question",
	})

	require.Len(t, req.System, 2)
	assert.Equal(t, "You are helpful.", req.System[0].Text)
	assert.False(t, req.System[0].Cache)
	assert.True(t, strings.HasPrefix(req.System[1].Text, summaryPreamble))
	assert.False(t, req.System[1].Cache)

	// Covered messages are dropped; rounds 1 and 2 plus the current message.
	require.Len(t, req.Messages, 5)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "q1 "))
	assert.Equal(t, store.RoleUser, req.Messages[4].Role)
	assert.Equal(t, "next question", req.Messages[4].Content)
}

func TestBuildPrompt_LargeBlocksCached(t *testing.T) {
	e, _ := newTestEngine(t, newTestStore(t), nil, Options{})

	req := e.BuildPrompt(PromptInput{
		SystemPrompt: strings.Repeat("s", 4*1024),
		Summary:      &store.ConversationSummary{SummaryText: strings.Repeat("m", 4*512)},
		Message:      "hi",
	})
	require.Len(t, req.System, 2)
	assert.True(t, req.System[0].Cache)
	assert.True(t, req.System[1].Cache)
}

func TestBuildPrompt_ThresholdsAreIndependent(t *testing.T) {
	e, _ := newTestEngine(t, newTestStore(t), nil, Options{})

	req := e.BuildPrompt(PromptInput{
		SystemPrompt: "short",
		Summary:      &store.ConversationSummary{SummaryText: strings.Repeat("m", 4*600)},
		Message:      "hi",
	})
	require.Len(t, req.System, 2)
	assert.False(t, req.System[0].Cache)
	assert.True(t, req.System[1].Cache)
}

func TestBuildPrompt_ContextLast(t *testing.T) {
	e, _ := newTestEngine(t, newTestStore(t), nil, Options{})

	req := e.BuildPrompt(PromptInput{
		SystemPrompt: "sys",
		Context:      "Search results:\n1. Title",
		Message:      "hi",
	})
	require.Len(t, req.System, 2)
	assert.Equal(t, "Search results:\n1. Title", req.System[1].Text)
	assert.False(t, req.System[1].Cache)
	require.Len(t, req.Messages, 1)
}

func TestBuildPrompt_SkipsLeadingAssistant(t *testing.T) {
	e, _ := newTestEngine(t, newTestStore(t), nil, Options{})

	history := rounds(2, 5)
	req := e.BuildPrompt(PromptInput{
		Summary: &store.ConversationSummary{SummaryText: "s", CoveredMessageCount: 1},
		History: history,
		Message: "hi",
	})
	require.Len(t, req.Messages, 3)
	assert.Equal(t, store.RoleUser, req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "q1 "))
}

func TestBuildPrompt_EmptySystemPrompt(t *testing.T) {
	e, _ := newTestEngine(t, newTestStore(t), nil, Options{})
	req := e.BuildPrompt(PromptInput{Message: "hi"})
	assert.Empty(t, req.System)
	require.Len(t, req.Messages, 1)
}

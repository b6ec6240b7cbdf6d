package compression

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/store"
	"github.com/fyrsmithlabs/costgate/internal/textproc"
)

const maxTopics = 8

// Summary is a summarizer's output.
type Summary struct {
	Text   string
	Topics []string
	Usage  llm.Usage
	Model  string
}

// Summarizer condenses a rendered transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (*Summary, error)
}

const summaryInstruction = `You compress chat history so an assistant can continue the conversation without the original messages.

Write a compact summary with these sections:
Topics: <comma-separated list of the main topics>
Resolved: questions that were answered and the answers given
Pending: open questions or tasks not yet finished
Preferences: what the user prefers (style, tools, constraints)
Facts: names, numbers, dates and decisions that later turns may depend on

If a previous summary is included, merge it into the new one. Omit empty sections.
Do not add commentary before or after the summary.`

// LLMSummarizer calls a cheap model with a fixed instruction.
type LLMSummarizer struct {
	client    llm.Client
	model     string
	maxTokens int
}

// NewLLMSummarizer creates a summarizer calling model through client.
func NewLLMSummarizer(client llm.Client, model string, maxTokens int) *LLMSummarizer {
	return &LLMSummarizer{client: client, model: model, maxTokens: maxTokens}
}

// Summarize sends the transcript and returns the trimmed summary text.
func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (*Summary, error) {
	resp, err := s.client.Complete(ctx, llm.Request{
		Model:     s.model,
		System:    []llm.SystemBlock{{Text: summaryInstruction}},
		Messages:  []llm.Message{{Role: store.RoleUser, Content: transcript}},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return &Summary{Usage: resp.Usage, Model: resp.Model}, llm.ErrEmptyResponse
	}
	model := resp.Model
	if model == "" {
		model = s.model
	}
	return &Summary{
		Text:   text,
		Topics: ParseTopics(text),
		Usage:  resp.Usage,
		Model:  model,
	}, nil
}

// ParseTopics reads the comma-separated "Topics:" line of a summary.
// It returns nil when there is no such line.
func ParseTopics(summary string) []string {
	for _, line := range strings.Split(summary, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "#*- ")
		if len(line) < len("topics:") || !strings.EqualFold(line[:len("topics:")], "topics:") {
			continue
		}
		var topics []string
		seen := make(map[string]bool)
		for _, part := range strings.Split(line[len("topics:"):], ",") {
			t := strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "*.")))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			topics = append(topics, t)
			if len(topics) == maxTopics {
				break
			}
		}
		return topics
	}
	return nil
}

// keyTopics prefers the summary's own topic line and falls back to the
// most frequent content words of the summarized text.
func keyTopics(s *Summary, source string) []string {
	if len(s.Topics) > 0 {
		return s.Topics
	}
	if t := ParseTopics(s.Text); len(t) > 0 {
		return t
	}
	return textproc.TopTerms(source, 5)
}

// renderTranscript writes the messages to summarize, prefixed by the
// summary they extend.
func renderTranscript(previous *store.ConversationSummary, msgs []store.Message) string {
	var b strings.Builder
	if previous != nil && previous.SummaryText != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(previous.SummaryText)
		b.WriteString("\n\nConversation since then:\n")
	} else {
		b.WriteString("Conversation:\n")
	}
	for _, m := range msgs {
		switch m.Role {
		case store.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}
	return b.String()
}

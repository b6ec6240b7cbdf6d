package compression

import (
	"strings"

	"github.com/fyrsmithlabs/costgate/internal/llm"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

const summaryPreamble = "Summary of the earlier part of this conversation:\n"

// PromptInput is everything that goes into one upstream request.
type PromptInput struct {
	SystemPrompt string
	Summary      *store.ConversationSummary
	// History is the full stored history. Messages already covered by
	// Summary are dropped.
	History []store.Message
	Message string
	// Context is retrieved search or page content for this turn only.
	Context string
}

// BuildPrompt layers a request: system prompt, summary, per-turn context,
// then the uncovered history and the current message. Model and MaxTokens
// are left for the caller.
func (e *Engine) BuildPrompt(in PromptInput) llm.Request {
	var req llm.Request

	if sp := strings.TrimSpace(in.SystemPrompt); sp != "" {
		req.System = append(req.System, llm.SystemBlock{
			Text:  sp,
			Cache: EstimateTokens(sp, e.cfg.CharsPerToken) >= e.cfg.SystemCacheMinTokens,
		})
	}

	covered := 0
	if in.Summary != nil && strings.TrimSpace(in.Summary.SummaryText) != "" {
		text := summaryPreamble + in.Summary.SummaryText
		req.System = append(req.System, llm.SystemBlock{
			Text:  text,
			Cache: EstimateTokens(text, e.cfg.CharsPerToken) >= e.cfg.SummaryCacheMinTokens,
		})
		covered = min(in.Summary.CoveredMessageCount, len(in.History))
	}

	if c := strings.TrimSpace(in.Context); c != "" {
		req.System = append(req.System, llm.SystemBlock{Text: c})
	}

	recent := in.History[covered:]
	for len(recent) > 0 && recent[0].Role != store.RoleUser {
		recent = recent[1:]
	}
	req.Messages = make([]llm.Message, 0, len(recent)+1)
	for _, m := range recent {
		req.Messages = append(req.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	req.Messages = append(req.Messages, llm.Message{Role: store.RoleUser, Content: in.Message})
	return req
}

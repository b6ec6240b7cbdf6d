package decision

import (
	"github.com/fyrsmithlabs/costgate/internal/store"
	"github.com/fyrsmithlabs/costgate/internal/textproc"
)

// DefaultMustSearchKeywords are temporal and real-time terms.
var DefaultMustSearchKeywords = []string{
	"today", "tonight", "yesterday", "tomorrow", "right now", "currently",
	"current events", "latest", "recent", "recently", "breaking", "news",
	"headlines", "this week", "this month", "this year", "weather", "forecast",
	"price", "prices", "stock", "stocks", "score", "scores", "live score",
	"live scores", "live results", "election", "release date", "trending",
	"exchange rate",
}

// DefaultNoSearchKeywords are creative, explanatory and coding terms.
var DefaultNoSearchKeywords = []string{
	"write", "code", "function", "program", "script", "implement", "refactor",
	"debug", "explain", "define", "definition", "poem", "story", "essay",
	"joke", "translate", "summarize", "rewrite", "proofread", "brainstorm",
	"calculate", "algorithm", "regex", "python", "golang", "javascript", "sql",
}

// DefaultExplicitPhrases force a search.
var DefaultExplicitPhrases = []string{
	"search for", "search the web", "search online", "web search", "look up",
	"lookup", "google", "find online", "check online", "browse the web",
	"find sources",
}

var searchTypeHints = []struct {
	typ   store.SearchType
	terms []string
}{
	{store.SearchVerification, []string{"is it true", "fact check", "verify", "confirm", "true that", "hoax", "debunk"}},
	{store.SearchNews, []string{"news", "breaking", "headlines", "election", "announced", "announcement", "happened"}},
	{store.SearchData, []string{"price", "prices", "stock", "stocks", "weather", "forecast", "score", "scores",
		"exchange rate", "statistics", "population", "rate", "how much", "how many"}},
}

// InferSearchType guesses what kind of search tokens call for.
func InferSearchType(tokens []string) store.SearchType {
	for _, h := range searchTypeHints {
		if _, ok := textproc.FirstPhrase(tokens, h.terms); ok {
			return h.typ
		}
	}
	return store.SearchGeneral
}

func orDefault(configured, fallback []string) []string {
	if len(configured) == 0 {
		return fallback
	}
	return configured
}

package textproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"punctuation and case", "What's the Weather, in TOKYO?!", "what s the weather in tokyo"},
		{"whitespace collapse", "  many \t spaces\nhere  ", "many spaces here"},
		{"digits kept", "Top 10 GPUs of 2025", "top 10 gpus of 2025"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestContainsPhrase(t *testing.T) {
	tokens := Tokens("Do you know the latest news about Rust?")

	assert.True(t, ContainsPhrase(tokens, "latest"))
	assert.True(t, ContainsPhrase(tokens, "latest news"))
	assert.True(t, ContainsPhrase(tokens, "Latest, News"))
	assert.False(t, ContainsPhrase(tokens, "now"), "whole tokens only")
	assert.False(t, ContainsPhrase(tokens, "news latest"))
	assert.False(t, ContainsPhrase(tokens, ""))
}

func TestFirstPhrase(t *testing.T) {
	tokens := Tokens("please look up the schedule")

	p, ok := FirstPhrase(tokens, []string{"search for", "look up"})
	assert.True(t, ok)
	assert.Equal(t, "look up", p)

	_, ok = FirstPhrase(tokens, []string{"google"})
	assert.False(t, ok)
}

func TestCosine(t *testing.T) {
	a := Tokens("latest rust release notes")

	assert.InDelta(t, 1.0, Cosine(a, Tokens("Latest Rust release notes!")), 1e-9)
	assert.InDelta(t, 0.0, Cosine(a, Tokens("python tutorial")), 1e-9)
	assert.InDelta(t, 0.75, Cosine(a, Tokens("latest rust release schedule")), 1e-9)
	assert.Zero(t, Cosine(nil, a))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard([]string{"a", "b"}, []string{"b", "a", "a"}), 1e-9)
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.Zero(t, Jaccard(nil, nil))
	assert.Zero(t, Jaccard([]string{"a"}, nil))
}

func TestTopTerms(t *testing.T) {
	text := "Kubernetes deployment failed. The kubernetes pods restart; deployment rollback worked."

	assert.Equal(t, []string{"deployment", "kubernetes", "failed"}, TopTerms(text, 3))
	assert.Nil(t, TopTerms(text, 0))
	assert.Empty(t, TopTerms("the and of", 5))
}

package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestToken(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain id",
			input:    "alice",
			expected: "alice",
		},
		{
			name:     "case preserved",
			input:    "Alice-01",
			expected: "Alice-01",
		},
		{
			name:     "subject wildcards replaced",
			input:    "a.b *>c",
			expected: "a_b___c",
		},
		{
			name:     "email address",
			input:    "bob@example.com",
			expected: "bob_example_com",
		},
		{
			name:     "empty is anonymous",
			input:    "",
			expected: DefaultToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Token(tt.input); got != tt.expected {
				t.Errorf("Token(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestToken_LengthLimit(t *testing.T) {
	long := strings.Repeat("u", 100)
	got := Token(long)
	if len(got) != MaxTokenLength {
		t.Errorf("Token() length = %d, want %d", len(got), MaxTokenLength)
	}
	if !strings.HasPrefix(got, strings.Repeat("u", MaxTokenLength-HashSuffixLength)+"_") {
		t.Errorf("Token() = %q, want truncated prefix with hash suffix", got)
	}
}

func TestToken_LengthLimit_Uniqueness(t *testing.T) {
	a := Token(strings.Repeat("x", 80) + ".a")
	b := Token(strings.Repeat("x", 80) + ".b")
	if a == b {
		t.Errorf("long ids with different suffixes collided: %q", a)
	}
}

func TestToken_ExactlyMaxLength(t *testing.T) {
	id := strings.Repeat("k", MaxTokenLength)
	if got := Token(id); got != id {
		t.Errorf("Token() = %q, want unchanged", got)
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "empty allowed", input: ""},
		{name: "plain", input: "alice"},
		{name: "email", input: "bob@example.com"},
		{name: "unicode", input: "zoë"},
		{name: "max length", input: strings.Repeat("a", MaxUserIDLength)},
		{name: "too long", input: strings.Repeat("a", MaxUserIDLength+1), wantErr: true},
		{name: "newline", input: "alice\nadmin", wantErr: true},
		{name: "surrounding space", input: " alice", wantErr: true},
		{name: "invalid utf8", input: "al\xffice", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidUserID) {
					t.Errorf("ValidateUserID(%q) = %v, want ErrInvalidUserID", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateUserID(%q) unexpected error: %v", tt.input, err)
			}
		})
	}
}

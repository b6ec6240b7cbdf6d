// Package sanitize validates caller-supplied user ids and derives safe
// identifiers from them.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxUserIDLength is the longest user id accepted from callers.
	MaxUserIDLength = 128

	// MaxTokenLength is the longest token Token returns.
	MaxTokenLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated tokens.
	// Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultToken is used when sanitization produces an empty result.
	DefaultToken = "anonymous"
)

// ErrInvalidUserID indicates a user id that cannot be stored or logged as is.
var ErrInvalidUserID = errors.New("invalid user id")

// ValidateUserID checks a caller-supplied user id. Empty is allowed and
// means anonymous.
func ValidateUserID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUserID, MaxUserIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidUserID)
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: leading or trailing whitespace", ErrInvalidUserID)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidUserID)
		}
	}
	return nil
}

// Token maps an id onto [A-Za-z0-9_-], the characters safe in a NATS
// subject token or a metric label.
//
// Examples:
//
//	"alice"       -> "alice"
//	"a.b *>c"     -> "a_b___c"
//	""            -> "anonymous"
func Token(id string) string {
	if id == "" {
		return DefaultToken
	}
	tok := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if len(tok) > MaxTokenLength {
		tok = truncateWithHash(id, tok)
	}
	return tok
}

// truncateWithHash shortens tok to MaxTokenLength, appending a hash of the
// original id so distinct long ids stay distinct.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(id, tok string) string {
	hash := sha256.Sum256([]byte(id))
	return tok[:MaxTokenLength-HashSuffixLength] + "_" + hex.EncodeToString(hash[:])[:8]
}

// Package textproc holds the lexical helpers shared by the decision engine,
// result cache and compression engine: normalization, tokenization, phrase
// matching and bag-of-words similarity.
package textproc

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Normalize lower-cases s, replaces every rune that is not a letter or a
// digit with a space and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Tokens returns the normalized words of s in order.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ContentWords returns the tokens of s that are not stopwords and are longer
// than three characters.
func ContentWords(s string) []string {
	var out []string
	for _, tok := range Tokens(s) {
		if len(tok) > 3 && !isStopword(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// ContainsPhrase reports whether phrase occurs in tokens as a contiguous run
// of whole tokens. The phrase is normalized the same way as the message.
func ContainsPhrase(tokens []string, phrase string) bool {
	p := Tokens(phrase)
	if len(p) == 0 || len(p) > len(tokens) {
		return false
	}
	for i := 0; i+len(p) <= len(tokens); i++ {
		match := true
		for j := range p {
			if tokens[i+j] != p[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// FirstPhrase returns the first phrase from phrases found in tokens.
func FirstPhrase(tokens []string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if ContainsPhrase(tokens, p) {
			return p, true
		}
	}
	return "", false
}

// Cosine computes the cosine similarity of the term-frequency vectors of two
// token lists. Returns 0 when either list is empty.
func Cosine(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	fa := frequencies(a)
	fb := frequencies(b)

	var dot, magA, magB float64
	for term, ca := range fa {
		dot += ca * fb[term]
		magA += ca * ca
	}
	for _, cb := range fb {
		magB += cb * cb
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Jaccard computes |A∩B| / |A∪B| over the distinct tokens of a and b.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// TopTerms returns up to n content words of text ordered by frequency,
// ties broken alphabetically.
func TopTerms(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, w := range ContentWords(text) {
		counts[w]++
	}

	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func frequencies(tokens []string) map[string]float64 {
	f := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		f[t]++
	}
	return f
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"should": true, "could": true, "may": true, "might": true, "must": true,
	"can": true, "this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "as": true, "which": true, "who": true,
	"when": true, "where": true, "why": true, "how": true, "what": true,
	"about": true, "there": true, "their": true, "them": true, "they": true,
	"then": true, "than": true, "into": true, "your": true, "you": true,
	"just": true, "also": true, "very": true, "some": true, "such": true,
	"user": true, "assistant": true,
}

func isStopword(word string) bool {
	return stopwords[word]
}

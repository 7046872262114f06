// Package match scores catalog records against free-text queries for
// ranking merged search results.
package match

import "strings"

// Similarity scores how well target matches query on a 0..100 scale.
// Tiers: exact, prefix, whole-token, substring; anything else degrades to a
// Levenshtein-based score capped at 60. Case-insensitive.
func Similarity(query, target string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(strings.TrimSpace(target))

	if q == "" || t == "" {
		return 0
	}
	if q == t {
		return 100
	}
	if strings.HasPrefix(t, q) {
		return 90
	}
	for _, tok := range tokenize(t) {
		if tok == q {
			return 80
		}
	}
	if strings.Contains(t, q) {
		return 70
	}

	maxLen := len(q)
	if len(t) > maxLen {
		maxLen = len(t)
	}
	d := levenshtein(q, t)
	return (maxLen - d) * 60 / maxLen
}

// ScoreRecord scores a whole record by query-token coverage: a query token
// counts as matched when it is a substring of any field or reaches 70 against
// any field token. The result is the matched fraction scaled to 0..100.
func ScoreRecord(query string, fields ...string) int {
	tokens := tokenize(strings.ToLower(query))
	if len(tokens) == 0 {
		// Queries of only separator/punctuation characters fall back to a
		// plain substring check.
		q := strings.ToLower(strings.TrimSpace(query))
		if q == "" {
			return 0
		}
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), q) {
				return 70
			}
		}
		return 0
	}

	matched := 0
	for _, tok := range tokens {
		if tokenMatches(tok, fields) {
			matched++
		}
	}
	return matched * 100 / len(tokens)
}

// ExternalBoost favors the broader external catalog on ties: +5, capped at 100.
func ExternalBoost(score int) int {
	score += 5
	if score > 100 {
		score = 100
	}
	return score
}

func tokenMatches(tok string, fields []string) bool {
	for _, f := range fields {
		lf := strings.ToLower(f)
		if strings.Contains(lf, tok) {
			return true
		}
		for _, ft := range tokenize(lf) {
			if Similarity(tok, ft) >= 70 {
				return true
			}
		}
	}
	return false
}

// tokenize splits on whitespace, hyphens and underscores, dropping tokens
// with no letters or digits.
func tokenize(s string) []string {
	raw := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '-' || r == '_'
	})
	tokens := raw[:0]
	for _, tok := range raw {
		if strings.ContainsFunc(tok, isAlnum) {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

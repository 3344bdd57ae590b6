// Package moderation provides content filtering for chat messages. It screens
// outbound sends for prohibited terms and spam patterns before the message
// pipeline persists anything; a blocked message is rejected to the sender and
// never reaches storage or other members.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult describes the outcome of a content check. A zero value means
// the text is clean.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term or pattern name
}

// Filter screens message text against a keyword blocklist and the spam
// pattern checks. It is immutable after construction and safe for concurrent
// use.
type Filter struct {
	words   map[string]struct{} // single-word terms, lowercase
	phrases []string            // multi-word terms, lowercase
}

// defaultTerms is the built-in blocklist: slurs, self-harm incitement,
// exploitation, hate speech, threats, and common scam bait. Deployments
// layer their own terms on top via NewFilterWithTerms.
var defaultTerms = []string{
	// slurs
	"nigger",
	"nigga",
	"faggot",
	"tranny",
	"kike",
	"spic",
	"chink",
	// self-harm incitement
	"kill yourself",
	"kys",
	"go die",
	"neck yourself",
	// exploitation
	"child porn",
	"cp trade",
	"send nudes",
	"nudes for sale",
	// hate speech
	"heil hitler",
	"gas the",
	"white power",
	// threats
	"bomb threat",
	"shoot up",
	"i will kill you",
	// scam bait
	"free bitcoin",
	"free crypto",
	"double your money",
	"onlyfans leak",
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter from an explicit term list. Terms
// containing whitespace are matched as whole phrases, everything else as
// whole words. Empty and blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsFunc(term, unicode.IsSpace) {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and returns the first violation found. The keyword
// blocklist is checked before the spam patterns, on both the plain and the
// leet-normalized reading of the text, so "b@dw0rd" cannot slip past a
// "badword" entry.
func (f *Filter) Check(text string) FilterResult {
	if text == "" {
		return FilterResult{}
	}

	plain := tokenizePlain(text)
	if res := f.checkTokens(plain); res.Blocked {
		return res
	}

	leet := tokenizeLeet(text)
	normalized := make([]string, len(leet))
	for i, tok := range leet {
		normalized[i] = normalizeLeet(tok)
	}
	if res := f.checkTokens(normalized); res.Blocked {
		return res
	}

	return f.checkSpamPatterns(text)
}

// checkTokens matches lowercase tokens against the word set and the token
// stream against the phrase list.
func (f *Filter) checkTokens(tokens []string) FilterResult {
	if len(tokens) == 0 {
		return FilterResult{}
	}

	lowered := make([]string, len(tokens))
	for i, tok := range tokens {
		lowered[i] = strings.ToLower(tok)
	}

	for _, tok := range lowered {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}

	if len(f.phrases) > 0 {
		// Whole-word phrase match: pad with spaces so "kill yourself" does
		// not match inside "kill yourselves".
		joined := " " + strings.Join(lowered, " ") + " "
		for _, phrase := range f.phrases {
			if strings.Contains(joined, " "+phrase+" ") {
				return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: phrase}
			}
		}
	}
	return FilterResult{}
}

// leetMap maps common character substitutions back to the letters they stand
// in for.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet rewrites common substitutions ("b@dw0rd" -> "badword") and
// lowercases the result.
func normalizeLeet(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range strings.ToLower(token) {
		if sub, ok := leetMap[r]; ok {
			r = sub
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tokenizePlain splits text into alphanumeric tokens, discarding punctuation.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace only, keeping substitution characters
// inside tokens so normalizeLeet can decode them.
func tokenizeLeet(text string) []string {
	return strings.Fields(text)
}

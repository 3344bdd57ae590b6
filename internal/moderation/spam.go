package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Flood thresholds: runs at or above these lengths block the message.
const (
	floodCharRun = 5 // consecutive identical characters
	floodWordRun = 3 // consecutive identical words, case-insensitive
)

// Patterns are compiled once at package init and shared across goroutines.
var (
	// urlPattern matches http/https URLs, www. hosts, and bare domains on
	// TLDs common in chat spam, including the gg domains used for server
	// invite links. The bare-domain form requires a trailing "/" so version
	// strings like "v2.0" and decimals like "3.14" pass through.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|gg|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches phone formats like +1-555-123-4567,
	// (555) 123-4567, and 555.123.4567. It is anchored to whitespace or
	// string boundaries so digit runs inside ordinary words and short
	// numbers like "100" do not trip it.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// spamCheck names a detection function; the name becomes FilterResult.Term.
type spamCheck struct {
	name  string
	match func(string) bool
}

// spamChecks is applied in order; the first match wins.
var spamChecks = []spamCheck{
	{name: "url", match: urlPattern.MatchString},
	{name: "phone", match: phonePattern.MatchString},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// hasCharFlood reports whether text contains floodCharRun or more consecutive
// identical characters. RE2 has no backreferences, so this is a linear scan.
func hasCharFlood(text string) bool {
	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= floodCharRun {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports whether the same whitespace-delimited word repeats
// floodWordRun or more times in a row, ignoring case.
func hasWordFlood(text string) bool {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < floodWordRun {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= floodWordRun {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}

// checkSpamPatterns runs the spam checks against text and returns a blocking
// FilterResult naming the first pattern that matched, or a zero FilterResult
// when the text is clean.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, sc := range spamChecks {
		if sc.match(text) {
			return FilterResult{
				Blocked: true,
				Reason:  "spam_pattern",
				Term:    sc.name,
			}
		}
	}
	return FilterResult{}
}

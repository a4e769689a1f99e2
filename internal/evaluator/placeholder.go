package evaluator

import (
	"regexp"
	"strings"
)

var (
	blankRe     = regexp.MustCompile(`_{2,}`)
	namePholdRe = regexp.MustCompile(`(?i)[\[<{]\s*name\s*[\]>}]`)
	agePholdRe  = regexp.MustCompile(`(?i)[\[<{]\s*age\s*[\]>}]`)
	spaceRe     = regexp.MustCompile(`\s{2,}`)
)

// HasPlaceholder reports whether s still contains a blank or a bracketed
// name/age token.
func HasPlaceholder(s string) bool {
	return blankRe.MatchString(s) || namePholdRe.MatchString(s) || agePholdRe.MatchString(s)
}

// RepairPlaceholders fills blanks and placeholder tokens in a corrected
// sentence with the learner's own words. Bare blanks take the age on turn 2
// and the name elsewhere. The result may be empty if sentence was.
func RepairPlaceholders(sentence, userText string, turn int) string {
	if !HasPlaceholder(sentence) {
		return strings.TrimSpace(sentence)
	}
	name := ExtractName(userText)
	age := ExtractAge(userText)

	s := namePholdRe.ReplaceAllLiteralString(sentence, name)
	s = agePholdRe.ReplaceAllLiteralString(s, age)
	blank := name
	if turn == 2 {
		blank = age
	}
	s = blankRe.ReplaceAllLiteralString(s, blank)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

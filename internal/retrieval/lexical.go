package retrieval

import (
	"strings"
	"unicode"
)

// lexicalStopwords are excluded from overlap scoring; they match almost
// any chunk and drown the signal.
var lexicalStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "do": true, "does": true, "for": true,
	"from": true, "how": true, "i": true, "in": true, "is": true, "it": true,
	"my": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "will": true, "with": true,
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// lexicalScore measures query-term overlap against the chunk text as the
// fraction of content-bearing query tokens present in the text, either as
// tokens or as substrings. Returns a value in [0, 1].
func lexicalScore(query, chunkText string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || chunkText == "" {
		return 0
	}

	textLower := strings.ToLower(chunkText)
	textTokens := make(map[string]bool)
	for _, tok := range tokenize(chunkText) {
		textTokens[tok] = true
	}

	var considered, matched int
	for _, tok := range queryTokens {
		if lexicalStopwords[tok] {
			continue
		}
		considered++
		if textTokens[tok] || (len(tok) >= 4 && strings.Contains(textLower, tok)) {
			matched++
		}
	}
	if considered == 0 {
		return 0
	}
	return float64(matched) / float64(considered)
}

// HighlightTerms returns the content-bearing query tokens found in the
// text, in query order, for result highlighting.
func HighlightTerms(query, text string) []string {
	textLower := strings.ToLower(text)
	textTokens := make(map[string]bool)
	for _, tok := range tokenize(text) {
		textTokens[tok] = true
	}

	seen := make(map[string]bool)
	var terms []string
	for _, tok := range tokenize(query) {
		if lexicalStopwords[tok] || seen[tok] {
			continue
		}
		if textTokens[tok] || (len(tok) >= 4 && strings.Contains(textLower, tok)) {
			seen[tok] = true
			terms = append(terms, tok)
		}
	}
	return terms
}

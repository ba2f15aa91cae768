package knowledge

import (
	"strings"
	"unicode"

	"github.com/capitalize-ai/messaging-agent/internal/textnorm"
)

// Lexical search parameters.
const (
	LexicalScore      = 0.95
	LexicalMaxResults = 10
	lexicalBefore     = 500
	lexicalAfter      = 1500
	minKeywordLen     = 3
)

var lexicalStopwords = map[string]struct{}{
	"qual": {}, "quais": {}, "como": {}, "onde": {}, "quando": {},
	"o": {}, "a": {}, "os": {}, "as": {}, "de": {}, "do": {}, "da": {},
	"encontre": {}, "busque": {}, "mostre": {}, "liste": {},
}

// Keywords returns the folded query words worth searching for.
func Keywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(string(textnorm.Fold([]rune(strings.ToLower(query))))) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if _, stop := lexicalStopwords[w]; stop {
			continue
		}
		if len([]rune(w)) < minKeywordLen {
			continue
		}
		out = append(out, w)
	}
	return out
}

// SearchDocuments scans each document for the whole query, then for adjacent
// keyword pairs, then for single keywords. A hit yields one passage per
// document: the text around the first match.
func SearchDocuments(docs []Document, query string) []Passage {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil
	}
	phrase := []rune(textnorm.CollapseSpace(string(textnorm.Fold([]rune(query)))))

	var out []Passage
	for _, doc := range docs {
		original := []rune(textnorm.CollapseSpace(doc.Text))
		folded := textnorm.Fold(original)

		pos := runeIndex(folded, phrase)
		for i := 0; pos < 0 && i+1 < len(keywords); i++ {
			pos = runeIndex(folded, []rune(keywords[i]+" "+keywords[i+1]))
		}
		for i := 0; pos < 0 && i < len(keywords); i++ {
			pos = runeIndex(folded, []rune(keywords[i]))
		}
		if pos < 0 {
			continue
		}

		start := pos - lexicalBefore
		if start < 0 {
			start = 0
		}
		end := pos + lexicalAfter
		if end > len(original) {
			end = len(original)
		}
		out = append(out, Passage{
			Text:     string(original[start:end]),
			FileName: doc.Name,
			Score:    LexicalScore,
			Source:   SourceLexical,
		})
		if len(out) == LexicalMaxResults {
			break
		}
	}
	return out
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

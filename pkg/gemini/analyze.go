package gemini

import (
	"strings"
	"unicode"
)

// Confidence scores an answer against its question deterministically: base
// 0.8, adjusted by answer length and token overlap with the question,
// clamped to [0, 1]. Rerunning on the same pair always agrees.
func Confidence(answer, question string) float64 {
	confidence := 0.8

	if len(answer) > 100 {
		confidence += 0.1
	} else if len(answer) < 50 {
		confidence -= 0.1
	}

	questionWords := wordSet(question)
	answerWords := wordSet(answer)
	if len(questionWords) > 0 && len(answerWords) > 0 {
		overlap := 0
		for w := range questionWords {
			if answerWords[w] {
				overlap++
			}
		}
		confidence += float64(overlap) / float64(len(questionWords)) * 0.1
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

func wordSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = true
	}
	return set
}

// stopWords are skipped by keyword extraction, Arabic and English mixed.
var stopWords = map[string]bool{
	"في": true, "من": true, "إلى": true, "على": true, "هذا": true,
	"هذه": true, "التي": true, "الذي": true, "كان": true, "هو": true,
	"هي": true, "و": true, "أو": true, "لكن": true, "إذا": true,
	"عندما": true,
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "if": true, "when": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
}

const maxKeywords = 10

// Keywords extracts up to ten distinct keywords from text, dropping stop
// words, punctuation, and short tokens. Order follows first occurrence.
func Keywords(text string) []string {
	seen := map[string]bool{}
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, word)
		if len([]rune(word)) <= 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

package domain

import (
	"errors"
	"strings"
	"unicode"
)

// NormalizeQuestion collapses whitespace, trims, and appends a terminal
// question mark when one is missing. Arabic-script questions get the Arabic
// mark. Returns "" for input that normalizes to nothing.
func NormalizeQuestion(q string) string {
	normalized := strings.Join(strings.Fields(q), " ")
	if normalized == "" {
		return ""
	}
	if strings.HasSuffix(normalized, "?") ||
		strings.HasSuffix(normalized, "؟") ||
		strings.HasSuffix(normalized, ".") {
		return normalized
	}
	if isArabic(normalized) {
		return normalized + "؟"
	}
	return normalized + "?"
}

// isArabic reports whether the text contains any Arabic-script rune.
func isArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}

// DetectLanguage resolves lang, falling back to a codepoint-count heuristic
// over text when lang is auto.
func DetectLanguage(text string, lang Language) Language {
	if lang == LangArabic || lang == LangEnglish {
		return lang
	}
	arabic, latin := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case r < 0x80 && unicode.IsLetter(r):
			latin++
		}
	}
	if arabic > latin {
		return LangArabic
	}
	return LangEnglish
}

// ValidateArticle checks a scraped article against the content-quality
// bounds. Blocked phrases are matched case-insensitively against title and
// content together.
func ValidateArticle(a Article, minLen, maxLen int, blocked []string) error {
	if strings.TrimSpace(a.Title) == "" {
		return NewValidationError("title", a.URL, ErrEmptyQuestion)
	}
	n := len(a.Content)
	if n < minLen {
		return NewValidationError("content", a.URL, ErrContentTooShort)
	}
	if n > maxLen {
		return NewValidationError("content", a.URL, ErrContentTooLong)
	}
	haystack := strings.ToLower(a.Title + " " + a.Content)
	for _, phrase := range blocked {
		if phrase != "" && strings.Contains(haystack, strings.ToLower(phrase)) {
			return NewValidationError("content", phrase, ErrBlockedContent)
		}
	}
	return nil
}

// Article validation sentinels.
var (
	ErrContentTooShort = errors.New("article content too short")
	ErrContentTooLong  = errors.New("article content too long")
	ErrBlockedContent  = errors.New("article contains blocked content")
)

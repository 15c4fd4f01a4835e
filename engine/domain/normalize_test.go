package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeQuestion(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \t\n ", ""},
		{"collapses whitespace", "what   is\tthe  capital?", "what is the capital?"},
		{"appends latin mark", "what is the capital of Syria", "what is the capital of Syria?"},
		{"keeps existing mark", "what is the capital?", "what is the capital?"},
		{"keeps period", "Damascus is the capital.", "Damascus is the capital."},
		{"appends arabic mark", "ما هي عاصمة سوريا", "ما هي عاصمة سوريا؟"},
		{"keeps arabic mark", "ما هي عاصمة سوريا؟", "ما هي عاصمة سوريا؟"},
		{"trims edges", "  hello  ", "hello?"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeQuestion(tc.in); got != tc.want {
				t.Errorf("NormalizeQuestion(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		lang Language
		want Language
	}{
		{"hello world", LangAuto, LangEnglish},
		{"ما هي عاصمة سوريا", LangAuto, LangArabic},
		{"mixed نص with more english words here", LangAuto, LangEnglish},
		{"anything", LangArabic, LangArabic},
		{"أي شيء", LangEnglish, LangEnglish},
	}
	for _, tc := range cases {
		if got := DetectLanguage(tc.text, tc.lang); got != tc.want {
			t.Errorf("DetectLanguage(%q, %q) = %q, want %q", tc.text, tc.lang, got, tc.want)
		}
	}
}

func TestValidateArticle(t *testing.T) {
	ok := Article{
		URL:     "https://www.sana.sy/news/1234",
		Title:   "عنوان",
		Content: strings.Repeat("نص ", 100),
	}
	if err := ValidateArticle(ok, 100, 50000, nil); err != nil {
		t.Fatalf("valid article rejected: %v", err)
	}

	short := ok
	short.Content = "too short"
	if err := ValidateArticle(short, 100, 50000, nil); !errors.Is(err, ErrContentTooShort) {
		t.Errorf("want ErrContentTooShort, got %v", err)
	}

	long := ok
	long.Content = strings.Repeat("x", 50001)
	if err := ValidateArticle(long, 100, 50000, nil); !errors.Is(err, ErrContentTooLong) {
		t.Errorf("want ErrContentTooLong, got %v", err)
	}

	untitled := ok
	untitled.Title = "  "
	if err := ValidateArticle(untitled, 100, 50000, nil); err == nil {
		t.Error("untitled article accepted")
	}

	blocked := ok
	blocked.Content = ok.Content + " SPONSORED content"
	if err := ValidateArticle(blocked, 100, 50000, []string{"sponsored"}); !errors.Is(err, ErrBlockedContent) {
		t.Errorf("want ErrBlockedContent, got %v", err)
	}
}

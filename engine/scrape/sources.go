package scrape

import "github.com/shamgpt/shamgpt/engine/domain"

// Source describes one news site: where its front page lives and which
// selectors pull the article fields out. Selector lists are comma-separated
// CSS groups tried in order.
type Source struct {
	Name             string
	BaseURL          string
	TitleSelector    string
	ContentSelector  string
	DateSelector     string
	AuthorSelector   string
	CategorySelector string
	Language         domain.Language
}

// DefaultSources returns the configured Syrian news sources.
func DefaultSources() []Source {
	return []Source{
		{
			Name:             "sana",
			BaseURL:          "https://www.sana.sy",
			TitleSelector:    "h1, h2, .title, .headline",
			ContentSelector:  ".content, .article-content, .post-content, .text",
			DateSelector:     ".date, .published, time",
			AuthorSelector:   ".author, .byline",
			CategorySelector: ".category, .section",
			Language:         domain.LangArabic,
		},
		{
			Name:             "halab_today",
			BaseURL:          "https://halabtoday.tv",
			TitleSelector:    "h1, h2, .title, .headline",
			ContentSelector:  ".content, .article-content, .post-content, .text",
			DateSelector:     ".date, .published, time",
			AuthorSelector:   ".author, .byline",
			CategorySelector: ".category, .section",
			Language:         domain.LangArabic,
		},
		{
			Name:             "syria_tv",
			BaseURL:          "https://www.syria.tv",
			TitleSelector:    "h1, h2, .title, .headline",
			ContentSelector:  ".content, .article-content, .post-content, .text",
			DateSelector:     ".date, .published, time",
			AuthorSelector:   ".author, .byline",
			CategorySelector: ".category, .section",
			Language:         domain.LangArabic,
		},
		{
			Name:             "government",
			BaseURL:          "https://www.egov.sy",
			TitleSelector:    "h1, h2, .title, .headline",
			ContentSelector:  ".content, .article-content, .announcement-content",
			DateSelector:     ".date, .published, time",
			AuthorSelector:   ".author, .byline",
			CategorySelector: ".category, .section",
			Language:         domain.LangArabic,
		},
	}
}

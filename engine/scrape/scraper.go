package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/shamgpt/shamgpt/engine/domain"
	"github.com/shamgpt/shamgpt/pkg/resilience"
)

// Browser-like headers; some of the sources reject obvious bots.
const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	acceptHeader   = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	acceptLanguage = "ar,en-US;q=0.7,en;q=0.3"
)

const maxFetchAttempts = 3

// ErrPageNotFound short-circuits retries: a 404 will not heal.
var ErrPageNotFound = errors.New("page not found")

var (
	datePattern   = regexp.MustCompile(`\d{4}/\d{2}/\d{2}`)
	digitsSuffix  = regexp.MustCompile(`\d+$`)
	articleTokens = []string{"/news/", "/article/", "/post/", "/story/", "/arabic/", "/ar/", "/en/"}
)

// syrianKeywords are matched against title and content to tag articles.
var syrianKeywords = []string{
	"سوريا", "دمشق", "حلب", "حمص", "حماة", "اللاذقية", "طرطوس",
	"الحكومة", "الرئيس", "الوزارة", "البرلمان", "الجيش", "الاقتصاد",
	"التعليم", "الصحة", "البنية التحتية", "السياحة", "الزراعة",
	"النفط", "الغاز", "التجارة", "الاستثمار", "التنمية",
}

// Scraper fetches articles from the configured sources.
type Scraper struct {
	cfg    Config
	client *http.Client
	pacer  *resilience.Pacer
	sem    chan struct{}
	log    *slog.Logger

	mu        sync.Mutex
	seen      map[string]bool
	perSource map[string]int

	cacheMu  sync.Mutex
	cached   []domain.Article
	cachedAt time.Time

	// retryBase scales the exponential backoff between fetch attempts.
	retryBase time.Duration
}

// New creates a scraper. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Scraper {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		pacer:     resilience.NewPacer(cfg.PaceInterval),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		log:       logger,
		seen:      map[string]bool{},
		perSource: map[string]int{},
		retryBase: time.Second,
	}
}

// FetchAll scrapes every configured source. Sources run concurrently; each
// source's failure is collected, not fatal.
func (s *Scraper) FetchAll(ctx context.Context) FetchResult {
	return s.fetch(ctx, s.cfg.Sources, s.cfg.MaxPerSource)
}

func (s *Scraper) fetch(ctx context.Context, sources []Source, maxPerSource int) FetchResult {
	start := time.Now()
	result := FetchResult{PerSource: map[string]int{}}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			articles, err := s.fetchSource(ctx, src, maxPerSource)

			mu.Lock()
			defer mu.Unlock()
			result.Articles = append(result.Articles, articles...)
			result.PerSource[src.Name] = len(articles)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", src.Name, err))
			}
		}(src)
	}
	wg.Wait()

	result.Elapsed = time.Since(start)
	s.updateCache(result.Articles)

	s.mu.Lock()
	for name, n := range result.PerSource {
		s.perSource[name] += n
	}
	s.mu.Unlock()

	s.log.Info("scrape pass done",
		"articles", len(result.Articles),
		"errors", len(result.Errors),
		"elapsed", result.Elapsed)
	return result
}

// fetchSource scrapes one source: front page, then up to max article links.
func (s *Scraper) fetchSource(ctx context.Context, src Source, max int) ([]domain.Article, error) {
	body, err := s.fetchPage(ctx, src.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("scrape: front page %s: %w", src.BaseURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scrape: parse %s: %w", src.BaseURL, err)
	}

	links := s.extractLinks(doc, src)
	if len(links) > max {
		links = links[:max]
	}

	var articles []domain.Article
	for _, link := range links {
		select {
		case <-ctx.Done():
			return articles, ctx.Err()
		case s.sem <- struct{}{}:
		}
		article, err := s.scrapeArticle(ctx, link, src)
		<-s.sem
		if err != nil {
			s.log.Warn("article skipped", "url", link, "err", err)
			continue
		}
		articles = append(articles, article)
	}
	return articles, nil
}

// fetchPage GETs a URL with pacing and up to three attempts, doubling the
// backoff each time. A 404 fails immediately.
func (s *Scraper) fetchPage(ctx context.Context, pageURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * s.retryBase
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := s.pacer.Wait(ctx); err != nil {
			return "", err
		}

		body, err := s.doGet(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrPageNotFound) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d attempts: %w", maxFetchAttempts, lastErr)
}

func (s *Scraper) doGet(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%s: %w", pageURL, ErrPageNotFound)
	default:
		return "", fmt.Errorf("%s: status %d", pageURL, resp.StatusCode)
	}
}

// extractLinks pulls candidate article URLs off a front page, resolved
// against the source's base, deduplicated in order.
func (s *Scraper) extractLinks(doc *goquery.Document, src Source) []string {
	base, err := url.Parse(src.BaseURL)
	if err != nil {
		return nil
	}

	var links []string
	local := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		link := resolved.String()
		if local[link] || !s.isArticleLink(resolved, base) {
			return
		}
		local[link] = true
		links = append(links, link)
	})
	return links
}

// isArticleLink applies the URL heuristics: same host, not seen before, and
// an article-shaped path (section token, date, or trailing id).
func (s *Scraper) isArticleLink(u, base *url.URL) bool {
	if u.Host != base.Host {
		return false
	}

	s.mu.Lock()
	seen := s.seen[u.String()]
	s.mu.Unlock()
	if seen {
		return false
	}

	path := strings.ToLower(u.Path)
	for _, token := range articleTokens {
		if strings.Contains(path, token) {
			return true
		}
	}
	return datePattern.MatchString(path) || digitsSuffix.MatchString(path)
}

// scrapeArticle fetches and extracts one article, validating content
// quality before accepting it. Accepted URLs enter the lifetime dedup set.
func (s *Scraper) scrapeArticle(ctx context.Context, articleURL string, src Source) (domain.Article, error) {
	body, err := s.fetchPage(ctx, articleURL)
	if err != nil {
		return domain.Article{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return domain.Article{}, fmt.Errorf("scrape: parse article: %w", err)
	}

	article := domain.Article{
		URL:         articleURL,
		Title:       cleanText(firstText(doc, src.TitleSelector)),
		Content:     cleanText(collectText(doc, src.ContentSelector)),
		SourceName:  src.Name,
		PublishedAt: extractDate(doc, src.DateSelector),
		Author:      firstText(doc, src.AuthorSelector),
		Category:    firstText(doc, src.CategorySelector),
		Language:    src.Language,
		ScrapedAt:   time.Now().UTC(),
	}
	article.Tags = extractTags(doc, article.Title, article.Content)

	if err := domain.ValidateArticle(article, s.cfg.MinContentLen, s.cfg.MaxContentLen, s.cfg.BlockedPhrases); err != nil {
		return domain.Article{}, err
	}

	s.mu.Lock()
	s.seen[articleURL] = true
	s.mu.Unlock()
	return article, nil
}

// ContextFor builds a character-capped context block for answer generation.
// Fresh cached articles are preferred; otherwise a limited live fetch runs
// against the first source.
func (s *Scraper) ContextFor(ctx context.Context, question string, maxChars int) (string, error) {
	articles := s.freshCache()
	if len(articles) == 0 {
		if len(s.cfg.Sources) == 0 {
			return "", nil
		}
		live, err := s.fetchSource(ctx, s.cfg.Sources[0], 3)
		if err != nil && len(live) == 0 {
			return "", fmt.Errorf("scrape: context fetch: %w", err)
		}
		articles = live
	}

	var b strings.Builder
	for _, a := range articles {
		entry := a.Title + "\n" + snippet(a.Content, 500) + "\n\n"
		if b.Len()+len(entry) > maxChars {
			break
		}
		b.WriteString(entry)
	}
	return strings.TrimSpace(b.String()), nil
}

// Stats reports activity counters for health checks.
func (s *Scraper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	perSource := make(map[string]int, len(s.perSource))
	for k, v := range s.perSource {
		perSource[k] = v
	}
	sources := make([]string, len(s.cfg.Sources))
	for i, src := range s.cfg.Sources {
		sources[i] = src.Name
	}
	return Stats{URLsSeen: len(s.seen), PerSource: perSource, Sources: sources}
}

func (s *Scraper) updateCache(articles []domain.Article) {
	if len(articles) == 0 {
		return
	}
	s.cacheMu.Lock()
	s.cached = articles
	s.cachedAt = time.Now()
	s.cacheMu.Unlock()
}

func (s *Scraper) freshCache() []domain.Article {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cfg.ContextTTL <= 0 || time.Since(s.cachedAt) > s.cfg.ContextTTL {
		return nil
	}
	return s.cached
}

// firstText returns the trimmed text of the first element matching the
// selector group.
func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

// collectText joins the text of every match, dropping script and style
// subtrees.
func collectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	var parts []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		sel.Find("script, style").Remove()
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

// extractDate prefers a datetime attribute over element text.
func extractDate(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	if dt, ok := sel.Attr("datetime"); ok && dt != "" {
		return dt
	}
	return strings.TrimSpace(sel.Text())
}

// extractTags combines tag-like page elements with keyword matches, capped
// at ten.
func extractTags(doc *goquery.Document, title, content string) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if len([]rune(tag)) <= 2 || seen[tag] || len(tags) >= 10 {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	doc.Find(`[class*="tag"], [class*="keyword"], [class*="category"]`).Each(func(_ int, sel *goquery.Selection) {
		add(sel.Text())
	})

	text := title + " " + content
	for _, kw := range syrianKeywords {
		if strings.Contains(text, kw) {
			add(kw)
		}
	}
	return tags
}

// cleanText collapses whitespace and the common HTML entities that survive
// text extraction. Blocked phrases are a validation concern, not a cleanup
// one: articles carrying them are rejected whole.
func cleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	return strings.TrimSpace(text)
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

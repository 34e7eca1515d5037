// Package websearch looks things up on DuckDuckGo for the /search command.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultEndpoint is DuckDuckGo's Instant Answer API.
	DefaultEndpoint = "https://api.duckduckgo.com/"

	// maxCacheSize limits the number of cached search responses to prevent unbounded memory growth
	maxCacheSize = 1000

	maxTitleLength = 100
)

// NoResults is the rendering of an empty result set.
const NoResults = "Поиск не дал результатов."

// Config holds search settings.
type Config struct {
	// Endpoint overrides the Instant Answer API URL.
	Endpoint string

	// MaxResults is used when Search is called with max <= 0.
	MaxResults int

	// CacheTTL is how long responses are reused. Zero means five minutes.
	CacheTTL time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// cacheEntry holds a cached search result with expiration.
type cacheEntry struct {
	results   []Result
	expiresAt time.Time
}

// Searcher queries DuckDuckGo and caches answers per query.
type Searcher struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	cache   map[string]*cacheEntry
	cacheMu sync.RWMutex
}

// New creates a Searcher, applying defaults to config.
func New(config Config) *Searcher {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Searcher{
		config:     config,
		httpClient: client,
		logger:     logger.With("component", "websearch"),
		now:        time.Now,
		cache:      make(map[string]*cacheEntry),
	}
}

// Search returns up to max results for query.
func (s *Searcher) Search(ctx context.Context, query string, max int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if max <= 0 {
		max = s.config.MaxResults
	}

	key := fmt.Sprintf("%d:%s", max, query)
	if cached, ok := s.getFromCache(key); ok {
		s.logger.DebugContext(ctx, "search cache hit", "query", query)
		return cached, nil
	}

	s.logger.InfoContext(ctx, "searching", "query", query)
	results, err := s.searchDuckDuckGo(ctx, query, max)
	if err != nil {
		return nil, err
	}
	s.putInCache(key, results)
	return results, nil
}

// searchDuckDuckGo performs a search using DuckDuckGo's Instant Answer API.
func (s *Searcher) searchDuckDuckGo(ctx context.Context, query string, max int) ([]Result, error) {
	endpoint, err := url.Parse(s.config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ProphetBot/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DuckDuckGo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ddgResp struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
			Name     string `json:"Name"`
			Topics   []struct {
				FirstURL string `json:"FirstURL"`
				Text     string `json:"Text"`
			} `json:"Topics"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddgResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, max)

	// Abstract goes first when present.
	if ddgResp.AbstractText != "" && ddgResp.AbstractURL != "" {
		results = append(results, Result{
			Title:   ddgResp.Heading,
			URL:     ddgResp.AbstractURL,
			Snippet: ddgResp.AbstractText,
		})
	}

	add := func(href, text string) {
		if len(results) >= max || href == "" || text == "" {
			return
		}
		results = append(results, Result{
			Title:   titleFrom(text),
			URL:     href,
			Snippet: text,
		})
	}
	for _, topic := range ddgResp.RelatedTopics {
		add(topic.FirstURL, topic.Text)
		// Disambiguation pages nest topics one level down.
		for _, sub := range topic.Topics {
			add(sub.FirstURL, sub.Text)
		}
	}

	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}

// titleFrom shortens a related-topic text to a title, cutting on a rune
// boundary.
func titleFrom(text string) string {
	if head, _, ok := strings.Cut(text, " - "); ok && head != "" {
		text = head
	}
	runes := []rune(text)
	if len(runes) > maxTitleLength {
		return string(runes[:maxTitleLength])
	}
	return text
}

// Format renders results as numbered blocks separated by blank lines.
func Format(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		blocks = append(blocks, fmt.Sprintf("%d. %s\n%s\nURL: %s", i+1, r.Title, r.Snippet, r.URL))
	}
	return strings.Join(blocks, "\n\n")
}

// FormatError renders a failed search for the user.
func FormatError(err error) string {
	return fmt.Sprintf("К сожалению, я не смог подключиться к информационному полю: %v", err)
}

// getFromCache retrieves a cached response if it exists and hasn't expired.
func (s *Searcher) getFromCache(key string) ([]Result, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	entry, exists := s.cache[key]
	if !exists || s.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.results, true
}

// putInCache stores a response in the cache with TTL.
func (s *Searcher) putInCache(key string, results []Result) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	now := s.now()

	// Clean up expired entries first
	for k, v := range s.cache {
		if now.After(v.expiresAt) {
			delete(s.cache, k)
		}
	}

	// If still at capacity after cleanup, evict oldest entries
	for len(s.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range s.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(s.cache, oldestKey)
	}

	s.cache[key] = &cacheEntry{
		results:   results,
		expiresAt: now.Add(s.config.CacheTTL),
	}
}

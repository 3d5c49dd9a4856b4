package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"personafeed/pkg/cache"
)

const defaultEndpoint = "https://api.bing.microsoft.com/v7.0/news/search"

// DefaultBlocklist holds aggregators whose thumbnails are usually unusable.
var DefaultBlocklist = []string{"MSN", "Yahoo News"}

// ResultCache stores raw result lists per topic. *cache.Cache satisfies it.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Key(parts ...string) string
}

type Options struct {
	Endpoint  string
	Market    string
	Count     int
	Blocklist []string
	Cache     ResultCache
	CacheTTL  time.Duration
	HTTP      *http.Client
}

type Client struct {
	apiKey    string
	endpoint  string
	market    string
	count     int
	blocklist map[string]bool
	cache     ResultCache
	cacheTTL  time.Duration
	client    *http.Client
}

func NewClient(apiKey string, opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Market == "" {
		opts.Market = "en-US"
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.Blocklist == nil {
		opts.Blocklist = DefaultBlocklist
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.NewsResultsTTL
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}

	blocked := make(map[string]bool, len(opts.Blocklist))
	for _, name := range opts.Blocklist {
		blocked[strings.ToLower(strings.TrimSpace(name))] = true
	}

	return &Client{
		apiKey:    apiKey,
		endpoint:  opts.Endpoint,
		market:    opts.Market,
		count:     opts.Count,
		blocklist: blocked,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		client:    opts.HTTP,
	}
}

// FetchRelevantArticle returns the first usable article for topic, or nil
// when none qualifies. Transport and decode failures are returned as errors.
func (c *Client) FetchRelevantArticle(ctx context.Context, topic string) (*Article, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, nil
	}

	results, err := c.search(ctx, topic)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.thumbnail() == "" || c.blocked(r.Provider) {
			continue
		}
		return toArticle(r), nil
	}

	log.Printf("[News] No qualifying article for %q among %d results", topic, len(results))
	return nil, nil
}

func (c *Client) search(ctx context.Context, topic string) ([]result, error) {
	var cacheKey string
	if c.cache != nil {
		cacheKey = c.cache.Key("news", strings.ToLower(topic))
		var cached []result
		if err := c.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Printf("[News] Cache read failed for %q: %v", topic, err)
		}
	}

	params := url.Values{}
	params.Set("q", topic)
	params.Set("mkt", c.market)
	params.Set("count", strconv.Itoa(c.count))
	params.Set("safeSearch", "Moderate")

	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 500)}
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, parsed.Value, c.cacheTTL); err != nil {
			log.Printf("[News] Cache write failed for %q: %v", topic, err)
		}
	}

	return parsed.Value, nil
}

// blocked is true when any provider is on the blocklist. No providers is allowed.
func (c *Client) blocked(providers []provider) bool {
	for _, p := range providers {
		if c.blocklist[strings.ToLower(strings.TrimSpace(p.Name))] {
			return true
		}
	}
	return false
}

func toArticle(r result) *Article {
	a := &Article{
		Title:       plainText(r.Name),
		URL:         r.URL,
		Description: plainText(r.Description),
		Thumbnail:   r.thumbnail(),
	}
	if len(r.Provider) > 0 {
		a.Source = r.Provider[0].Name
	}
	if t, err := time.Parse(time.RFC3339, r.DatePublished); err == nil {
		a.PublishedAt = t
	} else if t, err := time.Parse("2006-01-02T15:04:05.0000000Z", r.DatePublished); err == nil {
		a.PublishedAt = t
	}
	return a
}

// plainText flattens the <b> highlight markup the API inserts into snippets.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("news API error (status %d): %s", e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

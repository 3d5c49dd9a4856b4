package textgen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.openai.com/v1"

// thinkRegex matches <think>...</think> blocks some reasoning models emit.
var thinkRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	Messages    []Message
}

type Response struct {
	Content string
	Model   string
	// Usage is the total token count reported by the API.
	Usage int64
}

// KeyState tracks the health of an API key
type KeyState struct {
	Key          string
	FailureCount int
	LastUsed     time.Time
	LastSuccess  time.Time
}

type Options struct {
	BaseURL string
	// RequestsPerSecond throttles every call across all keys. Zero disables it.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTP              *http.Client
}

type Client struct {
	keys      []*KeyState
	keyMu     sync.RWMutex
	clients   map[string]openai.Client
	clientsMu sync.RWMutex
	baseURL   string
	limiter   *rate.Limiter
	timeout   time.Duration
	http      *http.Client
}

// NewClient accepts a comma-separated key list. Keys rotate by failure count.
func NewClient(apiKeys string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	keys := make([]*KeyState, 0)
	for _, k := range strings.Split(apiKeys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, &KeyState{Key: k})
		}
	}

	if len(keys) == 0 {
		log.Println("Warning: No text-generation API keys provided")
	} else {
		log.Printf("Loaded %d text-generation API key(s)", len(keys))
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}

	return &Client{
		keys:    keys,
		clients: make(map[string]openai.Client),
		baseURL: strings.TrimRight(opts.BaseURL, "/") + "/",
		limiter: limiter,
		timeout: opts.Timeout,
		http:    opts.HTTP,
	}
}

func (c *Client) getClient(key string) openai.Client {
	c.clientsMu.RLock()
	if client, ok := c.clients[key]; ok {
		c.clientsMu.RUnlock()
		return client
	}
	c.clientsMu.RUnlock()

	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	opts := []option.RequestOption{
		option.WithBaseURL(c.baseURL),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if c.http != nil {
		opts = append(opts, option.WithHTTPClient(c.http))
	}
	client := openai.NewClient(opts...)
	c.clients[key] = client
	return client
}

// getBestKey returns the key with the fewest recent failures, skipping exclude.
func (c *Client) getBestKey(exclude *KeyState) *KeyState {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()

	var best *KeyState
	for _, k := range c.keys {
		if k == exclude {
			continue
		}
		if best == nil || k.FailureCount < best.FailureCount {
			best = k
		}
	}
	return best
}

func (c *Client) recordSuccess(key *KeyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.LastSuccess = time.Now()
	key.LastUsed = time.Now()
	if key.FailureCount > 0 {
		key.FailureCount--
	}
}

func (c *Client) recordFailure(key *KeyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.FailureCount++
	key.LastUsed = time.Now()
}

// Generate performs one chat completion. On a rate-limit or auth failure it
// retries once with the next healthiest key.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	keyState := c.getBestKey(nil)
	if keyState == nil {
		return nil, fmt.Errorf("no API keys configured")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := buildParams(req)
	start := time.Now()

	client := c.getClient(keyState.Key)
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil && isRateLimitOrAuthError(err) {
		c.recordFailure(keyState)
		if next := c.getBestKey(keyState); next != nil {
			log.Printf("[TextGen] Key rate limited/auth failed, trying another key...")
			keyState = next
			client = c.getClient(keyState.Key)
			resp, err = client.Chat.Completions.New(ctx, params)
		}
	}
	if err != nil {
		c.recordFailure(keyState)
		return nil, fmt.Errorf("chat completion (%s): %w", req.Model, err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		c.recordFailure(keyState)
		return nil, fmt.Errorf("empty response from model %s", req.Model)
	}

	c.recordSuccess(keyState)

	content := thinkRegex.ReplaceAllString(resp.Choices[0].Message.Content, "")
	out := &Response{
		Content: strings.TrimSpace(content),
		Model:   req.Model,
		Usage:   resp.Usage.TotalTokens,
	}

	log.Printf("[TextGen] %s success (took %v, tokens: %d)", req.Model, time.Since(start), out.Usage)
	return out, nil
}

func buildParams(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages[i] = openai.SystemMessage(msg.Content)
		case "assistant":
			messages[i] = openai.AssistantMessage(msg.Content)
		default:
			messages[i] = openai.UserMessage(msg.Content)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	return params
}

func isRateLimitOrAuthError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "unauthorized")
}

package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://api.replicate.com/v1"
	defaultModel    = "stability-ai/sdxl"
	maxImageBytes   = 20 << 20
	defaultPollWait = 2 * time.Second
)

// Image is a generated image fetched into memory.
type Image struct {
	Data        []byte
	ContentType string
	SourceURL   string
}

type Request struct {
	Prompt string
	// DisableSafetyChecker is forwarded to the provider as-is.
	DisableSafetyChecker bool
}

type Options struct {
	BaseURL           string
	Model             string
	PollInterval      time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
}

type Client struct {
	token         string
	baseURL       string
	model         string
	pollInterval  time.Duration
	timeout       time.Duration
	client        *http.Client // provider API (trusted)
	safeClient    *http.Client // output URLs (untrusted, SSRF protected)
	limiter       *rate.Limiter
	allowLocalIPs bool
}

// safeTransport returns an http.Transport with a DialContext that prevents SSRF
func safeTransport(allowLocalIPs bool) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}

			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve host: %w", err)
			}

			var safeIP net.IP
			for _, ip := range ips {
				if !allowLocalIPs {
					if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
						continue
					}
				}
				safeIP = ip
				break
			}

			if safeIP == nil {
				return nil, fmt.Errorf("blocked access to restricted IP(s) for host: %s", host)
			}

			dialer := &net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(safeIP.String(), port))
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
}

func NewClient(token string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollWait
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		token:        token,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		model:        opts.Model,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		client:       &http.Client{Timeout: 90 * time.Second},
		safeClient: &http.Client{
			Timeout:   90 * time.Second,
			Transport: safeTransport(false),
		},
		limiter: limiter,
	}
}

// SetAllowLocalIPs enables/disables local IP access for output downloads (for testing)
func (c *Client) SetAllowLocalIPs(allow bool) {
	c.allowLocalIPs = allow
	c.safeClient.Transport = safeTransport(allow)
}

type predictionRequest struct {
	Input predictionInput `json:"input"`
}

type predictionInput struct {
	Prompt               string `json:"prompt"`
	DisableSafetyChecker bool   `json:"disable_safety_checker"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (p *prediction) done() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// outputURL accepts either a single URL or a list of URLs.
func (p *prediction) outputURL() string {
	if len(p.Output) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		return single
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// Generate creates a prediction, waits for it to finish and downloads the result.
func (c *Client) Generate(ctx context.Context, req Request) (*Image, error) {
	if c.token == "" {
		return nil, fmt.Errorf("image API token not configured")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(predictionRequest{Input: predictionInput{
		Prompt:               req.Prompt,
		DisableSafetyChecker: req.DisableSafetyChecker,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)
	pred, err := c.call(ctx, "POST", url, body)
	if err != nil {
		return nil, err
	}

	for !pred.done() {
		if pred.URLs.Get == "" {
			return nil, fmt.Errorf("prediction %s has no status URL", pred.ID)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("prediction %s: %w", pred.ID, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		pred, err = c.call(ctx, "GET", pred.URLs.Get, nil)
		if err != nil {
			return nil, err
		}
	}

	if pred.Status != "succeeded" {
		return nil, fmt.Errorf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error)
	}

	out := pred.outputURL()
	if out == "" {
		return nil, fmt.Errorf("prediction %s returned no output", pred.ID)
	}

	img, err := c.download(ctx, out)
	if err != nil {
		return nil, err
	}
	log.Printf("[ImageGen] Prediction %s produced %d bytes (%s)", pred.ID, len(img.Data), img.ContentType)
	return img, nil
}

func (c *Client) call(ctx context.Context, method, url string, body []byte) (*prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "wait")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var pred prediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &pred, nil
}

// download fetches the output with the SSRF-protected client.
func (c *Client) download(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.safeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("unexpected content type %q", contentType)
	}

	return &Image{Data: data, ContentType: contentType, SourceURL: url}, nil
}

// APIError captures non-2xx responses to allow inspection of the status code.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "...(truncated)"
	}
	return fmt.Sprintf("image API error (status %d): %s", e.StatusCode, body)
}

package textgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(content string) string {
	b, _ := json.Marshal(content)
	return `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"test-model",` +
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(b) + `}}],` +
		`"usage":{"prompt_tokens":40,"completion_tokens":17,"total_tokens":57}}`
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int64   `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.Equal(t, 0.8, body.Temperature)
		assert.Equal(t, int64(300), body.MaxTokens)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion("<think>plan the post</think>Morning bread run done. #baking")))
	}))
	defer server.Close()

	client := NewClient("test-key", Options{BaseURL: server.URL + "/v1"})
	resp, err := client.Generate(context.Background(), Request{
		Model:       "test-model",
		Temperature: 0.8,
		MaxTokens:   300,
		Messages: []Message{
			{Role: "system", Content: "You are a baker."},
			{Role: "user", Content: "Write a post."},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Morning bread run done. #baking", resp.Content)
	assert.Equal(t, int64(57), resp.Usage)
	assert.Equal(t, "test-model", resp.Model)
}

func TestGenerate_RotatesKeyOnRateLimit(t *testing.T) {
	var badHits, goodHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") == "Bearer bad-key" {
			atomic.AddInt32(&badHits, 1)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limit reached","type":"requests"}}`))
			return
		}
		atomic.AddInt32(&goodHits, 1)
		w.Write([]byte(completion("ok")))
	}))
	defer server.Close()

	client := NewClient("bad-key, good-key", Options{BaseURL: server.URL + "/v1"})
	resp, err := client.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&badHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&goodHits))

	// The failing key is now ranked behind the healthy one
	assert.Equal(t, "good-key", client.getBestKey(nil).Key)
}

func TestGenerate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer server.Close()

	client := NewClient("test-key", Options{BaseURL: server.URL + "/v1"})
	_, err := client.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.Error(t, err)
}

func TestGenerate_Validation(t *testing.T) {
	client := NewClient("", Options{})

	_, err := client.Generate(context.Background(), Request{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}})
	assert.ErrorContains(t, err, "no API keys")

	_, err = client.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	assert.ErrorContains(t, err, "model is required")

	_, err = client.Generate(context.Background(), Request{Model: "m"})
	assert.ErrorContains(t, err, "message")
}

func TestGenerate_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer server.Close()

	client := NewClient("test-key", Options{BaseURL: server.URL + "/v1"})
	_, err := client.Generate(context.Background(), Request{
		Model:    "m",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	assert.ErrorContains(t, err, "empty response")
}

func TestGenerate_ThrottleHonoursContext(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion("ok")))
	}))
	defer server.Close()

	client := NewClient("test-key", Options{BaseURL: server.URL + "/v1", RequestsPerSecond: 0.01})
	require.NotNil(t, client.limiter)
	req := Request{Model: "test-model", Messages: []Message{{Role: "user", Content: "hi"}}}

	_, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	// The single token is spent, so the next call has to wait
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Generate(ctx, req)
	assert.ErrorContains(t, err, "rate limiter")

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = client.Generate(canceled, req)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestNewClient_NoThrottleByDefault(t *testing.T) {
	assert.Nil(t, NewClient("k", Options{}).limiter)
}

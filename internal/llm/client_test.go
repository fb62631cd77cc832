package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatReply(content string) string {
	resp := map[string]any{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestCompleteText(t *testing.T) {
	var gotReq ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, chatReply("观望"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		Endpoint: server.URL,
		APIKey:   "sk-test",
		Model:    "test-model",
	})

	text, err := client.CompleteText(context.Background(), "你是交易助手", "分析BTCUSDT", Options{Temperature: 0.2, MaxTokens: 500})
	require.NoError(t, err)
	assert.Equal(t, "观望", text)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, 0.2, gotReq.Temperature)
	assert.Equal(t, 500, gotReq.MaxTokens)
}

func TestOptionsFallBackToDefaults(t *testing.T) {
	var gotReq ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, chatReply("ok"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, Temperature: 0.5, MaxTokens: 1234})
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, gotReq.Temperature)
	assert.Equal(t, 1234, gotReq.MaxTokens)
}

func TestAPIErrorSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid API key","type":"auth"}}`)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestCompleteWithRetryRecovers(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"upstream error"}}`)
			return
		}
		fmt.Fprint(w, chatReply("recovered"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, Timeout: 5 * time.Second})
	resp, err := client.CompleteWithRetry(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, Options{}, 2)
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Choices[0].Message.Content)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"bad gateway"}}`)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL})
	ctx := context.Background()
	msg := []ChatMessage{{Role: "user", Content: "hi"}}

	for i := 0; i < 5; i++ {
		_, _ = client.Complete(ctx, msg, Options{})
	}
	_, err := client.Complete(ctx, msg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"json fence", "前言\n```json\n{\"action\":\"做多\"}\n```\n后记", `{"action":"做多"}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `  {"a":1}  `, `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.content))
		})
	}
}

func TestParseJSON(t *testing.T) {
	var out struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
	}
	content := "分析如下：\n```json\n{\"action\": \"做空\", \"confidence\": 0.75}\n```"
	require.NoError(t, ParseJSON(content, &out))
	assert.Equal(t, "做空", out.Action)
	assert.Equal(t, 0.75, out.Confidence)

	assert.Error(t, ParseJSON("这不是JSON", &out))
}

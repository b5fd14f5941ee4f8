package openai_compat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"botnest/internal/providers"
)

func TestBuildPayloadChatCompletions(t *testing.T) {
	c := New(Config{BaseURL: "https://api.example.com/v1", Endpoint: "chat_completions"})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are concise",
		History: []providers.Turn{
			{Role: "visitor", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		UserPrompt:  "what are your hours?",
		MaxTokens:   123,
		Temperature: 0.4,
	}, false)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.example.com/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload struct {
		Model    string              `json:"model"`
		Messages []map[string]string `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Model != "gpt-4o-mini" {
		t.Fatalf("expected model gpt-4o-mini, got %q", payload.Model)
	}
	if len(payload.Messages) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d messages", len(payload.Messages))
	}
	if payload.Messages[1]["role"] != "user" {
		t.Fatalf("visitor history turn should map to user role, got %q", payload.Messages[1]["role"])
	}
	if payload.Messages[3]["content"] != "what are your hours?" {
		t.Fatalf("last message should be the incoming prompt, got %q", payload.Messages[3]["content"])
	}
}

func TestBuildPayloadSendsZeroTemperature(t *testing.T) {
	c := New(Config{BaseURL: "https://api.example.com/v1"})

	body, _, err := c.buildPayload(providers.ChatRequest{
		Model:       "m",
		UserPrompt:  "hi",
		Temperature: 0,
	}, false)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	temp, ok := payload["temperature"]
	if !ok {
		t.Fatal("temperature must be sent even when zero")
	}
	if temp != 0.0 {
		t.Fatalf("expected temperature 0, got %v", temp)
	}
}

func TestBuildPayloadResponsesEndpoint(t *testing.T) {
	c := New(Config{BaseURL: "https://api.example.com/v1", Endpoint: "responses"})

	_, endpoint, err := c.buildPayload(providers.ChatRequest{Model: "gpt-4.1", UserPrompt: "hello"}, false)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.example.com/v1/responses" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload["stream"] != true {
			t.Errorf("expected stream=true in payload")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Endpoint: "chat_completions"})
	stream, err := c.ChatStream(context.Background(), providers.ChatRequest{Model: "m", UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}

	var got string
	for f := range stream {
		if f.Err != nil {
			t.Fatalf("fragment error: %v", f.Err)
		}
		got += f.Text
	}
	if got != "Hello" {
		t.Fatalf("expected joined fragments Hello, got %q", got)
	}
}

func TestChatRetriesTemporaryFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 1, BackoffBase: 1})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "m", UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("expected ok, got %q", resp.Text)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
}

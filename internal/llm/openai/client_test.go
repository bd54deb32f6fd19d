package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func completion(message map[string]any) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": "stop"}},
	}
}

func TestCompleteReturnsToolCall(t *testing.T) {
	var captured map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(map[string]any{
			"role":    "assistant",
			"content": "",
			"tool_calls": []map[string]any{{
				"id":       "call_1",
				"type":     "function",
				"function": map[string]any{"name": "get_weather", "arguments": `{"location":"Paris"}`},
			}},
		}))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{llm.System("route"), llm.User("how hot is it in Paris")},
		Tools: []llm.ToolSpec{{
			Name:        "get_weather",
			Description: "Get current weather",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"location": map[string]any{"type": "string"}}},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.ToolCall == nil || resp.ToolCall.Name != "get_weather" || resp.ToolCall.Arguments != `{"location":"Paris"}` {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if auth != "Bearer test" {
		t.Fatalf("authorization header missing: %q", auth)
	}
	tools, _ := captured["tools"].([]any)
	if len(tools) != 1 || captured["model"] != defaultModelName {
		t.Fatalf("unexpected request body %v", captured)
	}
}

func TestCompleteSendsToolResultMessages(t *testing.T) {
	var captured struct {
		Messages []struct {
			Role       string `json:"role"`
			Content    string `json:"content"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []any  `json:"tool_calls"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(completion(map[string]any{"role": "assistant", "content": " It is sunny in Paris. "}))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	resp, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{
		llm.System("You are a helpful assistant that uses tool results."),
		llm.User("weather in Paris"),
		{Role: llm.RoleAssistant, ToolCall: &llm.ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: "72°F and sunny"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "It is sunny in Paris." || resp.ToolCall != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(captured.Messages) != 4 || captured.Messages[3].ToolCallID != "call_1" || len(captured.Messages[2].ToolCalls) != 1 {
		t.Fatalf("unexpected messages %+v", captured.Messages)
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.User("hi")}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeLLMFailure {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.User("hi")}})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout code, got %v", err)
	}
}

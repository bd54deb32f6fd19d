package offline

import (
	"context"
	"testing"

	"TravelAgent-Chain/internal/llm"
)

func TestCompleteEchoesToolResult(t *testing.T) {
	c := New()
	resp, err := c.Complete(context.Background(), llm.Request{Messages: []llm.Message{
		llm.System("You are a helpful assistant that uses tool results."),
		llm.User("weather in Paris"),
		{Role: llm.RoleTool, Content: " The weather in Paris is 72°F and sunny. "},
	}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "The weather in Paris is 72°F and sunny." || resp.ToolCall != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCompleteIsDeterministic(t *testing.T) {
	c := New()
	req := llm.Request{Messages: []llm.Message{llm.User("tell me a joke")}}
	a, _ := c.Complete(context.Background(), req)
	b, _ := c.Complete(context.Background(), req)
	if a.Content != b.Content || a.Content != DefaultReply {
		t.Fatalf("offline replies should be identical")
	}
}

func TestCompleteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Complete(ctx, llm.Request{}); err == nil {
		t.Fatalf("expected context error")
	}
}

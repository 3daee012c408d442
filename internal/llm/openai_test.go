package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sseChunk(delta string) string {
	chunk := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{"role": "assistant", "content": delta}},
		},
	}
	data, _ := json.Marshal(chunk)
	return "data: " + string(data) + "\n\n"
}

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth header = %q", auth)
		}

		var req openaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("no onToken: request must not stream")
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}

		fmt.Fprintln(w, `{"choices":[{"message":{"role":"assistant","content":"چیزی ندیدم. [عصبانی]"}}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL, "gpt-4o-mini", testOptions(), 10*time.Second)
	reply, err := client.Chat(context.Background(), "persona", []Message{{Role: "user", Content: "خب؟"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "چیزی ندیدم. [عصبانی]" {
		t.Errorf("reply = %q", reply)
	}
}

func TestOpenAIChatStreamSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("چرا "))
		fmt.Fprint(w, sseChunk("می‌پرسی؟"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL, "gpt-4o-mini", testOptions(), 10*time.Second)

	var tokens []string
	reply, err := client.ChatStream(context.Background(), "persona", []Message{{Role: "user", Content: "x"}}, func(token string) {
		tokens = append(tokens, token)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if reply != "چرا می‌پرسی؟" {
		t.Errorf("reply = %q", reply)
	}
	if len(tokens) != 2 {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestOpenAIAuthFailureIsFatal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-bad", server.URL, "gpt-4o-mini", testOptions(), 10*time.Second)
	_, err := client.Chat(context.Background(), "", []Message{{Role: "user", Content: "x"}})
	if err == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("calls = %d: auth failures must not be retried", calls)
	}
}

func TestOpenAIRateLimitIsRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprintln(w, `{"choices":[{"message":{"role":"assistant","content":"باشه"}}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL, "gpt-4o-mini", testOptions(), 10*time.Second)
	reply, err := client.Chat(context.Background(), "", []Message{{Role: "user", Content: "x"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "باشه" {
		t.Errorf("reply = %q", reply)
	}
	if calls != 2 {
		t.Errorf("calls = %d", calls)
	}
}

func TestOpenAIStreamNoRetryAfterTokens(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("سلام "))
		w.(http.Flusher).Flush()
		// Drop the connection mid-stream
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL, "gpt-4o-mini", testOptions(), 10*time.Second)

	var tokens []string
	_, err := client.ChatStream(context.Background(), "", []Message{{Role: "user", Content: "x"}}, func(token string) {
		tokens = append(tokens, token)
	})
	if err == nil {
		t.Fatal("expected a stream error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, must not retry once tokens were delivered", calls)
	}
	if len(tokens) != 1 {
		t.Errorf("tokens = %v, the delivered token must not be replayed", tokens)
	}
}

func TestOpenAIMissingKey(t *testing.T) {
	client := NewOpenAIClient("", "", "gpt-4o-mini", testOptions(), time.Second)
	if _, err := client.Chat(context.Background(), "", nil); err == nil {
		t.Error("missing key must fail before any request")
	}
	if err := client.Health(context.Background()); err == nil {
		t.Error("Health must fail without a key")
	}
}

func TestOpenAIHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"data":[]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL, "gpt-4o-mini", testOptions(), 5*time.Second)
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

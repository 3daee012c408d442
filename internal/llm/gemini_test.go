package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestGeminiClient(apiKey, serverURL string) *GeminiClient {
	client := NewGeminiClient(apiKey, "gemini-2.0-flash", testOptions(), 10*time.Second)
	client.baseURL = serverURL
	return client
}

func geminiSSEChunk(text string) string {
	chunk := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{
				"role":  "model",
				"parts": []map[string]string{{"text": text}},
			}},
		},
	}
	data, _ := json.Marshal(chunk)
	return "data: " + string(data) + "\n\n"
}

func TestGeminiChat(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if key := r.URL.Query().Get("key"); key != "g-test" {
			t.Errorf("key = %q", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		fmt.Fprintln(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  آن شب در باغ بودم. [ترسیده]  "}]}}]}`)
	}))
	defer server.Close()

	client := newTestGeminiClient("g-test", server.URL)
	reply, err := client.Chat(context.Background(), "persona", []Message{
		{Role: "user", Content: "کجا بودی؟"},
		{Role: "assistant", Content: "چرا می‌پرسی؟"},
		{Role: "user", Content: "جواب بده"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "آن شب در باغ بودم. [ترسیده]" {
		t.Errorf("reply = %q (should be trimmed)", reply)
	}

	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "persona" {
		t.Errorf("systemInstruction = %+v", gotReq.SystemInstruction)
	}
	if len(gotReq.Contents) != 3 {
		t.Fatalf("contents = %+v", gotReq.Contents)
	}
	// Gemini uses "model" where the engine says "assistant"
	if gotReq.Contents[1].Role != "model" {
		t.Errorf("role = %q, want model", gotReq.Contents[1].Role)
	}
	if gotReq.GenerationConfig.MaxOutputTokens != 150 {
		t.Errorf("maxOutputTokens = %d", gotReq.GenerationConfig.MaxOutputTokens)
	}
}

func TestGeminiChatStreamSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:streamGenerateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if alt := r.URL.Query().Get("alt"); alt != "sse" {
			t.Errorf("alt = %q", alt)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, geminiSSEChunk("هیچ "))
		fmt.Fprint(w, geminiSSEChunk("چیزی "))
		fmt.Fprint(w, geminiSSEChunk("ندیدم"))
	}))
	defer server.Close()

	client := newTestGeminiClient("g-test", server.URL)

	var tokens []string
	reply, err := client.ChatStream(context.Background(), "persona", []Message{{Role: "user", Content: "x"}}, func(token string) {
		tokens = append(tokens, token)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if reply != "هیچ چیزی ندیدم" {
		t.Errorf("reply = %q", reply)
	}
	if len(tokens) != 3 {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestGeminiComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SystemInstruction != nil {
			t.Error("one-shot generation must not carry a system instruction")
		}
		if req.GenerationConfig.MaxOutputTokens != 400 {
			t.Errorf("maxOutputTokens = %d, want the per-call budget", req.GenerationConfig.MaxOutputTokens)
		}
		fmt.Fprintln(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"شبی تاریک بود"}]}}]}`)
	}))
	defer server.Close()

	client := newTestGeminiClient("g-test", server.URL)
	text, err := client.Complete(context.Background(), "داستان بنویس", 400)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "شبی تاریک بود" {
		t.Errorf("text = %q", text)
	}
}

func TestGeminiRateLimitIsRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"error":{"code":429,"message":"quota exceeded"}}`, http.StatusTooManyRequests)
			return
		}
		fmt.Fprintln(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"باشه"}]}}]}`)
	}))
	defer server.Close()

	client := newTestGeminiClient("g-test", server.URL)
	reply, err := client.Chat(context.Background(), "", []Message{{Role: "user", Content: "x"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "باشه" {
		t.Errorf("reply = %q", reply)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want a single retry", calls)
	}
}

func TestGeminiBadRequestIsFatal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"code":400,"message":"API key not valid"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestGeminiClient("g-bad", server.URL)
	_, err := client.Chat(context.Background(), "", []Message{{Role: "user", Content: "x"}})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d: bad requests must not be retried", calls)
	}
}

func TestGeminiMissingKey(t *testing.T) {
	client := NewGeminiClient("", "gemini-2.0-flash", testOptions(), time.Second)
	if _, err := client.Chat(context.Background(), "", nil); err == nil {
		t.Error("missing key must fail before any request")
	}
	if err := client.Health(context.Background()); err == nil {
		t.Error("Health must fail without a key")
	}
}

func TestGeminiHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if key := r.URL.Query().Get("key"); key != "g-test" {
			t.Errorf("key = %q", key)
		}
		fmt.Fprintln(w, `{"models":[]}`)
	}))
	defer server.Close()

	client := newTestGeminiClient("g-test", server.URL)
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

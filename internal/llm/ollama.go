package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
)

// OllamaClient implements Client against a local ollama server using its
// native /api endpoints (NDJSON streaming, not SSE).
type OllamaClient struct {
	baseURL     string
	model       string
	opts        Options
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// NewOllamaClient creates a client for an ollama server.
func NewOllamaClient(baseURL, model string, opts Options, timeout time.Duration) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		opts:    opts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaGenerateRequest struct {
	Model     string        `json:"model"`
	Prompt    string        `json:"prompt"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Options   ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Chat sends the transcript and returns the suspect's full reply.
func (c *OllamaClient) Chat(ctx context.Context, system string, history []Message) (string, error) {
	return c.ChatStream(ctx, system, history, nil)
}

// ChatStream sends the transcript with NDJSON streaming. onToken may be nil,
// in which case the request is made non-streaming.
func (c *OllamaClient) ChatStream(ctx context.Context, system string, history []Message, onToken func(string)) (string, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.LLMDebug("[ollama] chat: model=%s system_len=%d history=%d", c.model, len(system), len(history))

	c.throttle()

	messages := make([]ollamaMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	reqBody := ollamaChatRequest{
		Model:     c.model,
		Messages:  messages,
		Stream:    onToken != nil,
		KeepAlive: c.opts.KeepAlive,
		Options: ollamaOptions{
			NumCtx:      c.opts.ContextWindow,
			Temperature: c.opts.Temperature,
			NumPredict:  c.opts.MaxTokens,
		},
	}

	maxRetries := 2
	var lastErr error
	streamed := false
	tokenCB := onToken
	if onToken != nil {
		tokenCB = func(tok string) {
			streamed = true
			onToken(tok)
		}
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			logging.LLMWarn("[ollama] chat: attempt %d after error: %v", attempt+1, lastErr)
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, retryable, err := c.doChat(ctx, reqBody, tokenCB)
		if err != nil {
			if !retryable {
				return "", err
			}
			if streamed {
				// Retrying now would replay tokens the UI already rendered.
				logging.LLMError("[ollama] chat: stream interrupted after tokens delivered: %v", err)
				return "", fmt.Errorf("ollama stream interrupted: %w", err)
			}
			lastErr = err
			continue
		}

		logging.LLM("[ollama] chat: completed in %v reply_len=%d", time.Since(startTime), len(reply))
		return reply, nil
	}

	logging.LLMError("[ollama] chat: all attempts failed after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("ollama chat failed after retries: %w", lastErr)
}

// doChat performs one attempt. The bool reports whether the error is worth
// retrying: network failures, 429 and 5xx are; bad requests (wrong model
// name) and malformed responses are not.
func (c *OllamaClient) doChat(ctx context.Context, reqBody ollamaChatRequest, onToken func(string)) (string, bool, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return "", true, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !reqBody.Stream {
		var chatResp ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return "", false, fmt.Errorf("failed to parse response: %w", err)
		}
		if chatResp.Error != "" {
			return "", false, fmt.Errorf("ollama error: %s", chatResp.Error)
		}
		return strings.TrimSpace(chatResp.Message.Content), false, nil
	}

	// NDJSON stream: one JSON object per line until done=true
	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return "", false, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			onToken(chunk.Message.Content)
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", true, fmt.Errorf("stream error: %w", err)
	}

	return strings.TrimSpace(full.String()), false, nil
}

// Complete runs a one-shot generation via /api/generate.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return c.CompleteStream(ctx, prompt, maxTokens, nil)
}

// CompleteStream runs a one-shot generation with NDJSON streaming.
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.LLMDebug("[ollama] generate: model=%s prompt_len=%d max_tokens=%d", c.model, len(prompt), maxTokens)

	c.throttle()

	reqBody := ollamaGenerateRequest{
		Model:     c.model,
		Prompt:    prompt,
		Stream:    onToken != nil,
		KeepAlive: c.opts.KeepAlive,
		Options: ollamaOptions{
			NumCtx:      c.opts.ContextWindow,
			Temperature: c.opts.Temperature,
			NumPredict:  maxTokens,
		},
	}

	maxRetries := 2
	var lastErr error
	streamed := false
	tokenCB := onToken
	if onToken != nil {
		tokenCB = func(tok string) {
			streamed = true
			onToken(tok)
		}
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, retryable, err := c.doGenerate(ctx, reqBody, tokenCB)
		if err != nil {
			if !retryable {
				return "", err
			}
			if streamed {
				logging.LLMError("[ollama] generate: stream interrupted after tokens delivered: %v", err)
				return "", fmt.Errorf("ollama stream interrupted: %w", err)
			}
			lastErr = err
			continue
		}

		logging.LLM("[ollama] generate: completed in %v", time.Since(startTime))
		return text, nil
	}

	logging.LLMError("[ollama] generate: all attempts failed: %v", lastErr)
	return "", fmt.Errorf("ollama generate failed after retries: %w", lastErr)
}

func (c *OllamaClient) doGenerate(ctx context.Context, reqBody ollamaGenerateRequest, onToken func(string)) (string, bool, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return "", true, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !reqBody.Stream {
		var genResp ollamaGenerateResponse
		if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
			return "", false, fmt.Errorf("failed to parse response: %w", err)
		}
		if genResp.Error != "" {
			return "", false, fmt.Errorf("ollama error: %s", genResp.Error)
		}
		return strings.TrimSpace(genResp.Response), false, nil
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaGenerateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return "", false, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			onToken(chunk.Response)
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", true, fmt.Errorf("stream error: %w", err)
	}

	return strings.TrimSpace(full.String()), false, nil
}

// Health pings the ollama server.
func (c *OllamaClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama server not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama server returned status %d", resp.StatusCode)
	}
	return nil
}

// throttle spaces requests at least 100ms apart.
func (c *OllamaClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// Model returns the current model.
func (c *OllamaClient) Model() string {
	return c.model
}

// SetModel changes the model used for generation.
func (c *OllamaClient) SetModel(model string) {
	c.model = model
}

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

// OpenAIClient implements Client for the OpenAI chat completions API or any
// compatible endpoint (LM Studio, vLLM, OpenRouter).
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	opts        Options
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAIClient creates a client for an OpenAI-compatible API.
func NewOpenAIClient(apiKey, baseURL, model string, opts Options, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		opts:    opts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message *openaiMessage `json:"message,omitempty"`
		Delta   *openaiMessage `json:"delta,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends the transcript and returns the suspect's full reply.
func (c *OpenAIClient) Chat(ctx context.Context, system string, history []Message) (string, error) {
	return c.chat(ctx, c.buildMessages(system, history), c.opts.MaxTokens, nil)
}

// ChatStream sends the transcript with SSE streaming.
func (c *OpenAIClient) ChatStream(ctx context.Context, system string, history []Message, onToken func(string)) (string, error) {
	return c.chat(ctx, c.buildMessages(system, history), c.opts.MaxTokens, onToken)
}

// Complete runs a one-shot generation without a system message.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return c.chat(ctx, []openaiMessage{{Role: "user", Content: prompt}}, maxTokens, nil)
}

// CompleteStream runs a one-shot generation with SSE streaming.
func (c *OpenAIClient) CompleteStream(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error) {
	return c.chat(ctx, []openaiMessage{{Role: "user", Content: prompt}}, maxTokens, onToken)
}

func (c *OpenAIClient) buildMessages(system string, history []Message) []openaiMessage {
	messages := make([]openaiMessage, 0, len(history)+1)
	if system != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		messages = append(messages, openaiMessage{Role: m.Role, Content: m.Content})
	}
	return messages
}

func (c *OpenAIClient) chat(ctx context.Context, messages []openaiMessage, maxTokens int, onToken func(string)) (string, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.LLMDebug("[openai] chat: model=%s messages=%d stream=%v", c.model, len(messages), onToken != nil)

	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	// Rate limiting
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := openaiRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.opts.Temperature,
		Stream:      onToken != nil,
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
			logging.LLMWarn("[openai] chat: attempt %d after error: %v", attempt+1, lastErr)
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, retryable, err := c.doRequest(ctx, reqBody, tokenCB)
		if err != nil {
			if !retryable {
				return "", err
			}
			if streamed {
				// Retrying now would replay tokens the UI already rendered.
				logging.LLMError("[openai] chat: stream interrupted after tokens delivered: %v", err)
				return "", fmt.Errorf("openai stream interrupted: %w", err)
			}
			lastErr = err
			continue
		}

		logging.LLM("[openai] chat: completed in %v reply_len=%d", time.Since(startTime), len(reply))
		return reply, nil
	}

	logging.LLMError("[openai] chat: all attempts failed after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("openai chat failed after retries: %w", lastErr)
}

func (c *OpenAIClient) doRequest(ctx context.Context, reqBody openaiRequest, onToken func(string)) (string, bool, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if reqBody.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		body, _ := io.ReadAll(resp.Body)
		return "", true, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !reqBody.Stream {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", true, fmt.Errorf("failed to read response: %w", err)
		}

		var apiResp openaiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return "", false, fmt.Errorf("failed to parse response: %w", err)
		}
		if apiResp.Error != nil {
			return "", false, fmt.Errorf("API error: %s", apiResp.Error.Message)
		}
		if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message == nil {
			return "", false, fmt.Errorf("no completion returned")
		}
		return strings.TrimSpace(apiResp.Choices[0].Message.Content), false, nil
	}

	// SSE stream: "data: {...}" lines terminated by "data: [DONE]"
	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk openaiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return "", false, fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				full.WriteString(delta)
				onToken(delta)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", true, fmt.Errorf("stream error: %w", err)
	}

	return strings.TrimSpace(full.String()), false, nil
}

// Health verifies the API key against the models endpoint.
func (c *OpenAIClient) Health(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// Model returns the current model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// SetModel changes the model used for generation.
func (c *OpenAIClient) SetModel(model string) {
	c.model = model
}

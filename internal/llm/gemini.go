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

// GeminiClient implements Client for the Google Gemini REST API.
type GeminiClient struct {
	apiKey      string
	baseURL     string
	model       string
	opts        Options
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(apiKey, model string, opts Options, timeout time.Duration) *GeminiClient {
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		model:   model,
		opts:    opts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends the transcript and returns the suspect's full reply.
func (c *GeminiClient) Chat(ctx context.Context, system string, history []Message) (string, error) {
	return c.generate(ctx, c.buildRequest(system, history, c.opts.MaxTokens), nil)
}

// ChatStream sends the transcript with SSE streaming.
func (c *GeminiClient) ChatStream(ctx context.Context, system string, history []Message, onToken func(string)) (string, error) {
	return c.generate(ctx, c.buildRequest(system, history, c.opts.MaxTokens), onToken)
}

// Complete runs a one-shot generation without a system instruction.
func (c *GeminiClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := c.buildRequest("", []Message{{Role: "user", Content: prompt}}, maxTokens)
	return c.generate(ctx, req, nil)
}

// CompleteStream runs a one-shot generation with SSE streaming.
func (c *GeminiClient) CompleteStream(ctx context.Context, prompt string, maxTokens int, onToken func(string)) (string, error) {
	req := c.buildRequest("", []Message{{Role: "user", Content: prompt}}, maxTokens)
	return c.generate(ctx, req, onToken)
}

func (c *GeminiClient) buildRequest(system string, history []Message, maxTokens int) geminiRequest {
	contents := make([]geminiContent, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	req := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     c.opts.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: system}},
		}
	}
	return req
}

func (c *GeminiClient) generate(ctx context.Context, reqBody geminiRequest, onToken func(string)) (string, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.LLMDebug("[gemini] generate: model=%s contents=%d stream=%v", c.model, len(reqBody.Contents), onToken != nil)

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

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	if onToken != nil {
		endpoint = fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)
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
			logging.LLMWarn("[gemini] generate: attempt %d after error: %v", attempt+1, lastErr)
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, retryable, err := c.doRequest(ctx, endpoint, reqBody, tokenCB)
		if err != nil {
			if !retryable {
				return "", err
			}
			if streamed {
				// Retrying now would replay tokens the UI already rendered.
				logging.LLMError("[gemini] generate: stream interrupted after tokens delivered: %v", err)
				return "", fmt.Errorf("gemini stream interrupted: %w", err)
			}
			lastErr = err
			continue
		}

		logging.LLM("[gemini] generate: completed in %v reply_len=%d", time.Since(startTime), len(reply))
		return reply, nil
	}

	logging.LLMError("[gemini] generate: all attempts failed after %v: %v", time.Since(startTime), lastErr)
	return "", fmt.Errorf("gemini generate failed after retries: %w", lastErr)
}

func (c *GeminiClient) doRequest(ctx context.Context, endpoint string, reqBody geminiRequest, onToken func(string)) (string, bool, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonData))
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
		return "", true, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if onToken == nil {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", true, fmt.Errorf("failed to read response: %w", err)
		}

		var apiResp geminiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return "", false, fmt.Errorf("failed to parse response: %w", err)
		}
		if apiResp.Error != nil {
			return "", false, fmt.Errorf("API error %d: %s", apiResp.Error.Code, apiResp.Error.Message)
		}
		if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
			return "", false, fmt.Errorf("no completion returned")
		}
		return strings.TrimSpace(apiResp.Candidates[0].Content.Parts[0].Text), false, nil
	}

	// SSE stream of candidate chunks
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

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return "", false, fmt.Errorf("API error %d: %s", chunk.Error.Code, chunk.Error.Message)
		}
		if len(chunk.Candidates) > 0 {
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Text != "" {
					full.WriteString(part.Text)
					onToken(part.Text)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", true, fmt.Errorf("stream error: %w", err)
	}

	return strings.TrimSpace(full.String()), false, nil
}

// Health verifies the API key against the models endpoint.
func (c *GeminiClient) Health(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key not configured")
	}

	endpoint := fmt.Sprintf("%s/models?key=%s&pageSize=1", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return nil
}

// Model returns the current model.
func (c *GeminiClient) Model() string {
	return c.model
}

// SetModel changes the model used for generation.
func (c *GeminiClient) SetModel(model string) {
	c.model = model
}

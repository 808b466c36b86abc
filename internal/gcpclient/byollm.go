package gcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BYOLLMClient implements the same GenerateContent/Summarize/ScoreBatch
// surface as GenAIAdapter against any OpenAI-compatible chat completions
// API (OpenRouter, OpenAI, self-hosted). It lets the re-rank and
// summarize strategies run against a bring-your-own-key provider instead
// of Vertex AI without changing a line of service code.
type BYOLLMClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewBYOLLMClient creates a BYOLLMClient for an external LLM provider.
// The apiKey is kept on the client for its whole lifetime and never logged.
func NewBYOLLMClient(apiKey, baseURL, model string) *BYOLLMClient {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &BYOLLMClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateContent implements the shared GenAI surface using the OpenAI
// chat completions API. Retries follow the same exponential-backoff helper
// as GenAIAdapter so either provider can sit behind withRetry transparently.
func (c *BYOLLMClient) GenerateContent(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	return withRetry(ctx, "byollm.GenerateContent", func() (string, error) {
		return c.generateContent(ctx, systemPrompt, userPrompt)
	})
}

func (c *BYOLLMClient) generateContent(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	reqBody := openAIRequest{
		Model:       c.model,
		MaxTokens:   4096,
		Temperature: 0.3,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("byollm: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("byollm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("byollm: request cancelled: %w", ctx.Err())
		}
		if isTimeoutError(err) {
			return "", fmt.Errorf("byollm timeout after 30s")
		}
		return "", fmt.Errorf("byollm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("byollm: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("byollm auth failed: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("byollm rate limited")
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("byollm server error: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("byollm: unexpected status %d", resp.StatusCode)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("byollm: decode response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("byollm: API error: %s", parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("byollm returned empty response")
	}

	return parsed.Choices[0].Message.Content, nil
}

// GenerateContentStream implements the streaming GenAI surface using the
// OpenAI-compatible streaming API (stream: true → SSE chunks).
func (c *BYOLLMClient) GenerateContentStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)

		reqBody := openAIRequest{
			Model:       c.model,
			MaxTokens:   4096,
			Temperature: 0.3,
			Stream:      true,
			Messages: []openAIMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
		}

		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			errCh <- fmt.Errorf("byollm stream: marshal request: %w", err)
			return
		}

		endpoint := c.baseURL + "/chat/completions"

		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			errCh <- fmt.Errorf("byollm stream: create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		// Streaming responses can legitimately run past the non-streaming
		// client's 30s timeout; context cancellation still applies.
		streamHTTP := &http.Client{Timeout: 0}
		resp, err := streamHTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				errCh <- fmt.Errorf("byollm stream: request cancelled: %w", ctx.Err())
				return
			}
			errCh <- fmt.Errorf("byollm stream: request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			errCh <- fmt.Errorf("byollm auth failed: %d", resp.StatusCode)
			return
		case resp.StatusCode == http.StatusTooManyRequests:
			errCh <- fmt.Errorf("byollm rate limited")
			return
		case resp.StatusCode >= 500:
			errCh <- fmt.Errorf("byollm server error: %d", resp.StatusCode)
			return
		case resp.StatusCode != http.StatusOK:
			errCh <- fmt.Errorf("byollm stream: unexpected status %d", resp.StatusCode)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if ctx.Err() != nil {
				errCh <- fmt.Errorf("byollm stream: context cancelled: %w", ctx.Err())
				return
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue // skip malformed chunks
			}

			if chunk.Error != nil {
				errCh <- fmt.Errorf("byollm stream: API error: %s", chunk.Error.Message)
				return
			}

			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				textCh <- chunk.Choices[0].Delta.Content
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("byollm stream: read error: %w", err)
		}
	}()

	return textCh, errCh
}

// Summarize implements service.LLMSummarizer against the OpenAI-compatible
// API, mirroring GenAIAdapter.Summarize's prompt so the Context Synthesizer
// is indifferent to which provider is wired in.
func (c *BYOLLMClient) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	system := "You summarize retrieved document excerpts for a retrieval-augmented generation pipeline. Preserve facts, names, and figures. Do not add commentary."
	prompt := fmt.Sprintf("Summarize the following text in at most %d tokens, preserving the key facts:\n\n%s", maxTokens, text)
	return c.GenerateContent(ctx, system, prompt)
}

// ScoreBatch implements service.LLMRelevanceScorer against the OpenAI-
// compatible API. The raw model response is returned unparsed; callers
// tolerate malformed output.
func (c *BYOLLMClient) ScoreBatch(ctx context.Context, query string, texts []string) (string, error) {
	system := "You score passage relevance for search re-ranking. Respond with only a JSON array of numbers between 0 and 1, one per passage, in order. No other text."
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nPassages:\n", query)
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	return c.GenerateContent(ctx, system, b.String())
}

// isTimeoutError checks if an error is a timeout (net.Error with Timeout()).
func isTimeoutError(err error) bool {
	type timeoutErr interface {
		Timeout() bool
	}
	if te, ok := err.(timeoutErr); ok {
		return te.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openedtech/tutorcore/internal/logger"
	"github.com/openedtech/tutorcore/internal/prompts"
	"github.com/openedtech/tutorcore/internal/utils"
)

// Client talks to an OpenAI-compatible chat-completions and embeddings
// API. The base URL is configurable so alternative providers that
// speak the same protocol work unchanged.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	model          string
	embeddingBase  string
	embeddingKey   string
	embeddingModel string
	maxTokens      int
	temperature    float64
	log            *logger.Logger
}

func NewClient(log *logger.Logger) (*Client, error) {
	clientLog := log.With("client", "OpenAIClient")

	apiKey := utils.GetEnv("OPENAI_API_KEY", "", log)
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	c := &Client{
		httpClient:     &http.Client{Timeout: 150 * time.Second},
		baseURL:        strings.TrimRight(utils.GetEnv("OPENAI_API_BASE", "https://api.openai.com/v1", log), "/"),
		apiKey:         apiKey,
		model:          utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log),
		embeddingModel: utils.GetEnv("EMBEDDING_MODEL", "text-embedding-3-small", log),
		maxTokens:      utils.GetEnvAsInt("LLM_MAX_TOKENS", 1000, log),
		temperature:    utils.GetEnvAsFloat("LLM_TEMPERATURE", 0.7, log),
		log:            clientLog,
	}
	// The embedding provider may differ from the chat provider.
	c.embeddingBase = strings.TrimRight(utils.GetEnv("EMBEDDING_API_BASE", c.baseURL, log), "/")
	c.embeddingKey = utils.GetEnv("EMBEDDING_API_KEY", apiKey, log)
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the system prompt plus conversation to the chat
// completions endpoint and returns the assistant text.
func (c *Client) Complete(ctx context.Context, systemPrompt string, messages []prompts.Message) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    make([]chatMessage, 0, len(messages)+1),
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	var out chatResponse
	if err := c.post(ctx, c.baseURL+"/chat/completions", c.apiKey, payload, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("chat completion: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding vector for one input text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	payload := embeddingRequest{Model: c.embeddingModel, Input: text}

	var out embeddingResponse
	if err := c.post(ctx, c.embeddingBase+"/embeddings", c.embeddingKey, payload, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("embedding: %s", out.Error.Message)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return out.Data[0].Embedding, nil
}

const maxAttempts = 3

// post sends one JSON request with linear-backoff retries on transport
// errors and 5xx responses.
func (c *Client) post(ctx context.Context, url, key string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("Request failed, retrying", "url", url, "attempt", attempt, "error", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			c.log.Warn("Server error, retrying", "url", url, "attempt", attempt, "status", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("request to %s failed with status %d", url, resp.StatusCode)
		}
		return json.Unmarshal(respBody, out)
	}
	return fmt.Errorf("request to %s failed after %d attempts: %w", url, maxAttempts, lastErr)
}

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/alex/internal/conversation"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"

	Temperature = 0.8
	MaxTokens   = 1500
)

// Request carries one completion call. Messages exclude the synthetic greeting.
type Request struct {
	Messages   []conversation.Message
	Persona    string
	Credential string
}

// Gateway performs one stateless completion per call.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type GroqConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// GroqClient talks to an OpenAI-compatible chat completions endpoint.
type GroqClient struct {
	url    string
	model  string
	client *http.Client
	logger *zap.Logger
}

func NewGroqClient(cfg GroqConfig) *GroqClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroqClient{
		url:    base + "/chat/completions",
		model:  model,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string                 `json:"model"`
	Messages    []conversation.Message `json:"messages"`
	Temperature float64                `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GroqClient) Complete(ctx context.Context, req Request) (string, error) {
	credential := strings.TrimSpace(req.Credential)
	if credential == "" {
		return "", &Error{Kind: KindAuth, Message: "no API key configured"}
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    BuildMessages(req.Persona, req.Messages),
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	started := time.Now()
	res, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("completion request failed", zap.Error(err))
		return "", &Error{Kind: KindNetwork, Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	c.logger.Debug("completion response",
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("messages", len(req.Messages)+1),
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", statusError(res)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: fmt.Errorf("read response: %w", err)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Kind: KindEmptyResponse, Message: "No response from API", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Kind: KindEmptyResponse, Message: "No response from API"}
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &Error{Kind: KindEmptyResponse, Message: "Empty response from API"}
	}
	return content, nil
}

func statusError(res *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	var apiErr apiErrorBody
	msg := ""
	if json.Unmarshal(body, &apiErr) == nil {
		msg = strings.TrimSpace(apiErr.Error.Message)
	}
	if msg == "" {
		msg = fmt.Sprintf("API error: %d", res.StatusCode)
	}
	kind := KindAPI
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		kind = KindAuth
	}
	return &Error{Kind: kind, Status: res.StatusCode, Message: msg}
}

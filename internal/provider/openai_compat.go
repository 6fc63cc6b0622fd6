package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OpenAICompatConfig configures an OpenAI-compatible endpoint.
type OpenAICompatConfig struct {
	// Name labels the adapter in cost records, e.g. "openai" or "vllm".
	Name string

	// Endpoint is the API base URL, e.g. "https://api.openai.com/v1" or a
	// local "http://127.0.0.1:8000/v1".
	Endpoint string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Models lists the model identifiers this endpoint serves.
	Models []string

	// Timeout caps one request end to end.
	Timeout time.Duration
}

// OpenAICompat is a Provider over the de-facto standard chat-completions
// JSON protocol, served by OpenAI itself and by local runtimes (vLLM,
// Ollama, LM Studio) and gateways alike. One adapter covers them all; no
// vendor-specific wire handling lives in the engine.
type OpenAICompat struct {
	name       string
	endpoint   string
	apiKey     string
	models     []string
	httpClient *http.Client
}

// NewOpenAICompat creates the adapter.
func NewOpenAICompat(cfg OpenAICompatConfig) *OpenAICompat {
	if cfg.Name == "" {
		cfg.Name = "openai-compat"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAICompat{
		name:       cfg.Name,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		models:     cfg.Models,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Provider.
func (p *OpenAICompat) Name() string { return p.name }

// Models implements Provider.
func (p *OpenAICompat) Models() []string { return p.models }

// Wire shapes of the chat-completions protocol.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Invoke implements Provider.
func (p *OpenAICompat) Invoke(ctx context.Context, req Request) (*Response, error) {
	messages := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	payload, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, NewError(ErrCodeInvalidRequest, p.name, err.Error(), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(ErrCodeInvalidRequest, p.name, err.Error(), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
			return nil, NewError(ErrCodeTimeout, p.name, err.Error(), true)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, NewError(ErrCodeNetworkError, p.name, err.Error(), true)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewError(ErrCodeNetworkError, p.name, err.Error(), true)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, p.statusError(httpResp, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewError(ErrCodeUnknown, p.name, fmt.Sprintf("parse response: %v", err), false)
	}
	if len(parsed.Choices) == 0 {
		return nil, NewError(ErrCodeUnknown, p.name, "response carried no choices", false)
	}

	return &Response{
		Text:         parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAICompat) statusError(resp *http.Response, body []byte) *Error {
	message := strings.TrimSpace(string(body))
	var parsed chatResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		message = parsed.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewError(ErrCodeAuthFailed, p.name, message, false)
	case http.StatusNotFound:
		return NewError(ErrCodeModelNotFound, p.name, message, false)
	case http.StatusTooManyRequests:
		e := NewError(ErrCodeRateLimited, p.name, message, true)
		if after, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			e.RetryAfter = after
		}
		return e
	case http.StatusPaymentRequired:
		return NewError(ErrCodeQuotaExceeded, p.name, message, false)
	case http.StatusBadRequest:
		return NewError(ErrCodeInvalidRequest, p.name, message, false)
	}
	if resp.StatusCode >= 500 {
		return NewError(ErrCodeServiceUnavailable, p.name, message, true)
	}
	return NewError(ErrCodeUnknown, p.name, message, false)
}

// isTimeoutErr reports whether err carries a network timeout.
func isTimeoutErr(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cferrors "codeforge/internal/shared/errors"
)

// HTTPConfig configures the OpenAI-compatible chat-completions client.
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// httpClient speaks the OpenAI-compatible POST /chat/completions API:
// bearer auth header, JSON body, a single non-streaming response.
type httpClient struct {
	cfg HTTPConfig
}

// NewHTTPClient constructs a Client over an OpenAI-compatible chat
// completions endpoint.
func NewHTTPClient(cfg HTTPConfig) Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &httpClient{cfg: cfg}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", cferrors.Wrap(cferrors.KindInvalidInput, "marshal chat request", err)
	}

	endpoint := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", cferrors.Wrap(cferrors.KindInvalidInput, "build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", cferrors.Wrap(cferrors.KindUpstreamUnavailable, "chat completion request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", cferrors.Wrap(cferrors.KindUpstreamUnavailable, "read chat completion response", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", cferrors.Wrap(cferrors.KindUpstreamUnavailable,
			fmt.Sprintf("chat completion provider returned %d", resp.StatusCode),
			fmt.Errorf("%s", string(data)))
	}
	if resp.StatusCode >= 300 {
		return "", cferrors.Wrap(cferrors.KindValidationFailure,
			fmt.Sprintf("chat completion provider rejected request (%d)", resp.StatusCode),
			fmt.Errorf("%s", string(data)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", cferrors.Wrap(cferrors.KindUpstreamUnavailable, "parse chat completion response", err)
	}
	if parsed.Error != nil {
		return "", cferrors.Wrap(cferrors.KindUpstreamUnavailable, "chat completion provider error",
			fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", cferrors.New(cferrors.KindUpstreamUnavailable, "chat completion response had no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

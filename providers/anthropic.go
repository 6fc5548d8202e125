package providers

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

// AnthropicAdapter streams messages from the Anthropic API using its
// native SSE wire format.
type AnthropicAdapter struct {
	Base
	httpClient *http.Client
}

// NewAnthropic creates a new Anthropic stream adapter. The optional
// baseURL parameter allows overriding the API endpoint.
func NewAnthropic(apiKey, baseURL string) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicAdapter{
		Base:       Base{name: "anthropic", apiKey: apiKey, baseURL: baseURL},
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// OpenStream implements StreamFactory.
func (a *AnthropicAdapter) OpenStream(ctx context.Context, prompt string, params CallParams, handle Handle, meta CallMeta) (*Stream, error) {
	model := params.Model
	if model == "" {
		model = handle.Model
	}
	if model == "" {
		return nil, New("anthropic: model is required", CategoryAPIError)
	}

	maxTokens := 1024
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	body := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		System:      params.Instructions(),
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, New(fmt.Sprintf("anthropic: marshal request: %v", err), CategoryProviderError)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, New(fmt.Sprintf("anthropic: build request: %v", err), CategoryProviderError)
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("content-type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, NewRetryable(fmt.Sprintf("anthropic: request failed: %v", err), CategoryTransient)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		defer cancel()
		respBody, _ := io.ReadAll(httpResp.Body)
		msg := strings.TrimSpace(string(respBody))
		var errResp anthropicErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, classifyAnthropicStatus(httpResp.StatusCode, msg)
	}

	events := make(chan Event)
	out := NewStream(events, cancel)

	go func() {
		defer close(events)
		defer cancel()
		defer func() { _ = httpResp.Body.Close() }()

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-streamCtx.Done():
				return false
			}
		}

		var usage Usage
		stopReason := ""
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt anthropicStreamEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt) != nil {
				continue
			}
			switch evt.Type {
			case "message_start":
				usage.PromptTokens = evt.Message.Usage.InputTokens
				usage.CompletionTokens = evt.Message.Usage.OutputTokens
				out.SetUsage(usage)
			case "content_block_delta":
				if evt.Delta.Text != "" {
					if !send(Event{Type: EventToken, Delta: evt.Delta.Text}) {
						return
					}
				}
			case "message_delta":
				if evt.Delta.StopReason != "" {
					stopReason = evt.Delta.StopReason
				}
				if evt.Usage.OutputTokens > 0 {
					usage.CompletionTokens = evt.Usage.OutputTokens
					usage.CostUSD = EstimateCost(a.name, model, usage)
					out.SetUsage(usage)
				}
			case "error":
				send(Event{
					Type:     EventError,
					Message:  "anthropic: stream error",
					Category: CategoryProviderError,
				})
				return
			}
		}
		if err := scanner.Err(); err != nil && streamCtx.Err() == nil {
			send(Event{
				Type:      EventError,
				Message:   fmt.Sprintf("anthropic: read stream: %v", err),
				Retryable: true,
				Category:  CategoryTransient,
			})
			return
		}
		send(Event{
			Type:         EventComplete,
			FinishReason: mapAnthropicStopReason(stopReason),
			Usage:        &usage,
		})
	}()

	return out, nil
}

func classifyAnthropicStatus(status int, msg string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return NewRetryable(fmt.Sprintf("anthropic: rate limited: %s", msg), CategoryRateLimit)
	case status == http.StatusRequestTimeout:
		return NewRetryable(fmt.Sprintf("anthropic: request timeout: %s", msg), CategoryTimeout)
	case status == 529:
		// Anthropic-specific "overloaded" status.
		return NewRetryable(fmt.Sprintf("anthropic: overloaded: %s", msg), CategoryProviderUnavailable)
	case status >= 500:
		return NewRetryable(fmt.Sprintf("anthropic: server error (%d): %s", status, msg), CategoryServerError)
	default:
		return New(fmt.Sprintf("anthropic: API error (%d): %s", status, msg), CategoryAPIError)
	}
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return FinishStop
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

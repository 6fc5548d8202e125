package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter streams chat completions from OpenAI via the official SDK.
type OpenAIAdapter struct {
	Base
	client openai.Client
}

// NewOpenAI creates a new OpenAI stream adapter. The optional baseURL
// parameter allows overriding the API endpoint (pass "" for the default).
func NewOpenAI(apiKey, baseURL string) *OpenAIAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	resolvedBase := "https://api.openai.com"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		resolvedBase = baseURL
	}
	return &OpenAIAdapter{
		Base:   Base{name: "openai", apiKey: apiKey, baseURL: resolvedBase},
		client: openai.NewClient(opts...),
	}
}

// OpenStream implements StreamFactory.
func (a *OpenAIAdapter) OpenStream(ctx context.Context, prompt string, params CallParams, handle Handle, meta CallMeta) (*Stream, error) {
	model := params.Model
	if model == "" {
		model = handle.Model
	}
	if model == "" {
		return nil, New("openai: model is required", CategoryAPIError)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if instructions := params.Instructions(); instructions != "" {
		messages = append(messages, openai.SystemMessage(instructions))
	}
	messages = append(messages, openai.UserMessage(prompt))

	req := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if params.Temperature != nil {
		req.Temperature = openai.Float(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = openai.Float(*params.TopP)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = openai.Int(int64(*params.MaxTokens))
	}
	if meta.RunID != "" {
		req.User = openai.String(meta.RunID)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	sdkStream := a.client.Chat.Completions.NewStreaming(streamCtx, req)

	events := make(chan Event)
	out := NewStream(events, cancel)

	go func() {
		defer close(events)
		defer cancel()

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-streamCtx.Done():
				return false
			}
		}

		var usage Usage
		finishReason := ""
		for sdkStream.Next() {
			chunk := sdkStream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !send(Event{Type: EventToken, Delta: choice.Delta.Content}) {
						return
					}
				}
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
			}
			// With include_usage the final chunk carries exact counts.
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				usage.PromptTokens = int(chunk.Usage.PromptTokens)
				usage.CompletionTokens = int(chunk.Usage.CompletionTokens)
				usage.CostUSD = EstimateCost(a.name, model, usage)
				out.SetUsage(usage)
			}
		}
		if err := sdkStream.Err(); err != nil {
			send(classifyOpenAIError(err))
			return
		}
		if finishReason == "" {
			finishReason = FinishStop
		}
		send(Event{Type: EventComplete, FinishReason: finishReason, Usage: &usage})
	}()

	return out, nil
}

// classifyOpenAIError maps SDK failures onto the gateway error taxonomy.
func classifyOpenAIError(err error) Event {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return Event{
				Type:      EventError,
				Message:   fmt.Sprintf("openai: rate limited: %v", apierr.Message),
				Retryable: true,
				Category:  CategoryRateLimit,
			}
		case apierr.StatusCode == 408:
			return Event{
				Type:      EventError,
				Message:   fmt.Sprintf("openai: request timeout: %v", apierr.Message),
				Retryable: true,
				Category:  CategoryTimeout,
			}
		case apierr.StatusCode >= 500:
			return Event{
				Type:      EventError,
				Message:   fmt.Sprintf("openai: server error (%d): %v", apierr.StatusCode, apierr.Message),
				Retryable: true,
				Category:  CategoryServerError,
			}
		default:
			return Event{
				Type:     EventError,
				Message:  fmt.Sprintf("openai: API error (%d): %v", apierr.StatusCode, apierr.Message),
				Category: CategoryAPIError,
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Event{
			Type:      EventError,
			Message:   "openai: " + err.Error(),
			Retryable: true,
			Category:  CategoryTimeout,
		}
	}
	return Event{
		Type:      EventError,
		Message:   "openai: " + err.Error(),
		Retryable: true,
		Category:  CategoryTransient,
	}
}

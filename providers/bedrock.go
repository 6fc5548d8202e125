package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockAdapter streams Anthropic-family models through AWS Bedrock's
// InvokeModelWithResponseStream API. Bedrock speaks the Anthropic
// messages wire format inside its event-stream chunks.
type BedrockAdapter struct {
	Base
	client *bedrockruntime.Client
	region string
}

// NewBedrock creates a new Bedrock stream adapter. region defaults to
// us-east-1. When accessKey/secretKey are non-empty they override the
// default AWS credential chain.
func NewBedrock(ctx context.Context, region, accessKey, secretKey string) (*BedrockAdapter, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &BedrockAdapter{
		Base:   Base{name: "bedrock", baseURL: fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)},
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
	}, nil
}

type bedrockClaudeRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
	System           string             `json:"system,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
}

// OpenStream implements StreamFactory.
func (a *BedrockAdapter) OpenStream(ctx context.Context, prompt string, params CallParams, handle Handle, meta CallMeta) (*Stream, error) {
	model := params.Model
	if model == "" {
		model = handle.Model
	}
	if model == "" {
		return nil, New("bedrock: model is required", CategoryAPIError)
	}

	maxTokens := 1024
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	body, err := json.Marshal(bedrockClaudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
		System:           params.Instructions(),
		Temperature:      params.Temperature,
		TopP:             params.TopP,
	})
	if err != nil {
		return nil, New(fmt.Sprintf("bedrock: marshal request: %v", err), CategoryProviderError)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out, err := a.client.InvokeModelWithResponseStream(streamCtx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		cancel()
		return nil, classifyBedrockError(err)
	}

	events := make(chan Event)
	stream := NewStream(events, cancel)
	es := out.GetStream()

	go func() {
		defer close(events)
		defer cancel()
		defer func() { _ = es.Close() }()

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
		for raw := range es.Events() {
			chunk, ok := raw.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var evt anthropicStreamEvent
			if json.Unmarshal(chunk.Value.Bytes, &evt) != nil {
				continue
			}
			switch evt.Type {
			case "message_start":
				usage.PromptTokens = evt.Message.Usage.InputTokens
				stream.SetUsage(usage)
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
					stream.SetUsage(usage)
				}
			}
		}
		if err := es.Err(); err != nil && streamCtx.Err() == nil {
			send(Event{
				Type:      EventError,
				Message:   fmt.Sprintf("bedrock: stream error: %v", err),
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

	return stream, nil
}

func classifyBedrockError(err error) *Error {
	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return NewRetryable("bedrock: throttled: "+aws.ToString(throttle.Message), CategoryRateLimit)
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return NewRetryable("bedrock: service unavailable: "+aws.ToString(unavailable.Message), CategoryProviderUnavailable)
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return NewRetryable("bedrock: internal error: "+aws.ToString(internal.Message), CategoryServerError)
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return New("bedrock: validation error: "+aws.ToString(validation.Message), CategoryAPIError)
	}
	return New("bedrock: invoke failed: "+err.Error(), CategoryProviderError)
}

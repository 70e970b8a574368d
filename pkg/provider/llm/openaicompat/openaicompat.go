// Package openaicompat implements llm.Provider against any OpenAI
// chat-completions-compatible endpoint, using the openai-go SDK's typed
// client purely for request construction and auth/timeout wiring.
package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

// Provider talks to an OpenAI-compatible chat-completions endpoint.
type Provider struct {
	client      oai.Client
	model       string
	temperature float64
}

// New builds a Provider. An empty apiKey is valid — some self-hosted
// OpenAI-compatible endpoints require no bearer token.
func New(baseURL, apiKey, model string, temperature float64, timeout time.Duration) *Provider {
	reqOpts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, temperature: temperature}
}

// SupportsMessages implements llm.Provider.
func (p *Provider) SupportsMessages() bool { return true }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return llm.Result{}, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Result{}, fmt.Errorf("openaicompat: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("openaicompat: response missing content")
	}
	return llm.Result{Text: resp.Choices[0].Message.Content}, nil
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req llm.Request) ([]string, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var deltas []string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			deltas = append(deltas, content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openaicompat: stream: %w", err)
	}

	if len(deltas) == 0 {
		result, err := p.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return []string{result.Text}, nil
	}
	return deltas, nil
}

func (p *Provider) buildParams(req llm.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			messages = append(messages, convertMessage(m))
		}
	} else {
		messages = append(messages, oai.UserMessage(req.Text))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if p.temperature != 0 {
		params.Temperature = param.NewOpt(p.temperature)
	}
	return params, nil
}

func convertMessage(m llm.Message) oai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content)
	case "assistant":
		return oai.AssistantMessage(m.Content)
	default:
		return oai.UserMessage(m.Content)
	}
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI streams completions through any OpenAI-compatible endpoint
// (OpenAI itself, OpenRouter, a local gateway). It implements Streamer.
type OpenAI struct {
	client  *openai.Client
	timeout time.Duration
}

// OpenAIConfig configures the upstream client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // empty uses the default endpoint
	Timeout time.Duration // per-call cap; defaults to 2m
}

// NewOpenAI builds an OpenAI-backed streamer.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientConfig), timeout: timeout}
}

// Stream opens a streaming chat completion and forwards deltas as events.
// The channel closes after exactly one terminal event.
func (o *OpenAI) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	s, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Messages:      messages,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create completion stream: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer cancel()
		defer close(out)
		defer func() { _ = s.Close() }()

		finishReason := FinishFromUpstream("")
		var usage *Usage

		for {
			resp, err := s.Recv()
			if errors.Is(err, io.EOF) {
				out <- Event{Type: EventFinish, FinishReason: finishReason, Usage: usage}
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("completion stream receive failed")
				select {
				case out <- Event{Type: EventError, Err: err}:
				case <-ctx.Done():
				}
				return
			}

			if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
				usage = &Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				finishReason = FinishFromUpstream(string(choice.FinishReason))
			}
			if delta := choice.Delta.Content; delta != "" {
				select {
				case out <- Event{Type: EventText, Text: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// FinishFromUpstream normalizes an upstream finish reason to the values
// persisted on messages. Unknown and empty reasons map to "stop".
func FinishFromUpstream(reason string) string {
	switch reason {
	case "length", "max_tokens":
		return "length"
	case "error":
		return "error"
	default:
		return "stop"
	}
}

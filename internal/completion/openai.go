package completion

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configure the OpenAI completion source.
type OpenAIOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// OpenAISource streams completions from the OpenAI Chat Completions API.
type OpenAISource struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAISource creates a source using the official client.
func NewOpenAISource(optFns ...func(o *OpenAIOptions)) *OpenAISource {
	opts := OpenAIOptions{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAISource{client: &client, opts: opts}
}

// StreamCompletion implements Source.
func (s *OpenAISource) StreamCompletion(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model:               s.opts.Model,
			Temperature:         openai.Float(s.opts.Temperature),
			MaxCompletionTokens: openai.Int(s.opts.MaxTokens),
		}

		stream := s.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			ck := stream.Current()
			for _, ch := range ck.Choices {
				if ch.Delta.Content == "" {
					continue
				}
				select {
				case out <- ch.Delta.Content:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()

	return out, errCh
}

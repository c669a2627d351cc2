package providers

import (
	"context"
	"fmt"
	"log"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAI falls back to OPENAI_API_BASE_URL and OPENAI_API_KEY for unset
// params. Any OpenAI-compatible endpoint works.
func NewOpenAI(params ProviderParams) *OpenAIClient {
	params.BaseURL = envOr(params.BaseURL, "OPENAI_API_BASE_URL")
	if params.BaseURL == "" {
		params.BaseURL = "https://api.openai.com/v1/"
	}
	params.APIKey = envOr(params.APIKey, "OPENAI_API_KEY")

	opts := []option.RequestOption{option.WithBaseURL(params.BaseURL)}
	if params.APIKey != "" {
		opts = append(opts, option.WithAPIKey(params.APIKey))
	}
	log.Println("Using Base URL", params.BaseURL)
	return &OpenAIClient{
		client: openai.NewClient(opts...),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, system string, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	chatCompletion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F(messages),
		Model:    openai.F(model),
	})
	if err != nil {
		return "", err
	}
	if len(chatCompletion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return chatCompletion.Choices[0].Message.Content, nil
}

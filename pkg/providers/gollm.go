package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/teilomillet/gollm"
)

// GollmClient routes completions through gollm to any backend it supports.
// gollm binds a model at construction, so one LLM is kept per model name.
type GollmClient struct {
	params ProviderParams
	mu     sync.Mutex
	llms   map[string]gollm.LLM
}

func NewGollm(params ProviderParams) (*GollmClient, error) {
	if params.Backend == "" {
		params.Backend = OpenAI
	}
	if params.Model == "" {
		params.Model = "gpt-4o-mini"
	}
	c := &GollmClient{params: params, llms: make(map[string]gollm.LLM)}
	// fail fast on a bad backend or missing key
	if _, err := c.llm(params.Model); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GollmClient) llm(model string) (gollm.LLM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if llm, ok := c.llms[model]; ok {
		return llm, nil
	}
	opts := []gollm.ConfigOption{
		gollm.SetProvider(c.params.Backend),
		gollm.SetModel(model),
		gollm.SetMaxTokens(maxTokensOr(c.params.MaxTokens)),
		gollm.SetMaxRetries(0), // retries happen in the collaborator
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if c.params.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(c.params.APIKey))
	}
	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for backend %s: %w", c.params.Backend, err)
	}
	c.llms[model] = llm
	return llm, nil
}

func (c *GollmClient) Complete(ctx context.Context, model string, system string, prompt string) (string, error) {
	if model == "" {
		model = c.params.Model
	}
	llm, err := c.llm(model)
	if err != nil {
		return "", err
	}
	opts := []gollm.PromptOption{}
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(strings.TrimSpace(system), gollm.CacheTypeEphemeral))
	}
	return llm.Generate(ctx, gollm.NewPrompt(prompt, opts...))
}

// Package providers adapts language model SDKs to a single completion call.
package providers

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider names accepted by New
const (
	Ollama    = "ollama"
	OpenAI    = "openai"
	Google    = "google"
	Anthropic = "anthropic"
	Gollm     = "gollm"
)

// Client renders one system + user prompt into text.
type Client interface {
	Complete(ctx context.Context, model string, system string, prompt string) (string, error)
}

// Pinger is implemented by clients that can check the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ProviderParams struct {
	Provider string
	BaseURL  string
	APIKey   string
	// Backend is the upstream provider name for gollm ("openai", "anthropic", "ollama", ...).
	Backend   string
	Model     string
	MaxTokens int
}

type ProviderOption func(*ProviderParams)

func WithProvider(name string) ProviderOption {
	return func(p *ProviderParams) {
		p.Provider = name
	}
}

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

func WithBackend(backend string) ProviderOption {
	return func(p *ProviderParams) {
		p.Backend = backend
	}
}

func WithModel(model string) ProviderOption {
	return func(p *ProviderParams) {
		p.Model = model
	}
}

func WithMaxTokens(n int) ProviderOption {
	return func(p *ProviderParams) {
		p.MaxTokens = n
	}
}

// NewParams applies opts over empty params.
func NewParams(opts ...ProviderOption) ProviderParams {
	params := ProviderParams{}
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

// New builds the client named by params.Provider. Ollama is the default.
func New(ctx context.Context, params ProviderParams) (Client, error) {
	switch strings.ToLower(params.Provider) {
	case "", Ollama:
		return NewOllama(params), nil
	case OpenAI:
		return NewOpenAI(params), nil
	case Google, "gemini":
		return NewGemini(ctx, params)
	case Anthropic:
		return NewAnthropic(params)
	case Gollm:
		return NewGollm(params)
	}
	return nil, fmt.Errorf("unknown provider %q", params.Provider)
}

func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

func maxTokensOr(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

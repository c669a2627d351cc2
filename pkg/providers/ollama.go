package providers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaHost is where a local Ollama server listens.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaClient talks to a local or remote Ollama server
type OllamaClient struct {
	client *api.Client
	host   string
}

// NewOllama falls back to OLLAMA_HOST and then the local default.
func NewOllama(params ProviderParams) *OllamaClient {
	host := envOr(params.BaseURL, "OLLAMA_HOST")
	if host == "" {
		host = DefaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	parsed, err := url.Parse(host)
	if err != nil {
		log.Printf("Invalid Ollama host %q, using %s: %v", host, DefaultOllamaHost, err)
		host = DefaultOllamaHost
		parsed, _ = url.Parse(host)
	}
	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		host:   host,
	}
}

func (c *OllamaClient) Host() string {
	return c.host
}

// Complete streams the generation and joins the chunks.
func (c *OllamaClient) Complete(ctx context.Context, model string, system string, prompt string) (string, error) {
	req := &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
	}
	var sb strings.Builder
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Ping lists local models to verify the server is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	if _, err := c.client.List(ctx); err != nil {
		return fmt.Errorf("ollama server not accessible at %s: %w", c.host, err)
	}
	return nil
}

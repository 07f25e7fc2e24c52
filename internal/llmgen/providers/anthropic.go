// Package providers implements the producer adapters llmgen.Client
// dispatches to: Anthropic and Ollama hand-rolled against their raw
// JSON wire formats, OpenAI via the sashabaranov/go-openai client.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/changeops/internal/llmgen"
)

// AnthropicProvider implements the Anthropic Messages API.
type AnthropicProvider struct{}

const anthropicVersion = "2023-06-01"

func init() {
	llmgen.RegisterProducer(&AnthropicProvider{})
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

func (a *AnthropicProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/messages"
}

func (a *AnthropicProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *AnthropicProvider) BuildRequestBody(model string, messages []llmgen.Message, temperature *float64, maxTokens int) ([]byte, error) {
	var system string
	var apiMessages []anthropicMessage

	for _, msg := range messages {
		if msg.Role == "system" {
			system += msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    apiMessages,
		System:      system,
		Temperature: temperature,
	})
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *AnthropicProvider) ParseResponse(body []byte, _ string) (*llmgen.Response, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	total := resp.Usage.InputTokens + resp.Usage.OutputTokens
	return &llmgen.Response{
		Content: content,
		Model:   resp.Model,
		Usage: llmgen.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      total,
		},
		FinishReason: resp.StopReason,
	}, nil
}

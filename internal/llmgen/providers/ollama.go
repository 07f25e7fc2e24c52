package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/changeops/internal/llmgen"
)

// OllamaProvider implements the OpenAI-compatible chat completions wire
// format used by Ollama, vLLM, and similar locally-hosted endpoints.
type OllamaProvider struct{}

func init() {
	llmgen.RegisterProducer(&OllamaProvider{})
}

func (o *OllamaProvider) Name() string { return "ollama" }

func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func (o *OllamaProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type openAICompatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAICompatMsg   `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
}

type openAICompatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OllamaProvider) BuildRequestBody(model string, messages []llmgen.Message, temperature *float64, maxTokens int) ([]byte, error) {
	apiMessages := make([]openAICompatMsg, 0, len(messages))
	for _, msg := range messages {
		apiMessages = append(apiMessages, openAICompatMsg{Role: msg.Role, Content: msg.Content})
	}

	req := openAICompatRequest{
		Model:       model,
		Messages:    apiMessages,
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}

	return json.Marshal(req)
}

type openAICompatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OllamaProvider) ParseResponse(body []byte, _ string) (*llmgen.Response, error) {
	var resp openAICompatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ollama response has no choices")
	}

	return &llmgen.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: llmgen.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

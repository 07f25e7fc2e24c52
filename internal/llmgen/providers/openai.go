package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/c360studio/changeops/internal/llmgen"
)

// OpenAIProvider implements the OpenAI chat completions API. Request and
// response bodies use go-openai's wire types directly instead of a
// hand-rolled struct, so this adapter and the real OpenAI SDK never
// drift apart on field names; llmgen.Client still owns the HTTP
// round-trip so it gets the same retry/backoff/fallback handling as
// every other producer.
type OpenAIProvider struct{}

func init() {
	llmgen.RegisterProducer(&OpenAIProvider{})
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

func (o *OpenAIProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func (o *OpenAIProvider) BuildRequestBody(model string, messages []llmgen.Message, temperature *float64, maxTokens int) ([]byte, error) {
	apiMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		apiMessages = append(apiMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: apiMessages,
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	if temperature != nil {
		req.Temperature = float32(*temperature)
	}

	return json.Marshal(req)
}

func (o *OpenAIProvider) ParseResponse(body []byte, _ string) (*llmgen.Response, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	return &llmgen.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: llmgen.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// ABOUTME: OpenAI Chat Completions adapter with base URL support for compatible providers.
// ABOUTME: Handles strict JSON-schema structured output with a lenient extraction fallback.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient implements Client over the OpenAI Chat Completions API. A
// custom base URL selects any OpenAI-compatible provider.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a Chat Completions client. Model is the default used
// when a request does not name one.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Complete sends one invocation and returns the response. Requests carrying a
// schema get provider-enforced JSON when Strict is set; otherwise the output
// text is parsed leniently, tolerating fenced or prefixed JSON.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{Model: model}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	params.Messages = messages

	if req.Schema != nil && req.Schema.Strict {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Schema.Name,
					Description: openai.String(req.Schema.Description),
					Schema:      req.Schema.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &NoObjectGeneratedError{SDKError: SDKError{Message: "provider returned no choices"}}
	}

	resp := &Response{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		},
	}

	if req.Schema != nil {
		obj, err := ExtractJSONObject(resp.Text)
		if err != nil {
			return nil, &NoObjectGeneratedError{SDKError: SDKError{
				Message: fmt.Sprintf("response did not contain a %s object", req.Schema.Name),
				Cause:   err,
			}}
		}
		resp.Object = obj
	}
	return resp, nil
}

// classifyOpenAIError maps SDK failures into the error hierarchy, carrying
// the Retry-After hint through for rate limit responses.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &SDKError{Message: "openai request failed", Cause: err}
	}

	var retryAfter *float64
	if apiErr.Response != nil {
		if header := apiErr.Response.Header.Get("Retry-After"); header != "" {
			if secs, parseErr := strconv.ParseFloat(header, 64); parseErr == nil {
				retryAfter = &secs
			}
		}
	}

	return ErrorFromStatusCode(
		apiErr.StatusCode,
		fmt.Sprintf("openai: status %d", apiErr.StatusCode),
		"openai",
		json.RawMessage(apiErr.RawJSON()),
		retryAfter,
	)
}

// ExtractJSONObject parses the first JSON object found in model output text.
// Tolerates markdown code fences and leading or trailing prose.
func ExtractJSONObject(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)

	// fast path: the whole output is the object
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj, nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in output")
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return obj, nil
}

// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai is a hand-rolled client for the OpenAI Chat Completions
// API, including SSE streaming.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

// Default OpenAI configuration values.
// Can be overridden via environment variables:
//   - OPENAI_DEFAULT_MODEL
//   - OPENAI_API_ENDPOINT
const (
	DefaultOpenAIModel       = "gpt-4.1"
	DefaultOpenAIEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultOpenAITimeout     = 60 * time.Second
	DefaultOpenAIMaxTokens   = 4096
	DefaultOpenAITemperature = 1.0
)

// Client implements the llm.Provider interface for OpenAI's API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey      string
	Model       string        // Default: gpt-4.1
	Endpoint    string        // Default: https://api.openai.com/v1/chat/completions
	Timeout     time.Duration // Default: 60s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
}

// NewClient creates a new OpenAI client. An empty APIKey falls back to
// OPENAI_API_KEY, then OPENAI_KEY.
func NewClient(config Config) *Client {
	if config.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			config.APIKey = key
		} else {
			config.APIKey = os.Getenv("OPENAI_KEY")
		}
	}
	if config.Model == "" {
		if envModel := os.Getenv("OPENAI_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultOpenAIModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("OPENAI_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultOpenAIEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultOpenAITimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultOpenAIMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultOpenAITemperature
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "openai"
}

// DefaultModel returns the model identifier in use.
func (c *Client) DefaultModel() string {
	return c.model
}

// CreateResponse sends a conversation to OpenAI and returns the response.
func (c *Client) CreateResponse(ctx context.Context, messages []llm.Message, tools []shuttle.Tool) (*llm.Response, error) {
	req := c.buildRequest(messages, tools, false)

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	return convertResponse(resp), nil
}

func (c *Client) buildRequest(messages []llm.Message, tools []shuttle.Tool, stream bool) *ChatCompletionRequest {
	req := &ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	}
	if apiTools := convertTools(tools); len(apiTools) > 0 {
		req.Tools = apiTools
		req.ToolChoice = "auto"
	}
	return req
}

// convertMessages converts engine messages to OpenAI format. Tool results
// become separate tool-role messages answering the assistant's tool calls.
func convertMessages(messages []llm.Message) []ChatMessage {
	var apiMessages []ChatMessage

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			apiMessages = append(apiMessages, ChatMessage{
				Role:    "system",
				Content: msg.Content,
			})

		case llm.RoleUser:
			for _, tr := range msg.ToolResults {
				apiMessages = append(apiMessages, ChatMessage{
					Role:       "tool",
					Content:    tr.Text(),
					ToolCallID: tr.ID,
				})
			}
			if msg.Content != "" {
				apiMessages = append(apiMessages, ChatMessage{
					Role:    "user",
					Content: msg.Content,
				})
			}

		case llm.RoleAssistant:
			apiMsg := ChatMessage{Role: "assistant"}
			if msg.Content != "" {
				apiMsg.Content = msg.Content
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					argsJSON = []byte("{}")
				}
				apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			if apiMsg.Content != nil || len(apiMsg.ToolCalls) > 0 {
				apiMessages = append(apiMessages, apiMsg)
			}
		}
	}

	return apiMessages
}

// convertTools converts shuttle tools to OpenAI format.
func convertTools(tools []shuttle.Tool) []Tool {
	var apiTools []Tool

	for _, tool := range tools {
		apiTool := Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
			},
		}

		if schema := tool.InputSchema(); schema != nil {
			params := make(map[string]interface{})
			params["type"] = schema.Type
			if schema.Type == "" {
				params["type"] = "object"
			}
			if schema.Properties != nil {
				params["properties"] = convertSchemaProperties(schema.Properties)
			}
			if len(schema.Required) > 0 {
				params["required"] = schema.Required
			}
			apiTool.Function.Parameters = params
		}

		apiTools = append(apiTools, apiTool)
	}

	return apiTools
}

// convertSchemaProperties converts JSONSchema properties to OpenAI format.
func convertSchemaProperties(props map[string]*shuttle.JSONSchema) map[string]interface{} {
	if props == nil {
		return nil
	}

	result := make(map[string]interface{})
	for key, schema := range props {
		propMap := make(map[string]interface{})
		propMap["type"] = schema.Type

		if schema.Description != "" {
			propMap["description"] = schema.Description
		}
		if schema.Enum != nil {
			propMap["enum"] = schema.Enum
		}
		if schema.Default != nil {
			propMap["default"] = schema.Default
		}
		if schema.Properties != nil {
			propMap["properties"] = convertSchemaProperties(schema.Properties)
		}
		if schema.Items != nil {
			itemMap := make(map[string]interface{})
			itemMap["type"] = schema.Items.Type
			if schema.Items.Description != "" {
				itemMap["description"] = schema.Items.Description
			}
			propMap["items"] = itemMap
		}

		result[key] = propMap
	}
	return result
}

// mapFinishReason normalizes OpenAI finish reasons onto the engine's
// Anthropic-style stop reasons.
func mapFinishReason(finishReason string) string {
	switch finishReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return finishReason
	}
}

// convertResponse converts an OpenAI response to engine format.
func convertResponse(resp *ChatCompletionResponse) *llm.Response {
	out := &llm.Response{
		Usage: &llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}

	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = mapFinishReason(choice.FinishReason)

	if str, ok := choice.Message.Content.(string); ok {
		out.Content = str
	}

	for _, tc := range choice.Message.ToolCalls {
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			// Keep the raw string when the arguments are not valid JSON.
			input = map[string]interface{}{
				"_raw": tc.Function.Arguments,
			}
		}
		out.ToolCalls = append(out.ToolCalls, threads.ToolCallData{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: input,
		})
	}

	return out
}

// CreateStreamingResponse streams tokens through the callback using the
// Chat Completions API with stream=true, and returns the assembled response.
func (c *Client) CreateStreamingResponse(ctx context.Context, messages []llm.Message,
	tools []shuttle.Tool, tokenCallback llm.TokenCallback) (*llm.Response, error) {

	req := c.buildRequest(messages, tools, true)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	// Check status code before streaming
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var contentBuffer strings.Builder
	usage := llm.Usage{}
	var finishReason string
	tokenCount := 0
	// Tool call fragments keyed by stream index; arguments accumulate as
	// partial JSON strings and are parsed once the stream ends.
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	partials := make(map[int]*partialCall)

	scanner := bufio.NewScanner(httpResp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "data: <json>" or "data: [DONE]"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		jsonData := strings.TrimPrefix(line, "data: ")
		if jsonData == "[DONE]" {
			break
		}

		var chunk ChatCompletionStreamChunk
		if err := json.Unmarshal([]byte(jsonData), &chunk); err != nil {
			// Skip malformed chunks but continue processing
			continue
		}

		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]

			if str, ok := choice.Delta.Content.(string); ok && str != "" {
				contentBuffer.WriteString(str)
				tokenCount++
				if tokenCallback != nil {
					tokenCallback(str)
				}
			}

			for _, tcDelta := range choice.Delta.ToolCalls {
				pc, exists := partials[tcDelta.Index]
				if !exists {
					pc = &partialCall{id: tcDelta.ID, name: tcDelta.Function.Name}
					partials[tcDelta.Index] = pc
				}
				if tcDelta.ID != "" {
					pc.id = tcDelta.ID
				}
				if tcDelta.Function.Name != "" {
					pc.name = tcDelta.Function.Name
				}
				pc.args.WriteString(tcDelta.Function.Arguments)
			}

			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}

		// Usage arrives only in the final chunk, if at all.
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading stream: %w", err)
	}

	var toolCalls []threads.ToolCallData
	indices := make([]int, 0, len(partials))
	for idx := range partials {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		pc := partials[idx]
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(pc.args.String()), &input); err != nil {
			input = map[string]interface{}{
				"_raw": pc.args.String(),
			}
		}
		toolCalls = append(toolCalls, threads.ToolCallData{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: input,
		})
	}

	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = tokenCount
	}

	return &llm.Response{
		Content:    contentBuffer.String(),
		StopReason: mapFinishReason(finishReason),
		Usage:      &usage,
		ToolCalls:  toolCalls,
	}, nil
}

// callAPI makes the HTTP request to OpenAI's API.
func (c *Client) callAPI(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	return &resp, nil
}

// Ensure Client implements the provider interfaces.
var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)

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

// Package anthropic is a hand-rolled client for the Anthropic Messages API,
// including SSE streaming.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

const (
	// DefaultAnthropicModel is the default Claude model
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	// DefaultAnthropicEndpoint is the default Anthropic API endpoint
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request
	DefaultMaxTokens = 4096
	// DefaultTemperature is the default LLM temperature
	DefaultTemperature = 1.0
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 60 * time.Second
)

// Client implements the llm.Provider interface for Anthropic's Claude API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	Model       string // Default: claude-sonnet-4-5-20250929
	Endpoint    string // Default: https://api.anthropic.com/v1/messages
	Timeout     time.Duration
	MaxTokens   int     // Default: 4096
	Temperature float64 // Default: 1.0
}

// NewClient creates a new Anthropic client. An empty APIKey falls back to
// the ANTHROPIC_KEY environment variable.
func NewClient(config Config) *Client {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ANTHROPIC_KEY")
	}
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultAnthropicModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultAnthropicEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
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
	return "anthropic"
}

// DefaultModel returns the model identifier in use.
func (c *Client) DefaultModel() string {
	return c.model
}

// CreateResponse sends a conversation to Claude and returns the response.
func (c *Client) CreateResponse(ctx context.Context, messages []llm.Message, tools []shuttle.Tool) (*llm.Response, error) {
	req := c.buildRequest(messages, tools, false)

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	return c.convertResponse(resp), nil
}

// buildRequest converts engine messages and tools into the wire request.
func (c *Client) buildRequest(messages []llm.Message, tools []shuttle.Tool, stream bool) *MessagesRequest {
	systemPrompt, apiMessages := convertMessages(messages)

	req := &MessagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	}
	// The Messages API requires system text as a separate field, not a message.
	if systemPrompt != "" {
		req.System = systemPrompt
	}
	if apiTools := convertTools(tools); len(apiTools) > 0 {
		req.Tools = apiTools
	}
	return req
}

// convertMessages converts engine messages to Anthropic format. System
// messages are extracted and combined into the returned system prompt.
func convertMessages(messages []llm.Message) (string, []Message) {
	var systemPrompts []string
	var apiMessages []Message

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if msg.Content != "" {
				systemPrompts = append(systemPrompts, msg.Content)
			}

		case llm.RoleUser:
			var content []ContentBlock
			for _, tr := range msg.ToolResults {
				content = append(content, ContentBlock{
					Type:      "tool_result",
					ToolUseID: tr.ID,
					Content:   tr.Text(),
					IsError:   tr.Status == threads.ResultFailed,
				})
			}
			if msg.Content != "" {
				content = append(content, ContentBlock{Type: "text", Text: msg.Content})
			}
			if len(content) > 0 {
				apiMessages = append(apiMessages, Message{Role: "user", Content: content})
			}

		case llm.RoleAssistant:
			var content []ContentBlock
			if msg.Content != "" {
				content = append(content, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]interface{}{}
				}
				content = append(content, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(content) > 0 {
				apiMessages = append(apiMessages, Message{Role: "assistant", Content: content})
			}
		}
	}

	return strings.Join(systemPrompts, "\n\n"), apiMessages
}

// convertTools converts shuttle tools to Anthropic format.
func convertTools(tools []shuttle.Tool) []Tool {
	var apiTools []Tool
	for _, tool := range tools {
		apiTool := Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
		}
		if schema := tool.InputSchema(); schema != nil {
			apiTool.InputSchema = InputSchema{
				Type:       schema.Type,
				Properties: convertSchemaProperties(schema.Properties),
				Required:   schema.Required,
			}
		}
		apiTools = append(apiTools, apiTool)
	}
	return apiTools
}

// convertSchemaProperties converts JSONSchema properties to Anthropic format.
func convertSchemaProperties(props map[string]*shuttle.JSONSchema) map[string]map[string]interface{} {
	if props == nil {
		return nil
	}

	result := make(map[string]map[string]interface{})
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
			propMap["items"] = map[string]interface{}{
				"type": schema.Items.Type,
			}
		}

		result[key] = propMap
	}
	return result
}

// convertResponse converts an Anthropic response to engine format.
func (c *Client) convertResponse(resp *MessagesResponse) *llm.Response {
	out := &llm.Response{
		StopReason: resp.StopReason,
		Usage: &llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, threads.ToolCallData{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return out
}

// CreateStreamingResponse streams tokens through the callback using the
// Messages API with stream=true, and returns the assembled response.
func (c *Client) CreateStreamingResponse(ctx context.Context, messages []llm.Message,
	tools []shuttle.Tool, tokenCallback llm.TokenCallback) (*llm.Response, error) {

	req := c.buildRequest(messages, tools, true)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
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

	// Process the Server-Sent Events stream.
	var contentBuffer strings.Builder
	usage := llm.Usage{}
	var stopReason string
	tokenCount := 0
	var toolCalls []threads.ToolCallData
	// Track tool input JSON as it streams in (indexed by content block index)
	toolInputBuffers := make(map[int]*strings.Builder)
	// Map content block index to toolCalls slice index for tool_use blocks
	toolCallIndex := make(map[int]int)

	scanner := bufio.NewScanner(httpResp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "event: <event_type>" or "data: <json>"
		if strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		jsonData := strings.TrimPrefix(line, "data: ")

		var event StreamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Skip malformed events but continue processing
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					token := event.Delta.Text
					contentBuffer.WriteString(token)
					tokenCount++
					if tokenCallback != nil {
						tokenCallback(token)
					}
				}
			case "input_json_delta":
				// Accumulate tool input JSON fragments
				if buf, exists := toolInputBuffers[event.Index]; exists {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				idx := len(toolCalls)
				toolCalls = append(toolCalls, threads.ToolCallData{
					ID:        event.ContentBlock.ID,
					Name:      event.ContentBlock.Name,
					Arguments: make(map[string]interface{}),
				})
				toolInputBuffers[event.Index] = &strings.Builder{}
				toolCallIndex[event.Index] = idx
			}

		case "content_block_stop":
			// Finalize tool input: parse accumulated JSON
			if buf, exists := toolInputBuffers[event.Index]; exists && buf.Len() > 0 {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
					if idx, ok := toolCallIndex[event.Index]; ok && idx < len(toolCalls) {
						toolCalls[idx].Arguments = input
					}
				}
			}
			delete(toolInputBuffers, event.Index)
			delete(toolCallIndex, event.Index)

		case "message_start":
			if event.Message != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if event.Usage != nil {
				if event.Usage.InputTokens > 0 {
					usage.PromptTokens = event.Usage.InputTokens
				}
				if event.Usage.OutputTokens > 0 {
					usage.CompletionTokens = event.Usage.OutputTokens
				}
			}
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

	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = tokenCount
	}

	return &llm.Response{
		Content:    contentBuffer.String(),
		StopReason: stopReason,
		Usage:      &usage,
		ToolCalls:  toolCalls,
	}, nil
}

// newRequest builds an HTTP request with the required API headers.
func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", "2023-06-01")
	return r, nil
}

// callAPI makes the HTTP request to Anthropic's API.
func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
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

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

// Ensure Client implements the provider interfaces.
var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)

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

// Package llm defines the provider port: the contract the conversation
// engine consumes for model calls, plus retry classification and token
// budgeting. Concrete wire formats live in the vendor subpackages.
package llm

import (
	"context"

	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in the provider request. Adapters must not mutate
// the slice or its elements.
type Message struct {
	Role    Role
	Content string

	// ToolCalls are carried on assistant messages that requested tools.
	ToolCalls []threads.ToolCallData

	// ToolResults are carried on user messages answering tool calls.
	ToolResults []threads.ToolResultData
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Response is a completed provider call.
type Response struct {
	Content    string
	ToolCalls  []threads.ToolCallData
	Usage      *Usage
	StopReason string
}

// TokenCallback is called for each streamed chunk. Implementations should
// be lightweight and non-blocking.
type TokenCallback func(token string)

// Provider is the non-streaming model contract. Cancellation is
// cooperative: adapters check ctx at I/O boundaries.
type Provider interface {
	// CreateResponse sends a conversation and returns the full response.
	CreateResponse(ctx context.Context, messages []Message, tools []shuttle.Tool) (*Response, error)

	// Name returns the provider name.
	Name() string

	// DefaultModel returns the model identifier in use.
	DefaultModel() string
}

// StreamingProvider extends Provider with token streaming. Adapters check
// the context between chunks.
type StreamingProvider interface {
	Provider

	// CreateStreamingResponse streams tokens through the callback and
	// returns the complete response after the stream finishes.
	CreateStreamingResponse(ctx context.Context, messages []Message, tools []shuttle.Tool,
		tokenCallback TokenCallback) (*Response, error)
}

// SupportsStreaming checks if a provider implements StreamingProvider.
func SupportsStreaming(provider Provider) bool {
	_, ok := provider.(StreamingProvider)
	return ok
}

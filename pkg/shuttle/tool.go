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
package shuttle

import (
	"context"
	"encoding/json"

	"github.com/teradata-labs/lace/pkg/threads"
)

// Tool defines the interface for executable tools (shuttles). Tools are the
// agent's only mechanism for acting on the outside world; each one
// encapsulates a single capability and is dispatched by registry lookup.
//
// Why "shuttle"? Tools shuttle data and execution between the model and the
// host, like the shuttle that carries thread back and forth in lace-making.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for LLM context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() *JSONSchema

	// Annotations returns advisory behavior hints
	Annotations() Annotations

	// Execute runs the tool with schema-validated parameters. The context
	// carries cancellation plus the call's directories (see ToolContext).
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// Annotations carry advisory hints about a tool's behavior. They inform
// approval policy and display, never execution.
type Annotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   bool   `json:"openWorldHint,omitempty"`
}

// Result represents the outcome of tool execution. Status distinguishes
// tool-layer failure from command failure: a shell command exiting non-zero
// is still a completed execution.
type Result struct {
	// ID is the tool call id this result answers (set by the executor).
	ID string

	// Status is completed, failed, or denied.
	Status threads.ResultStatus

	// Content holds the typed result blocks returned to the model.
	Content []threads.ContentBlock

	// Error carries structured error information for failed results.
	Error *Error

	// Metadata contains tool-specific metadata.
	Metadata map[string]interface{}

	// ExecutionTimeMs is the authoritative executor-measured runtime.
	ExecutionTimeMs int64
}

// Text concatenates the text content blocks.
func (r *Result) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// NewTextResult builds a completed result with one text block.
func NewTextResult(text string) *Result {
	return &Result{
		Status:  threads.ResultCompleted,
		Content: []threads.ContentBlock{threads.TextBlock(text)},
	}
}

// NewJSONResult marshals payload into a completed text-block result.
func NewJSONResult(payload any) (*Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return NewTextResult(string(raw)), nil
}

// NewErrorResult builds a failed result carrying a structured error.
func NewErrorResult(code, message string) *Result {
	return &Result{
		Status:  threads.ResultFailed,
		Content: []threads.ContentBlock{threads.TextBlock(message)},
		Error:   &Error{Code: code, Message: message},
	}
}

// NewDeniedResult builds a denied result with a human message.
func NewDeniedResult(message string) *Result {
	return &Result{
		Status:  threads.ResultDenied,
		Content: []threads.ContentBlock{threads.TextBlock(message)},
	}
}

// Error represents a tool execution error with structured information.
type Error struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Suggestion provides a suggestion for fixing the error
	Suggestion string `json:"suggestion,omitempty"`
}

// JSONSchema represents a JSON Schema for tool parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	MinLength   *int                   `json:"minLength,omitempty"`
	MaxLength   *int                   `json:"maxLength,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// NewObjectSchema creates a new object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	if properties == nil {
		properties = make(map[string]*JSONSchema)
	}
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "number", Description: description}
}

// NewIntegerSchema creates a new integer schema.
func NewIntegerSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "integer", Description: description}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "boolean", Description: description}
}

// WithDefault adds a default value to the schema.
func (s *JSONSchema) WithDefault(value interface{}) *JSONSchema {
	s.Default = value
	return s
}

// WithLength adds length constraints to the schema.
func (s *JSONSchema) WithLength(minLen, maxLen *int) *JSONSchema {
	s.MinLength = minLen
	s.MaxLength = maxLen
	return s
}

// WithMinimum adds a lower numeric bound to the schema.
func (s *JSONSchema) WithMinimum(v float64) *JSONSchema {
	s.Minimum = &v
	return s
}

// toolContextKey carries the per-call directories through context.
type toolContextKey struct{}

// ToolContext is the execution environment for one tool call.
type ToolContext struct {
	// WorkingDirectory resolves relative paths in tool inputs.
	WorkingDirectory string

	// TempDir is the call-private scratch directory
	// (project-<id>/session-<id>/tool-call-<callId>), created lazily.
	TempDir string
}

// WithToolContext stores the call environment in the context.
func WithToolContext(ctx context.Context, tc ToolContext) context.Context {
	return context.WithValue(ctx, toolContextKey{}, tc)
}

// ToolContextFrom retrieves the call environment; the zero value means the
// tool runs against the process working directory with no scratch space.
func ToolContextFrom(ctx context.Context) ToolContext {
	if tc, ok := ctx.Value(toolContextKey{}).(ToolContext); ok {
		return tc
	}
	return ToolContext{}
}

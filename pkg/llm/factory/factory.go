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

// Package factory resolves provider names and "provider:model" strings
// into configured llm.Provider instances.
package factory

import (
	"fmt"
	"os"
	"strings"

	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/llm/anthropic"
	"github.com/teradata-labs/lace/pkg/llm/openai"
)

// Config holds credentials and overrides for provider creation. Empty
// fields fall back to environment variables.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string

	MaxTokens   int
	Temperature float64
}

// ErrInvalidModel is returned for malformed "provider:model" strings.
type ErrInvalidModel struct {
	Spec string
}

func (e *ErrInvalidModel) Error() string {
	return fmt.Sprintf("invalid model specification %q: expected \"provider\" or \"provider:model\"", e.Spec)
}

// ParseModelSpec splits a "provider" or "provider:model" string.
func ParseModelSpec(spec string) (provider, model string, err error) {
	if spec == "" {
		return "", "", &ErrInvalidModel{Spec: spec}
	}
	parts := strings.SplitN(spec, ":", 2)
	provider = parts[0]
	if len(parts) == 2 {
		model = parts[1]
	}
	if provider == "" || (len(parts) == 2 && model == "") {
		return "", "", &ErrInvalidModel{Spec: spec}
	}
	return provider, model, nil
}

// CreateProvider creates a provider for the given name and optional model
// override.
func CreateProvider(cfg Config, provider, model string) (llm.Provider, error) {
	switch provider {
	case "anthropic":
		return createAnthropicProvider(cfg, model)
	case "openai":
		return createOpenAIProvider(cfg, model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// CreateFromSpec resolves a "provider" or "provider:model" string.
func CreateFromSpec(cfg Config, spec string) (llm.Provider, error) {
	provider, model, err := ParseModelSpec(spec)
	if err != nil {
		return nil, err
	}
	return CreateProvider(cfg, provider, model)
}

func createAnthropicProvider(cfg Config, model string) (llm.Provider, error) {
	apiKey := cfg.AnthropicAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured (set ANTHROPIC_KEY)")
	}

	return anthropic.NewClient(anthropic.Config{
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}), nil
}

func createOpenAIProvider(cfg Config, model string) (llm.Provider, error) {
	apiKey := cfg.OpenAIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key not configured (set OPENAI_API_KEY or OPENAI_KEY)")
	}

	return openai.NewClient(openai.Config{
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}), nil
}

// IsProviderAvailable checks if a provider has credentials configured.
func IsProviderAvailable(cfg Config, provider string) bool {
	_, err := CreateProvider(cfg, provider, "")
	return err == nil
}

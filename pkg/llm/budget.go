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

package llm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter provides token counting for budget estimation.
// Uses tiktoken with cl100k_base encoding (Claude-compatible approximation).
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalTokenCounter *TokenCounter
	counterInitOnce    sync.Once
)

// GetTokenCounter returns a singleton token counter instance.
func GetTokenCounter() *TokenCounter {
	counterInitOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fallback: approximate counting when the encoding is unavailable.
			globalTokenCounter = &TokenCounter{encoder: nil}
			return
		}
		globalTokenCounter = &TokenCounter{encoder: tkm}
	})
	return globalTokenCounter
}

// CountTokens returns the token count for a given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// EstimateMessagesTokens estimates the token cost of a request, including
// per-message formatting overhead.
func (tc *TokenCounter) EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		// Role plus formatting overhead.
		total += 10
		total += tc.CountTokens(msg.Content)
		for _, call := range msg.ToolCalls {
			total += 20
			total += tc.CountTokens(fmt.Sprintf("%s %v", call.Name, call.Arguments))
		}
		for _, result := range msg.ToolResults {
			total += 20
			total += tc.CountTokens(result.Text())
		}
	}
	return total
}

// ErrBudgetExceeded blocks a request that would overrun the configured
// token budget.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// BudgetConfig configures a TokenBudget.
type BudgetConfig struct {
	// MaxTokens is the hard ceiling on cumulative prompt+completion tokens.
	MaxTokens int

	// WarningThreshold (0-1) emits a warning when usage crosses this
	// fraction of MaxTokens without blocking.
	WarningThreshold float64

	// ReserveTokens is head-room subtracted from MaxTokens when admitting
	// a request.
	ReserveTokens int
}

// BudgetStatus is a snapshot of budget consumption.
type BudgetStatus struct {
	TotalUsed      int
	MaxTokens      int
	ReserveTokens  int
	WarningCrossed bool
}

// TokenBudget accumulates provider usage and gates outgoing requests.
// Each agent owns its budget; there is no cross-agent sharing.
type TokenBudget struct {
	mu      sync.Mutex
	cfg     BudgetConfig
	used    int
	warned  bool
	counter *TokenCounter
}

// NewTokenBudget creates a budget. A zero MaxTokens disables all gating.
func NewTokenBudget(cfg BudgetConfig) *TokenBudget {
	return &TokenBudget{cfg: cfg, counter: GetTokenCounter()}
}

// RecordUsage adds an accepted request's usage to the accumulator.
func (b *TokenBudget) RecordUsage(u Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used += u.Total()
}

// CheckRequest admits or blocks a request based on its estimated size.
// Returns (warning, err): warning is true the first time usage crosses the
// threshold; ErrBudgetExceeded means the request must not be sent.
func (b *TokenBudget) CheckRequest(messages []Message) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.MaxTokens <= 0 {
		return false, nil
	}

	estimated := b.counter.EstimateMessagesTokens(messages)
	if b.used+estimated > b.cfg.MaxTokens-b.cfg.ReserveTokens {
		return false, fmt.Errorf("%w: used %d, estimated %d, limit %d (reserve %d)",
			ErrBudgetExceeded, b.used, estimated, b.cfg.MaxTokens, b.cfg.ReserveTokens)
	}

	if !b.warned && b.cfg.WarningThreshold > 0 {
		if float64(b.used+estimated) >= b.cfg.WarningThreshold*float64(b.cfg.MaxTokens) {
			b.warned = true
			return true, nil
		}
	}
	return false, nil
}

// Status returns a snapshot of the accumulator.
func (b *TokenBudget) Status() BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BudgetStatus{
		TotalUsed:      b.used,
		MaxTokens:      b.cfg.MaxTokens,
		ReserveTokens:  b.cfg.ReserveTokens,
		WarningCrossed: b.warned,
	}
}

// Reset zeroes the accumulator and the warning latch.
func (b *TokenBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
	b.warned = false
}

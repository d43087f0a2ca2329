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

package agent

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

func TestNonInteractiveRunner_Run(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Content: "here is the answer"},
	}}
	env := newTestEnv(t, provider, nil)

	var out bytes.Buffer
	runner := NewNonInteractiveRunner(env.agent, &out)
	require.NoError(t, runner.Run(context.Background(), "question"))

	assert.Contains(t, out.String(), "\n", "the response is newline-terminated")

	stored, err := env.manager.Events(context.Background(), env.threadID)
	require.NoError(t, err)
	assert.Equal(t, []threads.EventType{
		threads.EventUserMessage,
		threads.EventAgentMessage,
	}, eventTypes(stored))
}

func TestNonInteractiveRunner_ProviderFailure(t *testing.T) {
	// An auth error is non-retryable, so the turn fails immediately.
	env := newTestEnv(t, &scriptedProvider{}, nil)
	env.agent.cfg.Provider = failingProvider{}

	var out bytes.Buffer
	runner := NewNonInteractiveRunner(env.agent, &out)
	err := runner.Run(context.Background(), "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider_response")
}

type failingProvider struct{}

func (failingProvider) CreateResponse(context.Context, []llm.Message, []shuttle.Tool) (*llm.Response, error) {
	return nil, errors.New("API error: status 401: unauthorized")
}

func (failingProvider) Name() string         { return "failing" }
func (failingProvider) DefaultModel() string { return "failing-1" }

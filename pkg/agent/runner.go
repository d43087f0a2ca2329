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
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// NonInteractiveRunner drives an agent through a single prompt, streaming
// tokens to the writer and returning once the conversation completes.
type NonInteractiveRunner struct {
	agent *Agent
	out   io.Writer
}

// NewNonInteractiveRunner creates a one-shot runner writing tokens to out.
func NewNonInteractiveRunner(a *Agent, out io.Writer) *NonInteractiveRunner {
	return &NonInteractiveRunner{agent: a, out: out}
}

// Run sends the prompt and blocks until the agent completes or errors.
// Stop is best-effort: stop-phase errors are logged, never propagated over
// the turn's own error.
func (r *NonInteractiveRunner) Run(ctx context.Context, prompt string) error {
	if err := r.agent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	defer func() {
		if err := r.agent.Stop(); err != nil {
			zap.L().Warn("agent stop failed", zap.Error(err))
		}
	}()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Unbounded: a token burst must not cost us the completion event.
	events := r.agent.SubscribeUnbounded(subCtx)

	if err := r.agent.SendMessage(ctx, prompt); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("agent event stream closed before completion")
			}
			switch ev.Payload.Type {
			case EventToken:
				fmt.Fprint(r.out, ev.Payload.Token)
			case EventResponseComplete:
				fmt.Fprintln(r.out)
			case EventConversationComplete:
				return nil
			case EventError:
				return fmt.Errorf("agent failed in %s: %s", ev.Payload.Phase, ev.Payload.Err)
			}
		}
	}
}

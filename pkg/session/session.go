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

// Package session groups a coordinator agent and its spawned workers under
// one project and working directory.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/lace/internal/csync"
	"github.com/teradata-labs/lace/pkg/agent"
	"github.com/teradata-labs/lace/pkg/approval"
	"github.com/teradata-labs/lace/pkg/compaction"
	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/threads"
)

// ErrAgentNotFound is returned for operations on unknown spawned agents.
var ErrAgentNotFound = errors.New("agent not found")

// Config assembles a session.
type Config struct {
	ProjectID        string
	WorkingDirectory string

	Manager  *threads.Manager
	Provider llm.Provider

	// Registry is the base tool set; each agent gets its own clone with a
	// delegate tool bound to it.
	Registry *shuttle.Registry
	Gate     approval.Gate

	SystemPrompt string

	// Resolver handles provider/model overrides for spawned agents and
	// delegate calls. Optional.
	Resolver agent.ProviderResolver

	Compactor        *compaction.Compactor
	DisableStreaming bool
}

// SpawnConfig names a new spawned agent. Empty Provider/Model fall back to
// the session defaults.
type SpawnConfig struct {
	Name     string
	Provider string // "provider" or "provider:model"
}

// Session owns a coordinator agent on the session's root thread plus a set
// of spawned agents on delegate threads.
type Session struct {
	id          string
	cfg         Config
	rootThread  threads.ThreadID
	coordinator *agent.Agent
	spawned     *csync.Map[string, *agent.Agent]
}

// New creates a session with a fresh root thread and a coordinator agent.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Manager == nil {
		return nil, errors.New("session requires a thread manager")
	}
	if cfg.Provider == nil {
		return nil, errors.New("session requires a provider")
	}
	if cfg.Registry == nil {
		cfg.Registry = shuttle.NewRegistry()
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = "default"
	}

	rootThread, err := cfg.Manager.CreateThread(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		rootThread: rootThread,
		spawned:    csync.NewMap[string, *agent.Agent](),
	}

	coordinator, err := s.buildAgent(rootThread, cfg.Provider)
	if err != nil {
		return nil, err
	}
	s.coordinator = coordinator
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// ProjectID returns the owning project id.
func (s *Session) ProjectID() string {
	return s.cfg.ProjectID
}

// WorkingDirectory returns the directory tools resolve paths against.
func (s *Session) WorkingDirectory() string {
	return s.cfg.WorkingDirectory
}

// RootThread returns the coordinator's thread id.
func (s *Session) RootThread() threads.ThreadID {
	return s.rootThread
}

// Coordinator returns the session's coordinator agent.
func (s *Session) Coordinator() *agent.Agent {
	return s.coordinator
}

// buildAgent wires an agent with its own registry clone, executor, and
// delegate tool.
func (s *Session) buildAgent(threadID threads.ThreadID, provider llm.Provider) (*agent.Agent, error) {
	registry := s.cfg.Registry.CloneWithout()
	executor := shuttle.NewExecutor(registry)
	if s.cfg.Gate != nil {
		executor.SetApprovalGate(s.cfg.Gate)
	}
	executor.SetWorkingDirectory(s.cfg.WorkingDirectory)
	executor.SetTempRoot(GetSessionTempDir(s.id, s.cfg.ProjectID))

	a, err := agent.New(agent.Config{
		ThreadID:         threadID,
		Provider:         provider,
		Manager:          s.cfg.Manager,
		Executor:         executor,
		SystemPrompt:     s.cfg.SystemPrompt,
		Compactor:        s.cfg.Compactor,
		DisableStreaming: s.cfg.DisableStreaming,
	})
	if err != nil {
		return nil, err
	}

	delegate := agent.NewDelegateTool(a)
	delegate.ResolveProvider = s.cfg.Resolver
	registry.Register(delegate)
	return a, nil
}

// SpawnAgent creates a named agent on a delegate thread under the session
// root. Provider/model fall back to session defaults.
func (s *Session) SpawnAgent(ctx context.Context, spawn SpawnConfig) (*agent.Agent, error) {
	if spawn.Name == "" {
		return nil, errors.New("spawned agent needs a name")
	}
	if _, exists := s.spawned.Get(spawn.Name); exists {
		return nil, fmt.Errorf("agent %q already exists", spawn.Name)
	}

	provider := s.cfg.Provider
	if spawn.Provider != "" {
		if s.cfg.Resolver == nil {
			return nil, fmt.Errorf("no provider resolver configured for override %q", spawn.Provider)
		}
		p, err := s.cfg.Resolver(spawn.Provider)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	threadID, err := s.cfg.Manager.CreateDelegateThread(ctx, s.rootThread)
	if err != nil {
		return nil, err
	}
	a, err := s.buildAgent(threadID, provider)
	if err != nil {
		return nil, err
	}
	s.spawned.Set(spawn.Name, a)
	return a, nil
}

// GetAgent returns a spawned agent by name.
func (s *Session) GetAgent(name string) (*agent.Agent, error) {
	a, ok := s.spawned.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// StartAgent starts a spawned agent by name.
func (s *Session) StartAgent(ctx context.Context, name string) error {
	a, err := s.GetAgent(name)
	if err != nil {
		return err
	}
	return a.Start(ctx)
}

// StopAgent stops a spawned agent by name.
func (s *Session) StopAgent(name string) error {
	a, err := s.GetAgent(name)
	if err != nil {
		return err
	}
	return a.Stop()
}

// Destroy stops every spawned agent and forgets them. The coordinator is
// retained.
func (s *Session) Destroy() {
	for name, a := range s.spawned.Seq2() {
		if err := a.Stop(); err != nil {
			zap.L().Warn("failed to stop spawned agent",
				zap.String("agent", name), zap.Error(err))
		}
	}
	s.spawned.Clear()
}

// GetSessionTempDir returns the deterministic scratch root for a session.
// Identical inputs return identical paths; sessions under one project share
// the project directory with disjoint session subdirectories.
func GetSessionTempDir(sessionID, projectID string) string {
	return filepath.Join(os.TempDir(), "lace",
		"project-"+projectID, "session-"+sessionID)
}

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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/lace/internal/log"
	"github.com/teradata-labs/lace/pkg/agent"
	"github.com/teradata-labs/lace/pkg/approval"
	"github.com/teradata-labs/lace/pkg/compaction"
	"github.com/teradata-labs/lace/pkg/llm"
	"github.com/teradata-labs/lace/pkg/llm/factory"
	"github.com/teradata-labs/lace/pkg/session"
	"github.com/teradata-labs/lace/pkg/shuttle"
	"github.com/teradata-labs/lace/pkg/shuttle/builtin"
	"github.com/teradata-labs/lace/pkg/threads"
)

var (
	providerName string
	modelName    string
	prompt       string
	continueID   string
	logLevel     string
	logFile      string
	harFile      string

	allowNonDestructive   bool
	autoApproveTools      bool
	disableTools          []string
	disableAllTools       bool
	disableToolGuardrails bool
	listTools             bool
)

var rootCmd = &cobra.Command{
	Use:   "lace",
	Short: "Lace - event-sourced conversation engine",
	Long: `Lace drives an LLM conversation as an append-only event log: every
message, tool call, and approval is a persisted event, and any thread can be
resumed, delegated from, or compacted.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&providerName, "provider", "anthropic", "LLM provider (anthropic, openai)")
	rootCmd.Flags().StringVar(&modelName, "model", "", "Model override for the provider")
	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt to send (one-shot mode)")
	rootCmd.Flags().StringVar(&continueID, "continue", "", "Resume a thread by id, or the latest thread when empty")
	rootCmd.Flags().Lookup("continue").NoOptDefVal = "latest"
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.Flags().StringVar(&harFile, "har-file", "", "HAR capture path (parsed; capture not implemented)")

	rootCmd.Flags().BoolVar(&allowNonDestructive, "allow-non-destructive-tools", false, "Auto-approve tools whose annotations mark them read-only and non-destructive")
	rootCmd.Flags().BoolVar(&autoApproveTools, "auto-approve-tools", false, "Auto-approve every tool call")
	rootCmd.Flags().StringSliceVar(&disableTools, "disable-tools", nil, "Tool names to remove from the registry")
	rootCmd.Flags().BoolVar(&disableAllTools, "disable-all-tools", false, "Run without any tools")
	rootCmd.Flags().BoolVar(&disableToolGuardrails, "disable-tool-guardrails", false, "Skip the approval gate entirely")
	rootCmd.Flags().BoolVar(&listTools, "list-tools", false, "List available tools and exit")

	viper.SetEnvPrefix("LACE")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("provider", rootCmd.Flags().Lookup("provider"))
	_ = viper.BindPFlag("model", rootCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("log_level", rootCmd.Flags().Lookup("log-level"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := log.Configure(logLevel, logFile); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	if harFile != "" {
		zap.L().Warn("HAR capture is not implemented; ignoring --har-file",
			zap.String("path", harFile))
	}

	registry := buildRegistry()
	if listTools {
		printTools(registry)
		return nil
	}

	if prompt == "" {
		return fmt.Errorf("no prompt given (use --prompt)")
	}

	provider, err := factory.CreateProvider(factory.Config{}, providerName, modelName)
	if err != nil {
		return err
	}

	store := threads.OpenDefault()
	defer func() { _ = store.Close() }()
	manager := threads.NewManager(store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	threadID, err := resolveThread(ctx, cmd, manager)
	if err != nil {
		return err
	}

	gate := buildGate(registry)

	executor := shuttle.NewExecutor(registry)
	executor.SetApprovalGate(gate)
	if wd, err := os.Getwd(); err == nil {
		executor.SetWorkingDirectory(wd)
	}
	executor.SetTempRoot(session.GetSessionTempDir(string(threadID), "cli"))

	compactor := compaction.NewCompactor(manager,
		&compaction.SummarizeStrategy{Provider: provider},
		&compaction.TrimToolResultsStrategy{})

	a, err := agent.New(agent.Config{
		ThreadID:  threadID,
		Provider:  provider,
		Manager:   manager,
		Executor:  executor,
		Compactor: compactor,
	})
	if err != nil {
		return err
	}

	if !disableAllTools {
		delegate := agent.NewDelegateTool(a)
		delegate.ResolveProvider = func(spec string) (llm.Provider, error) {
			return factory.CreateFromSpec(factory.Config{}, spec)
		}
		registry.Register(delegate)
	}

	runner := agent.NewNonInteractiveRunner(a, os.Stdout)
	return runner.Run(ctx, prompt)
}

// resolveThread picks the conversation thread: --continue resumes, anything
// else starts fresh.
func resolveThread(ctx context.Context, cmd *cobra.Command, manager *threads.Manager) (threads.ThreadID, error) {
	if !cmd.Flags().Changed("continue") {
		return manager.CreateThread(ctx)
	}
	want := continueID
	if want == "latest" {
		want = ""
	}
	result, err := manager.ResumeOrCreate(ctx, want)
	if err != nil {
		return "", err
	}
	if result.ResumeError != "" {
		fmt.Fprintln(os.Stderr, result.ResumeError)
	}
	if result.Resumed {
		zap.L().Info("resumed thread", zap.String("thread", string(result.ThreadID)))
	}
	return result.ThreadID, nil
}

// buildRegistry assembles the tool set honoring the disable flags.
func buildRegistry() *shuttle.Registry {
	registry := shuttle.NewRegistry()
	if disableAllTools {
		return registry
	}
	builtin.RegisterDefaults(registry)
	for _, name := range disableTools {
		registry.Unregister(strings.TrimSpace(name))
	}
	return registry
}

// buildGate maps the tool policy flags onto an approval chain. The
// non-interactive CLI has nobody to answer a durable request, so anything
// the policies do not auto-approve is denied.
func buildGate(registry *shuttle.Registry) approval.Gate {
	return &approval.PolicyGate{
		AutoApproveAll:      autoApproveTools || disableToolGuardrails,
		AllowNonDestructive: allowNonDestructive,
		NonDestructive: func(toolName string) bool {
			tool, ok := registry.Get(toolName)
			if !ok {
				return false
			}
			ann := tool.Annotations()
			return ann.ReadOnlyHint && !ann.DestructiveHint
		},
	}
}

// printTools lists the registry with annotation hints.
func printTools(registry *shuttle.Registry) {
	tools := registry.ListTools()
	if len(tools) == 0 {
		fmt.Println("no tools registered")
		return
	}
	for _, tool := range tools {
		ann := tool.Annotations()
		var hints []string
		if ann.ReadOnlyHint {
			hints = append(hints, "read-only")
		}
		if ann.DestructiveHint {
			hints = append(hints, "destructive")
		}
		if ann.IdempotentHint {
			hints = append(hints, "idempotent")
		}
		if ann.OpenWorldHint {
			hints = append(hints, "open-world")
		}
		suffix := ""
		if len(hints) > 0 {
			suffix = " [" + strings.Join(hints, ", ") + "]"
		}
		fmt.Printf("%s%s\n", tool.Name(), suffix)
	}
}

// Package agent implements the tool-calling agent runtime.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/javiormeow/nanoclaw/internal/provider"
	"github.com/javiormeow/nanoclaw/internal/tools"
)

// RunRequest describes one agent invocation.
type RunRequest struct {
	GroupFolder string
	ChatJID     string
	Prompt      string
	// SessionID threads prior conversation context into the system prompt.
	// Empty for a fresh session.
	SessionID string
	// Registry holds the tools available to this run. The caller scopes it
	// to the requesting tenant.
	Registry *tools.Registry
}

// RunResult is the outcome of a completed agent run.
type RunResult struct {
	Content    string
	Iterations int
	Usage      provider.Usage
}

// Runner executes one agent run end to end.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// LoopRunner drives a bounded tool-calling loop against an LLM provider.
type LoopRunner struct {
	provider      provider.LLMProvider
	systemPrompt  string
	model         string
	maxIterations int
	maxTokens     int
	temperature   float64
}

// Options configures a LoopRunner.
type Options struct {
	SystemPrompt  string
	Model         string
	MaxIterations int
	MaxTokens     int
	Temperature   float64
}

// NewLoopRunner creates a LoopRunner.
func NewLoopRunner(p provider.LLMProvider, opts Options) *LoopRunner {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}
	return &LoopRunner{
		provider:      p,
		systemPrompt:  opts.SystemPrompt,
		model:         opts.Model,
		maxIterations: opts.MaxIterations,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
	}
}

// Run executes the tool-calling loop until the model stops requesting tools
// or the iteration budget is exhausted.
func (r *LoopRunner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	messages := []provider.Message{
		{Role: "system", Content: r.buildSystemPrompt(req)},
		{Role: "user", Content: req.Prompt},
	}
	toolDefs := buildToolDefinitions(req.Registry)
	result := &RunResult{}

	for i := 0; i < r.maxIterations; i++ {
		result.Iterations = i + 1

		start := time.Now()
		resp, err := r.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       r.model,
			MaxTokens:   r.maxTokens,
			Temperature: r.temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}
		result.Usage.PromptTokens += resp.Usage.PromptTokens
		result.Usage.CompletionTokens += resp.Usage.CompletionTokens
		result.Usage.TotalTokens += resp.Usage.TotalTokens
		slog.Debug("LLM call", "group", req.GroupFolder, "iteration", i,
			"tokens", resp.Usage.TotalTokens, "duration", time.Since(start), "tool_calls", len(resp.ToolCalls))

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			return result, nil
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			out, err := req.Registry.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				out = fmt.Sprintf("Error: %v", err)
			}
			slog.Debug("Tool executed", "name", tc.Name, "result_length", len(out))
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    out,
				ToolCallID: tc.ID,
			})
		}
	}

	result.Content = "Max iterations reached. Please try a simpler request."
	return result, nil
}

func (r *LoopRunner) buildSystemPrompt(req RunRequest) string {
	var b strings.Builder
	b.WriteString(r.systemPrompt)
	if req.GroupFolder != "" {
		fmt.Fprintf(&b, "\n\nYou are acting for the group %q.", req.GroupFolder)
	}
	if req.SessionID != "" {
		fmt.Fprintf(&b, "\nSession: %s.", req.SessionID)
	}
	return b.String()
}

// buildToolDefinitions converts a registry's tools to the provider format.
func buildToolDefinitions(reg *tools.Registry) []provider.ToolDefinition {
	if reg == nil {
		return nil
	}
	list := reg.List()
	defs := make([]provider.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

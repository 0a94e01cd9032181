// Package agentrunner invokes a single registered agent as a subprocess,
// enforces its timeout, validates its JSON response against the schema
// registry, and hands the extracted context fields to the context manager.
// It is the one place in the engine that spawns a process.
package agentrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/contextstore"
	"github.com/conduct-run/orchestrator/internal/schemas"
)

// ErrorKind classifies why an invocation did not succeed.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindSpawn            ErrorKind = "spawn"
	KindMalformedOutput  ErrorKind = "malformed-output"
	KindSchemaViolation  ErrorKind = "schema-violation"
)

// AgentError is the typed failure returned alongside a failed AgentResult.
// It is data, never a panic: the engine inspects Kind to decide whether to
// retry, record a phase failure, or escalate.
type AgentError struct {
	Kind  ErrorKind
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agentrunner: %s (%s): %v", e.Agent, e.Kind, e.Err)
	}
	return fmt.Sprintf("agentrunner: %s (%s)", e.Agent, e.Kind)
}

func (e *AgentError) Unwrap() error { return e.Err }

// AgentResult is the outcome of one agent invocation.
type AgentResult struct {
	Success   bool
	Data      schemas.Payload
	RawOutput string
	Error     *AgentError
	TokensIn  int
	TokensOut int
}

// Invocation is the full set of inputs to one run() call, per the agent
// invocation contract.
type Invocation struct {
	AgentName      string
	Prompt         string
	RuntimeContext map[string]string
	ModelOverride  string
	Timeout        time.Duration
	ComponentID    string
}

// Invoker abstracts the subprocess boundary so tests can substitute a
// deterministic stub instead of spawning a real assistant CLI.
type Invoker interface {
	Invoke(ctx context.Context, binary string, args []string, stdin string) (stdout string, err error)
}

// ExecInvoker spawns the configured assistant CLI as a real subprocess.
type ExecInvoker struct{}

// Invoke runs binary with args, feeding stdin to the process and capturing
// stdout. Stderr is captured only for the error message.
func (ExecInvoker) Invoke(ctx context.Context, binary string, args []string, stdin string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return stdout.String(), fmt.Errorf("%s: %s", binary, errMsg)
	}
	return stdout.String(), nil
}

// Runner executes agent invocations against the registered agent config and
// schema registry, composing prompts with context from the context store.
type Runner struct {
	Config   config.EngineConfig
	Schemas  *schemas.Registry
	Context  *contextstore.Store
	Invoker  Invoker
	Binary   string
	Log      *zap.Logger
	Retries  int
	Prompts  PromptLoader
}

// PromptLoader loads an agent's template body from a prompts directory.
type PromptLoader interface {
	Load(templatePath string) (string, error)
}

// New builds a Runner with an ExecInvoker and the runner-retry count from
// cfg.RunnerRetries.
func New(cfg config.EngineConfig, registry *schemas.Registry, ctxStore *contextstore.Store, binary string, prompts PromptLoader, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Config:  cfg,
		Schemas: registry,
		Context: ctxStore,
		Invoker: ExecInvoker{},
		Binary:  binary,
		Log:     log,
		Retries: cfg.RunnerRetries,
		Prompts: prompts,
	}
}

// Run executes one agent invocation end to end: compose the prompt, spawn
// the subprocess (with retry on transient spawn failure), parse and validate
// the JSON response, and propagate context updates on success.
func (r *Runner) Run(ctx context.Context, inv Invocation) AgentResult {
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	def, ok := r.Config.Agent(inv.AgentName)
	if !ok {
		return failResult(inv.AgentName, KindSpawn, fmt.Errorf("agent %q is not registered in agent config", inv.AgentName))
	}

	prompt, err := r.composePrompt(def, inv)
	if err != nil {
		return failResult(inv.AgentName, KindSpawn, err)
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = def.Timeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	model := inv.ModelOverride
	if model == "" {
		model = def.Model
	}

	var rawOutput string
	var spawnErr error
	attempts := r.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		rawOutput, spawnErr = r.Invoker.Invoke(callCtx, r.Binary, r.args(inv.AgentName, model, def), prompt)
		cancel()
		if spawnErr == nil {
			break
		}
		if callCtx.Err() == context.DeadlineExceeded {
			return failResult(inv.AgentName, KindTimeout, spawnErr)
		}
		if attempt < attempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
			r.Log.Warn("agentrunner: transient spawn failure, retrying",
				zap.String("agent", inv.AgentName), zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return failResult(inv.AgentName, KindSpawn, ctx.Err())
			}
		}
	}
	if spawnErr != nil {
		return failResult(inv.AgentName, KindSpawn, spawnErr)
	}

	var payload schemas.Payload
	if err := json.Unmarshal([]byte(rawOutput), &payload); err != nil {
		res := failResult(inv.AgentName, KindMalformedOutput, err)
		res.RawOutput = rawOutput
		return res
	}

	violations, err := r.Schemas.Validate(inv.AgentName, payload)
	if err != nil {
		res := failResult(inv.AgentName, KindSchemaViolation, err)
		res.RawOutput = rawOutput
		return res
	}
	if len(violations) > 0 {
		res := failResult(inv.AgentName, KindSchemaViolation, joinErrors(violations))
		res.RawOutput = rawOutput
		res.Data = payload
		return res
	}

	if r.Context != nil {
		update := schemas.ExtractContextUpdate(payload)
		if err := r.Context.UpdateFromResult(inv.AgentName, update, inv.ComponentID); err != nil {
			r.Log.Error("agentrunner: context update failed", zap.Error(err))
		}
	}

	return AgentResult{
		Success:   true,
		Data:      payload,
		RawOutput: rawOutput,
	}
}

func (r *Runner) args(agentName, model string, def config.AgentDef) []string {
	args := []string{"--agent", agentName}
	if model != "" {
		args = append(args, "--model", model)
	}
	for _, tool := range def.AllowedTools {
		args = append(args, "--allow-tool", tool)
	}
	return args
}

// composePrompt concatenates, in order: persistent context, the agent's
// template body, the task-specific prompt, the serialized runtime context,
// the context-update-field directive, and the name of the output schema the
// reply must satisfy. The schema's fields are not spelled out in the prompt,
// and no schema flag is passed to the CLI.
func (r *Runner) composePrompt(def config.AgentDef, inv Invocation) (string, error) {
	var b strings.Builder

	if r.Context != nil {
		section, err := r.Context.GetContextForPrompt(inv.ComponentID)
		if err != nil {
			return "", fmt.Errorf("agentrunner: load context: %w", err)
		}
		b.WriteString(section)
		b.WriteString("\n---\n")
	}

	if r.Prompts != nil && def.PromptTemplate != "" {
		template, err := r.Prompts.Load(def.PromptTemplate)
		if err != nil {
			return "", fmt.Errorf("agentrunner: load prompt template %q: %w", def.PromptTemplate, err)
		}
		b.WriteString(template)
		b.WriteString("\n---\n")
	}

	b.WriteString(inv.Prompt)
	b.WriteString("\n---\n")

	if len(inv.RuntimeContext) > 0 {
		b.WriteString("## Runtime Context\n\n")
		for k, v := range inv.RuntimeContext {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
		b.WriteString("---\n")
	}

	b.WriteString("## Response Requirements\n\n")
	b.WriteString("Reply with a single JSON object matching the schema below. It MUST include ")
	b.WriteString("status, summary, discoveries, blockers, decisions, and for_next_agent. ")
	b.WriteString("Do not emit any prose outside the JSON object.\n\n")
	b.WriteString(fmt.Sprintf("Output schema: %s\n", def.OutputSchema))

	return b.String(), nil
}

func failResult(agent string, kind ErrorKind, err error) AgentResult {
	return AgentResult{
		Success: false,
		Error:   &AgentError{Kind: kind, Agent: agent, Err: err},
	}
}

func joinErrors(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// Package schemas is the process-wide registry mapping agent name to the
// validator for that agent's expected JSON output. Registration happens at
// module load (via init() in the agents package), never at runtime, mirroring
// the teacher's core-contract table in internal/contracts.
package schemas

import (
	"fmt"
	"sync"
)

// Status enumerates the terminal states every agent response must report.
type Status string

const (
	StatusComplete   Status = "COMPLETE"
	StatusBlocked    Status = "BLOCKED"
	StatusNeedsInput Status = "NEEDS_INPUT"
)

func (s Status) valid() bool {
	switch s {
	case StatusComplete, StatusBlocked, StatusNeedsInput:
		return true
	default:
		return false
	}
}

// Payload is the parsed JSON body of an agent response, prior to schema
// validation. Agent-specific fields live alongside the orchestration fields
// every schema requires.
type Payload map[string]any

// ContextUpdate is the subset of fields the engine extracts to update the
// context manager, common to every orchestration-participating agent.
type ContextUpdate struct {
	Summary      string
	Discoveries  []string
	Blockers     []string
	Decisions    []string
	ForNextAgent string
}

// Validator checks one agent's payload and returns every violation found. An
// empty slice means the payload is valid.
type Validator func(Payload) []error

// UnknownAgentError is returned by Get when no schema is registered for the
// requested agent.
type UnknownAgentError struct {
	Agent string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("schemas: unknown agent %q", e.Agent)
}

// Registry is a process-wide table of agent name -> Validator. The zero value
// is ready to use; NewRegistry exists for tests that need isolation from the
// package-level default.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{validators: map[string]Validator{}}
}

// Register installs a validator for the given agent name, replacing any prior
// registration. Intended to be called once per agent kind at init time.
func (r *Registry) Register(agent string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.validators == nil {
		r.validators = map[string]Validator{}
	}
	r.validators[agent] = v
}

// Get returns the validator for an agent, or *UnknownAgentError if absent.
func (r *Registry) Get(agent string) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[agent]
	if !ok {
		return nil, &UnknownAgentError{Agent: agent}
	}
	return v, nil
}

// Validate resolves and runs the validator for agent against payload.
func (r *Registry) Validate(agent string, payload Payload) ([]error, error) {
	v, err := r.Get(agent)
	if err != nil {
		return nil, err
	}
	return v(payload), nil
}

// Default is the process-wide registry populated by agent package init()
// functions, analogous to the teacher's package-level coreContracts table.
var Default = NewRegistry()

// Base validates the orchestration fields common to every schema: status,
// and - when status is COMPLETE - the presence of a non-empty summary. Agent
// schemas should call Base first and append their own field checks.
func Base(p Payload) []error {
	var errs []error
	rawStatus, ok := p["status"]
	if !ok {
		errs = append(errs, fmt.Errorf("schemas: status is required"))
		return errs
	}
	status, ok := rawStatus.(string)
	if !ok || !Status(status).valid() {
		errs = append(errs, fmt.Errorf("schemas: status must be one of COMPLETE, BLOCKED, NEEDS_INPUT, got %v", rawStatus))
		return errs
	}
	if status == string(StatusComplete) {
		if s, ok := p["summary"].(string); !ok || s == "" {
			errs = append(errs, fmt.Errorf("schemas: summary is required when status is COMPLETE"))
		}
	}
	return errs
}

// ExtractContextUpdate pulls the common context-update fields out of a
// validated payload. Missing fields are treated as empty, not errors - schema
// validation already guaranteed the required ones are present.
func ExtractContextUpdate(p Payload) ContextUpdate {
	return ContextUpdate{
		Summary:      stringField(p, "summary"),
		Discoveries:  stringSliceField(p, "discoveries"),
		Blockers:     stringSliceField(p, "blockers"),
		Decisions:    stringSliceField(p, "decisions"),
		ForNextAgent: stringField(p, "for_next_agent"),
	}
}

func stringField(p Payload, key string) string {
	v, _ := p[key].(string)
	return v
}

func stringSliceField(p Payload, key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

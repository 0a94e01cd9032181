// Package agents registers the schema validators for every built-in agent
// kind and provides the default agent-config entries a freshly scaffolded
// project starts with. Registration happens in init(), mirroring the
// teacher's core-contract table registration pattern: call exactly once,
// at import time, never again at runtime.
package agents

import (
	"fmt"
	"time"

	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/schemas"
)

// Names of the built-in agent kinds the engine's phases and validation loop
// invoke directly.
const (
	SkeletonBuilder        = "skeleton-builder"
	ImplementationExecutor = "implementation-executor"
	Validator              = "validator"
	FindingValidator       = "finding-validator"
	FixExecutor            = "fix-executor"
	Voter                  = "voter"
	Investigator           = "investigator"
	TestRunner             = "test-runner"
)

func init() {
	schemas.Default.Register(SkeletonBuilder, baseAndFields())
	schemas.Default.Register(ImplementationExecutor, baseAndFields())
	schemas.Default.Register(Validator, validatorSchema)
	schemas.Default.Register(FindingValidator, findingValidatorSchema)
	schemas.Default.Register(FixExecutor, baseAndFields())
	schemas.Default.Register(Voter, voterSchema)
	schemas.Default.Register(Investigator, baseAndFields())
	schemas.Default.Register(TestRunner, baseAndFields())
}

// baseAndFields returns a validator that checks only the orchestration
// fields every agent response shares - the common case for agents that
// contribute no schema fields of their own beyond status/summary/context.
func baseAndFields() schemas.Validator {
	return func(p schemas.Payload) []error {
		return schemas.Base(p)
	}
}

// validatorSchema additionally requires an "issues" array (possibly empty)
// whose entries carry the fields validation.ParseIssues expects.
func validatorSchema(p schemas.Payload) []error {
	errs := schemas.Base(p)
	raw, ok := p["issues"]
	if !ok {
		errs = append(errs, fmt.Errorf("schemas: validator response requires an \"issues\" array"))
		return errs
	}
	items, ok := raw.([]any)
	if !ok {
		errs = append(errs, fmt.Errorf("schemas: \"issues\" must be an array"))
		return errs
	}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("schemas: issues[%d] must be an object", i))
			continue
		}
		if _, ok := m["description"].(string); !ok {
			errs = append(errs, fmt.Errorf("schemas: issues[%d].description is required", i))
		}
		if _, ok := m["file"].(string); !ok {
			errs = append(errs, fmt.Errorf("schemas: issues[%d].file is required", i))
		}
	}
	return errs
}

// findingValidatorSchema requires a single boolean confirmation field for the
// independent "is this finding real" adversarial pass.
func findingValidatorSchema(p schemas.Payload) []error {
	errs := schemas.Base(p)
	if _, ok := p["confirmed"].(bool); !ok {
		errs = append(errs, fmt.Errorf("schemas: finding-validator response requires a boolean \"confirmed\" field"))
	}
	return errs
}

// voterSchema requires a non-empty "choice" field; the caller validates that
// the choice is one of the gate's declared options, since only the gate
// config knows what those are.
func voterSchema(p schemas.Payload) []error {
	errs := schemas.Base(p)
	if c, ok := p["choice"].(string); !ok || c == "" {
		errs = append(errs, fmt.Errorf("schemas: voter response requires a non-empty \"choice\" field"))
	}
	return errs
}

// Defaults returns the agent-config entries a freshly scaffolded project's
// agents.yaml starts with: every built-in agent kind, a shared default
// model and timeout, pointed at the prompt template conduct's `new` command
// writes alongside it.
func Defaults() map[string]config.AgentDef {
	names := []string{
		SkeletonBuilder, ImplementationExecutor, Validator,
		FindingValidator, FixExecutor, Voter, Investigator, TestRunner,
	}
	defs := make(map[string]config.AgentDef, len(names))
	for _, name := range names {
		defs[name] = config.AgentDef{
			Name:           name,
			Model:          "default",
			Timeout:        10 * time.Minute,
			PromptTemplate: name + ".md",
			OutputSchema:   name,
		}
	}
	return defs
}

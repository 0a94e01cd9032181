// Package modes defines the three pre-configured execution profiles - QUICK,
// STANDARD, FULL - that select how aggressively the engine schedules
// components and how much validation each receives.
package modes

import (
	"github.com/conduct-run/orchestrator/internal/config"
	"github.com/conduct-run/orchestrator/internal/manifest"
	"github.com/conduct-run/orchestrator/internal/validation"
)

// ParallelismStrategy controls how component_loop schedules dependency
// levels.
type ParallelismStrategy string

const (
	// ParallelismAggressive runs every component of a dependency level
	// concurrently, with no concurrency limit; levels still run one after
	// another.
	ParallelismAggressive ParallelismStrategy = "aggressive"
	// ParallelismByLevel runs one dependency level at a time, components
	// within a level concurrently.
	ParallelismByLevel ParallelismStrategy = "by_level"
	// ParallelismConservative runs one component at a time.
	ParallelismConservative ParallelismStrategy = "conservative"
)

// Profile captures one execution mode's full behavior.
type Profile struct {
	Mode                manifest.Mode
	SkeletonReview      bool
	SkeletonReviewers   int
	SkeletonGateVote    bool
	Parallelism         ParallelismStrategy
	BacktrackOnCritical bool
	FinalFixSeverities  []validation.Severity
	RunImpactAnalysis   bool
	RunProductionGate   bool
}

// Profiles is the fixed table of the three modes, per spec.md §4.8.
var Profiles = map[manifest.Mode]Profile{
	manifest.ModeQuick: {
		Mode:                manifest.ModeQuick,
		SkeletonReview:      false,
		Parallelism:         ParallelismAggressive,
		BacktrackOnCritical: false,
		FinalFixSeverities:  nil,
		RunImpactAnalysis:   false,
		RunProductionGate:   false,
	},
	manifest.ModeStandard: {
		Mode:                manifest.ModeStandard,
		SkeletonReview:      true,
		SkeletonReviewers:   2,
		Parallelism:         ParallelismByLevel,
		BacktrackOnCritical: true,
		FinalFixSeverities:  []validation.Severity{validation.SeverityCritical, validation.SeverityHigh},
		RunImpactAnalysis:   true,
		RunProductionGate:   true,
	},
	manifest.ModeFull: {
		Mode:                manifest.ModeFull,
		SkeletonReview:      true,
		SkeletonReviewers:   3,
		SkeletonGateVote:    true,
		Parallelism:         ParallelismConservative,
		BacktrackOnCritical: true,
		FinalFixSeverities:  []validation.Severity{validation.SeverityCritical, validation.SeverityHigh, validation.SeverityMedium, validation.SeverityLow},
		RunImpactAnalysis:   true,
		RunProductionGate:   true,
	},
}

// For resolves the profile for a manifest mode. Unknown modes fall back to
// STANDARD, the middle-ground default.
func For(mode manifest.Mode) Profile {
	if p, ok := Profiles[mode]; ok {
		return p
	}
	return Profiles[manifest.ModeStandard]
}

// LoopParams derives the validation loop parameters for one component at a
// given risk level, combining the mode profile with the risk-reviewer table
// and fix-loop tunables from config.
func (p Profile) LoopParams(cfg config.EngineConfig, risk manifest.RiskLevel, maxConcurrency int) validation.Params {
	reviewers := cfg.ReviewerCount(risk)
	if p.Mode == manifest.ModeQuick {
		// QUICK mode runs lint-only validation: a single reviewer pass
		// regardless of the manifest's declared risk level.
		reviewers = 1
	}
	return validation.Params{
		ReviewerCount:      reviewers,
		MaxFixAttempts:     cfg.FixLoop.MaxFixAttempts,
		SameIssueThreshold: cfg.FixLoop.SameIssueThreshold,
		SkeletonReviewers:  p.SkeletonReviewers,
		SkeletonGateVote:   p.SkeletonGateVote,
		MaxConcurrency:     maxConcurrency,
	}
}

// IncludesSeverity reports whether this profile's final-fix pass covers a
// given severity.
func (p Profile) IncludesSeverity(sev validation.Severity) bool {
	for _, s := range p.FinalFixSeverities {
		if s == sev {
			return true
		}
	}
	return false
}

// AllowsParallelComponents reports whether two components at the same
// dependency level may run concurrently under this profile.
func (p Profile) AllowsParallelComponents() bool {
	return p.Parallelism != ParallelismConservative
}

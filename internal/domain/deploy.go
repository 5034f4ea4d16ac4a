package domain

import (
	"fmt"
	"strings"
)

// Strategy selects how package files are materialized in the target directory
type Strategy string

const (
	// StrategyCopy duplicates each file into the target
	StrategyCopy Strategy = "copy"
	// StrategyLink creates a symbolic link to the package's source file
	StrategyLink Strategy = "link"
)

// ParseStrategy accepts "copy" or "link" (case-insensitive)
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyCopy:
		return StrategyCopy, nil
	case StrategyLink:
		return StrategyLink, nil
	}
	return "", NewAppError(ErrValidationFailed, fmt.Sprintf("unknown deployment strategy %q", s), 422,
		map[string]any{"allowed": []Strategy{StrategyCopy, StrategyLink}})
}

// Valid reports whether s is one of the known strategies
func (s Strategy) Valid() bool {
	return s == StrategyCopy || s == StrategyLink
}

// Outcome summarizes an apply call
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeNoop    Outcome = "noop"
)

// ApplyResult carries the aggregate counts of one enable or disable call.
// Per-file failures never surface individually.
type ApplyResult struct {
	Package  string   `json:"package"`
	Enable   bool     `json:"enable"`
	Strategy Strategy `json:"strategy"`
	OK       bool     `json:"ok"`
	Outcome  Outcome  `json:"outcome"`

	Written   int `json:"written"`
	Deleted   int `json:"deleted"`
	Repointed int `json:"repointed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	SourceMissing     int  `json:"source_missing"`
	PrivilegeFailures int  `json:"privilege_failures"`
	ElevationRequired bool `json:"elevation_required"`

	Fallback string `json:"fallback,omitempty"` // package that took over re-pointed paths
}

// Succeeded is the number of successful filesystem writes or removals
func (r ApplyResult) Succeeded() int {
	return r.Written + r.Deleted + r.Repointed
}

// ConversionResult reports a link-to-copy conversion pass
type ConversionResult struct {
	Converted int `json:"converted"`
	Failed    int `json:"failed"`
}

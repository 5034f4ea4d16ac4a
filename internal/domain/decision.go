package domain

import "context"

// IntegrityDecision is the user's answer to an integrity mismatch
type IntegrityDecision string

const (
	IntegrityCancel        IntegrityDecision = "cancel"
	IntegritySaveAndEnable IntegrityDecision = "save-and-enable"
	IntegrityUninstall     IntegrityDecision = "uninstall"
)

// ConflictDecision is the user's answer to a detected conflict
type ConflictDecision string

const (
	ConflictCancel   ConflictDecision = "cancel"
	ConflictOverride ConflictDecision = "override"
	ConflictManual   ConflictDecision = "manual"
)

// Valid reports whether d is one of the known integrity decisions
func (d IntegrityDecision) Valid() bool {
	switch d {
	case IntegrityCancel, IntegritySaveAndEnable, IntegrityUninstall:
		return true
	}
	return false
}

// Valid reports whether d is one of the known conflict decisions
func (d ConflictDecision) Valid() bool {
	switch d {
	case ConflictCancel, ConflictOverride, ConflictManual:
		return true
	}
	return false
}

// DecisionProvider answers the questions raised while enabling a package.
// Implementations may block (interactive prompt) or answer from a request body.
type DecisionProvider interface {
	ResolveIntegrity(ctx context.Context, report IntegrityReport) (IntegrityDecision, error)
	ResolveConflict(ctx context.Context, report ConflictReport, strategy Strategy) (ConflictDecision, error)
	// ArrangePriority returns a full order over candidate and conflicting packages.
	// suggested is the resolver's proposal, or candidate-first input order when nothing is stored.
	ArrangePriority(ctx context.Context, candidate string, conflicting []string, suggested PriorityOrder, fromHistory bool) (PriorityOrder, error)
}

// EnableState is a step of the enable flow
type EnableState string

const (
	StateIdle                EnableState = "idle"
	StateIntegrityChecked    EnableState = "integrity_checked"
	StateConflictChecked     EnableState = "conflict_checked"
	StateCancelled           EnableState = "cancelled"
	StateOverridden          EnableState = "overridden"
	StateManuallyPrioritized EnableState = "manually_prioritized"
	StateDeployed            EnableState = "deployed"
	StateUninstalled         EnableState = "uninstalled"
	StateFailed              EnableState = "failed"
)

// EnableOutcome is the terminal state of one enable flow plus whatever was learned on the way
type EnableOutcome struct {
	Package   string           `json:"package"`
	State     EnableState      `json:"state"`
	Path      []EnableState    `json:"path"` // states visited, in order
	Integrity *IntegrityReport `json:"integrity,omitempty"`
	Conflicts *ConflictReport  `json:"conflicts,omitempty"`
	Priority  PriorityOrder    `json:"priority,omitempty"`
	Result    *ApplyResult     `json:"result,omitempty"`
}

// Enabled reports whether the flow ended with the package deployed
func (o EnableOutcome) Enabled() bool {
	return o.State == StateDeployed
}

// Advance moves the outcome into state s and records it
func (o *EnableOutcome) Advance(s EnableState) {
	o.State = s
	o.Path = append(o.Path, s)
}

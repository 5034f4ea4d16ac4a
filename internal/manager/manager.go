// Package manager drives package toggles: integrity and conflict checks,
// user decisions, deployment and state bookkeeping.
package manager

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/conflict"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/deploy"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/integrity"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/metrics"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/pack"
)

// Deps are the collaborators of a Manager. Usage and Metrics may be nil.
type Deps struct {
	Library    *pack.Library
	Manifests  *pack.ManifestStore
	Checker    *integrity.Checker
	Detector   *conflict.Detector
	Priorities domain.PriorityRepository
	States     domain.StateRepository
	Engine     *deploy.Engine
	Usage      domain.UsageRecorder
	Metrics    *metrics.Metrics
}

// Manager serializes every operation that touches the target directory
type Manager struct {
	mu sync.Mutex

	library    *pack.Library
	manifests  *pack.ManifestStore
	checker    *integrity.Checker
	detector   *conflict.Detector
	priorities domain.PriorityRepository
	states     domain.StateRepository
	engine     *deploy.Engine
	usage      domain.UsageRecorder
	metrics    *metrics.Metrics
}

// New creates a Manager
func New(d Deps) *Manager {
	return &Manager{
		library:    d.Library,
		manifests:  d.Manifests,
		checker:    d.Checker,
		detector:   d.Detector,
		priorities: d.Priorities,
		states:     d.States,
		engine:     d.Engine,
		usage:      d.Usage,
		metrics:    d.Metrics,
	}
}

// Strategy returns the active deployment strategy
func (m *Manager) Strategy() domain.Strategy {
	return m.engine.Strategy()
}

// Enable runs the enable flow for one package, asking decider whenever the
// flow needs a user decision. The returned outcome says where the flow
// stopped; the error is reserved for failures, not for user cancellation.
func (m *Manager) Enable(ctx context.Context, name string, decider domain.DecisionProvider) (domain.EnableOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enableLocked(ctx, name, decider)
}

func (m *Manager) enableLocked(ctx context.Context, name string, decider domain.DecisionProvider) (domain.EnableOutcome, error) {
	out := domain.EnableOutcome{Package: name}
	out.Advance(domain.StateIdle)

	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return out, err
	}
	out.Package = pkg.Name

	// fail fast: no question is asked when nothing could be deployed anyway
	if err := m.engine.CheckTarget(); err != nil {
		return out, err
	}

	report, err := m.checker.Check(ctx, pkg)
	if err != nil {
		out.Advance(domain.StateFailed)
		return out, err
	}
	out.Integrity = &report
	out.Advance(domain.StateIntegrityChecked)

	if !report.Complete {
		decision, err := decider.ResolveIntegrity(ctx, report)
		if err != nil {
			out.Advance(domain.StateFailed)
			return out, err
		}
		if !decision.Valid() {
			out.Advance(domain.StateFailed)
			return out, invalidDecision("integrity", string(decision))
		}
		m.metrics.ObserveDecision("integrity", string(decision))
		log.Info().Str("package", pkg.Name).Str("decision", string(decision)).
			Int("missing", len(report.Missing)).Int("extra", len(report.Extra)).
			Msg("Integrity mismatch resolved")

		switch decision {
		case domain.IntegrityCancel:
			out.Advance(domain.StateCancelled)
			return out, nil
		case domain.IntegrityUninstall:
			if err := m.uninstallLocked(ctx, pkg); err != nil {
				out.Advance(domain.StateFailed)
				return out, err
			}
			out.Advance(domain.StateUninstalled)
			return out, nil
		case domain.IntegritySaveAndEnable:
			if _, err := m.manifests.Record(ctx, pkg); err != nil {
				out.Advance(domain.StateFailed)
				return out, err
			}
		}
	}

	conflicts, err := m.detector.ConflictsAgainstEnabled(ctx, pkg.Name, m.states.EnabledPackages())
	if err != nil {
		out.Advance(domain.StateFailed)
		return out, err
	}
	out.Conflicts = &conflicts
	out.Advance(domain.StateConflictChecked)

	var order domain.PriorityOrder
	if conflicts.HasConflict {
		m.metrics.ObserveConflict()

		decision, err := m.askConflict(ctx, decider, conflicts)
		if err != nil {
			out.Advance(domain.StateCancelled)
			return out, err
		}

		switch decision {
		case domain.ConflictCancel:
			out.Advance(domain.StateCancelled)
			return out, nil
		case domain.ConflictOverride:
			out.Advance(domain.StateOverridden)
		case domain.ConflictManual:
			arranged, err := m.arrange(ctx, decider, pkg.Name, conflicts.ConflictingPackages)
			if err != nil {
				out.Advance(domain.StateFailed)
				return out, err
			}
			if arranged == nil {
				out.Advance(domain.StateCancelled)
				return out, nil
			}
			order = arranged
			out.Priority = arranged
			out.Advance(domain.StateManuallyPrioritized)
		}
	}

	result, err := m.apply(ctx, pkg, true, order)
	out.Result = &result
	if err != nil {
		out.Advance(domain.StateFailed)
		return out, err
	}
	if !result.OK {
		out.Advance(domain.StateFailed)
		return out, nil
	}

	if err := m.states.SetEnabled(ctx, pkg.Name, true); err != nil {
		out.Advance(domain.StateFailed)
		return out, err
	}
	m.metrics.SetEnabled(len(m.states.EnabledPackages()))
	out.Advance(domain.StateDeployed)
	return out, nil
}

// askConflict gets a conflict decision. Manual ordering cannot be honored by
// copies, so in Copy mode a manual answer is rejected and asked once more.
func (m *Manager) askConflict(ctx context.Context, decider domain.DecisionProvider, report domain.ConflictReport) (domain.ConflictDecision, error) {
	strategy := m.engine.Strategy()

	for attempt := 0; attempt < 2; attempt++ {
		decision, err := decider.ResolveConflict(ctx, report, strategy)
		if err != nil {
			return domain.ConflictCancel, err
		}
		if !decision.Valid() {
			return domain.ConflictCancel, invalidDecision("conflict", string(decision))
		}
		if decision == domain.ConflictManual && strategy == domain.StrategyCopy {
			log.Warn().Str("package", report.Candidate).Msg("Manual priority needs Link mode; asking again")
			continue
		}
		m.metrics.ObserveDecision("conflict", string(decision))
		log.Info().Str("package", report.Candidate).Str("decision", string(decision)).
			Strs("conflicting", report.ConflictingPackages).Msg("Conflict resolved")
		return decision, nil
	}

	return domain.ConflictCancel, domain.NewAppError(domain.ErrManualUnsupported,
		"manual priority only applies in link mode; copies simply overwrite each other", 422,
		map[string]any{"package": report.Candidate, "strategy": strategy})
}

// arrange asks for a priority order, validates it and saves it. A nil order
// from the decider means the user backed out.
func (m *Manager) arrange(ctx context.Context, decider domain.DecisionProvider, candidate string, conflicting []string) (domain.PriorityOrder, error) {
	suggested, fromHistory := m.priorities.Resolve(candidate, conflicting)
	if !fromHistory {
		suggested = append(domain.PriorityOrder{candidate}, conflicting...)
	}

	arranged, err := decider.ArrangePriority(ctx, candidate, slices.Clone(conflicting), suggested, fromHistory)
	if err != nil || arranged == nil {
		return nil, err
	}
	if err := validatePermutation(arranged, candidate, conflicting); err != nil {
		return nil, err
	}
	if err := m.priorities.Save(ctx, arranged); err != nil {
		return nil, err
	}
	return arranged, nil
}

// validatePermutation checks that order lists candidate and every conflicting package exactly once
func validatePermutation(order domain.PriorityOrder, candidate string, conflicting []string) error {
	want := append([]string{candidate}, conflicting...)
	got := slices.Clone([]string(order))
	slices.Sort(want)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return domain.NewAppError(domain.ErrValidationFailed,
			"priority order must list the package and every conflicting package exactly once", 422,
			map[string]any{"expected": want, "got": order})
	}
	return nil
}

func invalidDecision(question, decision string) error {
	return domain.NewAppError(domain.ErrValidationFailed, fmt.Sprintf("unknown %s decision %q", question, decision), 422, nil)
}

// apply runs the engine and does the bookkeeping every toggle shares
func (m *Manager) apply(ctx context.Context, pkg domain.Package, enable bool, order domain.PriorityOrder) (domain.ApplyResult, error) {
	start := time.Now()

	var (
		result domain.ApplyResult
		err    error
	)
	switch {
	case !enable:
		result, err = m.engine.Apply(ctx, pkg, false)
	case order != nil:
		result, err = m.engine.ApplyOrdered(ctx, pkg, order)
	default:
		result, err = m.engine.Apply(ctx, pkg, true)
	}
	if err != nil {
		return result, err
	}

	m.metrics.ObserveApply(result, time.Since(start))

	action := domain.ActionDisable
	if enable {
		action = domain.ActionEnable
	}
	m.recordUsage(ctx, pkg.Name, action, result)
	return result, nil
}

func (m *Manager) recordUsage(ctx context.Context, name string, action domain.UsageAction, result domain.ApplyResult) {
	if m.usage == nil {
		return
	}
	event := domain.UsageEvent{
		Package:  name,
		Action:   action,
		Strategy: result.Strategy,
		Outcome:  result.Outcome,
		Written:  result.Written + result.Repointed,
		Failed:   result.Failed,
	}
	if err := m.usage.Record(ctx, event); err != nil {
		log.Warn().Err(err).Str("package", name).Msg("Failed to record usage")
	}
}

// Disable removes a package from the target. The package is marked disabled
// only when the removal succeeded.
func (m *Manager) Disable(ctx context.Context, name string) (domain.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return domain.ApplyResult{Package: name}, err
	}
	return m.disableLocked(ctx, pkg)
}

func (m *Manager) disableLocked(ctx context.Context, pkg domain.Package) (domain.ApplyResult, error) {
	result, err := m.apply(ctx, pkg, false, nil)
	if err != nil {
		return result, err
	}
	if result.OK {
		if err := m.states.SetEnabled(ctx, pkg.Name, false); err != nil {
			return result, err
		}
		m.metrics.SetEnabled(len(m.states.EnabledPackages()))
	}
	return result, nil
}

// EnableAll enables every installed package that is neither enabled nor
// ignored, in name order. It stops early only when ctx is done.
func (m *Manager) EnableAll(ctx context.Context, decider domain.DecisionProvider) ([]domain.EnableOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.engine.CheckTarget(); err != nil {
		return nil, err
	}
	packages, err := m.library.List(ctx)
	if err != nil {
		return nil, err
	}

	var outcomes []domain.EnableOutcome
	for _, pkg := range packages {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		st, _ := m.states.Get(pkg.Name)
		if st.Enabled || st.Ignored {
			continue
		}

		out, err := m.enableLocked(ctx, pkg.Name, decider)
		if err != nil {
			log.Warn().Err(err).Str("package", pkg.Name).Msg("Enable failed during enable-all")
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// DisableAll disables every enabled package, most recently enabled first
func (m *Manager) DisableAll(ctx context.Context) ([]domain.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableManyLocked(ctx, m.states.EnabledPackages())
}

// DisableMany disables the named packages, last name first
func (m *Manager) DisableMany(ctx context.Context, names []string) ([]domain.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableManyLocked(ctx, names)
}

func (m *Manager) disableManyLocked(ctx context.Context, names []string) ([]domain.ApplyResult, error) {
	if err := m.engine.CheckTarget(); err != nil {
		return nil, err
	}

	var results []domain.ApplyResult
	for i := len(names) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		pkg, err := m.library.Get(ctx, names[i])
		if err != nil {
			if domain.IsNotFound(err) {
				// state entry without a folder: nothing deployed to remove
				if err := m.states.SetEnabled(ctx, names[i], false); err != nil {
					log.Warn().Err(err).Str("package", names[i]).Msg("Failed to clear state of missing package")
				}
				continue
			}
			return results, err
		}
		result, err := m.disableLocked(ctx, pkg)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// RestoreEnabled makes the enabled set equal to snapshot: packages enabled
// outside it are disabled, snapshot members that are disabled are enabled
// again without asking, honoring saved priority orders.
func (m *Manager) RestoreEnabled(ctx context.Context, snapshot []string) ([]domain.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.engine.CheckTarget(); err != nil {
		return nil, err
	}

	var extra []string
	for _, name := range m.states.EnabledPackages() {
		if !slices.Contains(snapshot, name) {
			extra = append(extra, name)
		}
	}
	results, err := m.disableManyLocked(ctx, extra)
	if err != nil {
		return results, err
	}

	for _, name := range snapshot {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if m.states.IsEnabled(name) {
			continue
		}
		pkg, err := m.library.Get(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("package", name).Msg("Cannot restore package")
			continue
		}

		result, err := m.apply(ctx, pkg, true, m.savedOrder(pkg.Name))
		if err != nil {
			return results, err
		}
		if result.OK {
			if err := m.states.SetEnabled(ctx, pkg.Name, true); err != nil {
				return results, err
			}
		}
		results = append(results, result)
	}

	m.metrics.SetEnabled(len(m.states.EnabledPackages()))
	return results, nil
}

// savedOrder returns the first saved order containing name, by group key
func (m *Manager) savedOrder(name string) domain.PriorityOrder {
	groups := m.priorities.GroupsContaining(name)
	if len(groups) == 0 {
		return nil
	}
	return groups[0].Order
}

// ValidateBatch reports every shared path between the named packages
func (m *Manager) ValidateBatch(ctx context.Context, names []string) ([]domain.PathConflict, error) {
	return m.detector.PairwiseConflicts(ctx, names)
}

// Conflicts checks one package against the enabled set without changing anything
func (m *Manager) Conflicts(ctx context.Context, name string) (domain.ConflictReport, error) {
	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return domain.ConflictReport{}, err
	}
	return m.detector.ConflictsAgainstEnabled(ctx, pkg.Name, m.states.EnabledPackages())
}

// Uninstall disables a package if needed and deletes it with all of its state
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, err := m.library.Get(ctx, name)
	if err != nil {
		return err
	}
	return m.uninstallLocked(ctx, pkg)
}

func (m *Manager) uninstallLocked(ctx context.Context, pkg domain.Package) error {
	if m.states.IsEnabled(pkg.Name) {
		result, err := m.disableLocked(ctx, pkg)
		if err != nil {
			return err
		}
		if !result.OK {
			return domain.NewAppError(domain.ErrIOFailure, "package could not be removed from the target directory", 500,
				map[string]any{"package": pkg.Name, "result": result})
		}
	}

	if err := m.library.Uninstall(ctx, pkg.Name); err != nil {
		return err
	}
	if err := m.states.Delete(ctx, pkg.Name); err != nil {
		return err
	}
	if err := m.priorities.Forget(ctx, pkg.Name); err != nil {
		return err
	}

	if m.usage != nil {
		if err := m.usage.Record(ctx, domain.UsageEvent{
			Package:  pkg.Name,
			Action:   domain.ActionUninstall,
			Strategy: m.engine.Strategy(),
			Outcome:  domain.OutcomeOK,
		}); err != nil {
			log.Warn().Err(err).Str("package", pkg.Name).Msg("Failed to record usage")
		}
	}
	return nil
}

// SetStrategy switches the deployment strategy and persists the choice.
// Leaving Link mode converts deployed links into copies first so the target
// keeps working.
func (m *Manager) SetStrategy(ctx context.Context, strategy domain.Strategy) (domain.ConversionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result domain.ConversionResult
	current := m.engine.Strategy()
	if current == strategy {
		if m.states.Strategy() != strategy {
			return result, m.states.SetStrategy(ctx, strategy)
		}
		return result, nil
	}
	if err := m.states.SetStrategy(ctx, strategy); err != nil {
		return result, err
	}

	if current == domain.StrategyLink && strategy == domain.StrategyCopy {
		converted, err := m.engine.ConvertLinksToCopies(ctx)
		if err != nil && !domain.IsTargetUnavailable(err) {
			if rerr := m.states.SetStrategy(ctx, current); rerr != nil {
				log.Warn().Err(rerr).Str("strategy", string(current)).Msg("Failed to restore stored strategy")
			}
			return converted, err
		}
		result = converted
	}
	m.engine.SetStrategy(strategy)
	return result, nil
}

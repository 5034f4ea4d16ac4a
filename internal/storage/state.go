// Package storage persists per-package state for the mod manager.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

const stateFileVersion = "1.0"

// StateFile is the on-disk layout of the state store
type StateFile struct {
	Version   string                         `json:"version"`
	UpdatedAt time.Time                      `json:"updated_at"`
	Strategy  domain.Strategy                `json:"strategy,omitempty"`
	Packages  map[string]domain.PackageState `json:"packages"`
}

// StateStore implements domain.StateRepository on a JSON file
type StateStore struct {
	mu       sync.RWMutex
	filePath string
	states   map[string]domain.PackageState
	strategy domain.Strategy
	migrated bool
	now      func() time.Time
}

// NewStateStore creates a state store backed by filePath
func NewStateStore(filePath string) *StateStore {
	return &StateStore{
		filePath: filePath,
		states:   make(map[string]domain.PackageState),
		now:      time.Now,
	}
}

// Load reads the state file. A missing file is an empty store. Files written
// by older versions ({name: bool} or flat {name: {enabled, ...}} with epoch
// import times) are migrated and rewritten in the current layout.
func (s *StateStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.NewAppErrorWithCause(
			domain.ErrTimeout,
			"Load cancelled",
			408,
			ctx.Err(),
			map[string]any{"operation": "load"},
		)
	default:
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.states = make(map[string]domain.PackageState)
			return nil
		}
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to read state file", 500, err,
			map[string]any{"file": s.filePath}).WithContext(ctx, "load")
	}

	file, legacy, err := decodeStates(data)
	if err != nil {
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to parse state file", 500, err,
			map[string]any{"file": s.filePath}).WithContext(ctx, "load")
	}
	states := file.Packages
	s.states = states
	s.strategy = ""
	if file.Strategy.Valid() {
		s.strategy = file.Strategy
	} else if file.Strategy != "" {
		log.Warn().Str("strategy", string(file.Strategy)).Msg("Ignoring unknown stored deployment strategy")
	}

	if legacy {
		s.migrated = true
		if err := s.saveUnsafe(); err != nil {
			log.Warn().Err(err).Str("file", s.filePath).Msg("Failed to rewrite migrated state file")
		} else {
			log.Info().Int("packages", len(states)).Msg("Package states migrated to current format")
		}
	}
	return nil
}

// decodeStates accepts the current layout and both legacy layouts
func decodeStates(data []byte) (StateFile, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return StateFile{}, false, err
	}

	if _, ok := fields["packages"]; ok {
		if _, hasVersion := fields["version"]; hasVersion {
			var file StateFile
			if err := json.Unmarshal(data, &file); err != nil {
				return StateFile{}, false, err
			}
			if file.Packages == nil {
				file.Packages = make(map[string]domain.PackageState)
			}
			return file, false, nil
		}
	}

	states := make(map[string]domain.PackageState, len(fields))
	for name, raw := range fields {
		var enabled bool
		if err := json.Unmarshal(raw, &enabled); err == nil {
			states[name] = domain.PackageState{Enabled: enabled}
			continue
		}

		var legacy struct {
			Enabled    bool            `json:"enabled"`
			Favorite   bool            `json:"favorite"`
			Ignored    bool            `json:"ignored"`
			ImportTime json.RawMessage `json:"import_time"`
		}
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return StateFile{}, false, fmt.Errorf("state of %q: %w", name, err)
		}
		states[name] = domain.PackageState{
			Enabled:    legacy.Enabled,
			Favorite:   legacy.Favorite,
			Ignored:    legacy.Ignored,
			ImportTime: parseImportTime(legacy.ImportTime),
		}
	}
	return StateFile{Packages: states}, true, nil
}

// parseImportTime reads epoch seconds (float) or an RFC 3339 string
func parseImportTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		sec, frac := math.Modf(epoch)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	var ts time.Time
	if err := json.Unmarshal(raw, &ts); err == nil {
		return ts
	}
	return time.Time{}
}

// saveUnsafe performs the save without acquiring locks (caller must hold lock)
func (s *StateStore) saveUnsafe() error {
	file := StateFile{
		Version:   stateFileVersion,
		UpdatedAt: s.now().UTC(),
		Strategy:  s.strategy,
		Packages:  s.states,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, s.filePath)
}

// mutate applies fn to one package's state and persists, restoring the old value on failure
func (s *StateStore) mutate(ctx context.Context, name string, fn func(*domain.PackageState)) (domain.PackageState, error) {
	if err := ctx.Err(); err != nil {
		return domain.PackageState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.states[name]
	next := previous
	fn(&next)
	s.states[name] = next

	if err := s.saveUnsafe(); err != nil {
		if existed {
			s.states[name] = previous
		} else {
			delete(s.states, name)
		}
		return previous, domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to persist package state", 500, err,
			map[string]any{"package": name}).WithContext(ctx, "save_state")
	}
	return next, nil
}

// Strategy returns the deployment strategy saved by SetStrategy, empty when none was saved
func (s *StateStore) Strategy() domain.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy
}

// SetStrategy persists the deployment strategy so it survives a restart
func (s *StateStore) SetStrategy(ctx context.Context, strategy domain.Strategy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strategy.Valid() {
		return domain.NewAppError(domain.ErrInvalidInput, "unknown deployment strategy", 400,
			map[string]any{"strategy": strategy})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.strategy
	s.strategy = strategy
	if err := s.saveUnsafe(); err != nil {
		s.strategy = previous
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to persist deployment strategy", 500, err,
			map[string]any{"strategy": strategy}).WithContext(ctx, "save_strategy")
	}
	return nil
}

// Get returns the stored state of a package
func (s *StateStore) Get(name string) (domain.PackageState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[name]
	return st, ok
}

// All returns a copy of every stored state
func (s *StateStore) All() map[string]domain.PackageState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.PackageState, len(s.states))
	for name, st := range s.states {
		out[name] = st
	}
	return out
}

// IsEnabled reports whether a package is marked enabled
func (s *StateStore) IsEnabled(name string) bool {
	st, ok := s.Get(name)
	return ok && st.Enabled
}

// EnabledPackages returns enabled package names in enable order:
// oldest EnabledAt first, name as tie-break
func (s *StateStore) EnabledPackages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type item struct {
		name string
		at   time.Time
	}
	var items []item
	for name, st := range s.states {
		if st.Enabled {
			items = append(items, item{name, st.EnabledAt})
		}
	}
	slices.SortFunc(items, func(a, b item) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.name
	}
	return names
}

// SetEnabled records a toggle. Enabling stamps EnabledAt.
func (s *StateStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	_, err := s.mutate(ctx, name, func(st *domain.PackageState) {
		if enabled && !st.Enabled {
			st.EnabledAt = s.now().UTC()
		}
		st.Enabled = enabled
		if st.ImportTime.IsZero() {
			st.ImportTime = s.now().UTC()
		}
	})
	return err
}

// SetFlags updates the favorite and ignored flags; nil leaves a flag unchanged
func (s *StateStore) SetFlags(ctx context.Context, name string, favorite, ignored *bool) (domain.PackageState, error) {
	return s.mutate(ctx, name, func(st *domain.PackageState) {
		if favorite != nil {
			st.Favorite = *favorite
		}
		if ignored != nil {
			st.Ignored = *ignored
		}
	})
}

// Touch sets the import time of a package, creating its entry if needed
func (s *StateStore) Touch(ctx context.Context, name string, importTime time.Time) error {
	_, err := s.mutate(ctx, name, func(st *domain.PackageState) {
		st.ImportTime = importTime.UTC()
	})
	return err
}

// Delete removes a package's state entry
func (s *StateStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.states[name]
	if !ok {
		return nil
	}
	delete(s.states, name)

	if err := s.saveUnsafe(); err != nil {
		s.states[name] = previous
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to persist package state", 500, err,
			map[string]any{"package": name}).WithContext(ctx, "delete_state")
	}
	return nil
}

// HealthCheck performs a health check on the state file location
func (s *StateStore) HealthCheck(ctx context.Context) domain.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	details := map[string]any{
		"packages": len(s.states),
		"file":     s.filePath,
	}

	dir := filepath.Dir(s.filePath)
	if _, err := os.Stat(dir); err != nil {
		details["error"] = err.Error()
		return domain.HealthStatus{
			Status:    domain.HealthStatusUnhealthy,
			Message:   "Data directory is not accessible",
			Details:   details,
			Timestamp: now,
		}
	}

	return domain.HealthStatus{
		Status:    domain.HealthStatusHealthy,
		Message:   "State store is operating normally",
		Details:   details,
		Timestamp: now,
	}
}

// GetStats returns state store statistics
func (s *StateStore) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enabled, favorite, ignored := 0, 0, 0
	for _, st := range s.states {
		if st.Enabled {
			enabled++
		}
		if st.Favorite {
			favorite++
		}
		if st.Ignored {
			ignored++
		}
	}

	return map[string]any{
		"packages": len(s.states),
		"enabled":  enabled,
		"favorite": favorite,
		"ignored":  ignored,
		"migrated": s.migrated,
		"file":     s.filePath,
	}
}

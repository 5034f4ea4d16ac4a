// Package bisect narrows down a faulty package by repeatedly disabling half
// of the enabled set. The user judges after every round whether the problem
// persists; the session only halves, restores and terminates.
package bisect

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/metrics"
)

// Toggler is the part of the manager a session drives
type Toggler interface {
	Enabled() []string
	DisableMany(ctx context.Context, names []string) ([]domain.ApplyResult, error)
	RestoreEnabled(ctx context.Context, snapshot []string) ([]domain.ApplyResult, error)
}

// Half selects which half of the candidates a round disables
type Half string

const (
	Front Half = "front"
	Back  Half = "back"
)

// ParseHalf accepts "front" or "back"
func ParseHalf(s string) (Half, error) {
	switch Half(s) {
	case Front, Back:
		return Half(s), nil
	}
	return "", domain.NewAppError(domain.ErrValidationFailed, "half must be front or back", 422,
		map[string]any{"half": s})
}

// Status is where a session stands
type Status string

const (
	StatusActive    Status = "active"
	StatusIsolated  Status = "isolated"  // one candidate left
	StatusExhausted Status = "exhausted" // no more enabled packages
	StatusDisabled  Status = "disabled"  // everything was disabled
	StatusCancelled Status = "cancelled" // snapshot restored
)

// Finished reports whether no further round can run
func (s Status) Finished() bool {
	return s != StatusActive
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Enabled    []string  `json:"enabled"`    // enabled set when the session started
	Candidates []string  `json:"candidates"` // still suspected
	Disabled   []string  `json:"disabled"`   // disabled by this session so far
	Rounds     int       `json:"rounds"`
	Suspect    string    `json:"suspect,omitempty"`
	Front      []string  `json:"front,omitempty"` // what the next front round disables
	Back       []string  `json:"back,omitempty"`  // what the next back round disables
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Isolator keeps bisection sessions; at most one is active at a time
type Isolator struct {
	toggler Toggler
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	active   string
	now      func() time.Time
}

// NewIsolator creates an Isolator. m may be nil.
func NewIsolator(toggler Toggler, m *metrics.Metrics) *Isolator {
	return &Isolator{
		toggler:  toggler,
		metrics:  m,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Start snapshots the enabled set and opens a session over it
func (i *Isolator) Start(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.active != "" {
		if s, ok := i.sessions[i.active]; ok && !s.Snapshot().Status.Finished() {
			return nil, domain.NewAppError(domain.ErrBisectInactive, "a bisection session is already running", 409,
				map[string]any{"session": i.active})
		}
	}

	enabled := i.toggler.Enabled()
	if len(enabled) == 0 {
		return nil, domain.NewAppError(domain.ErrBisectInactive, "no enabled packages to bisect", 409, nil)
	}

	candidates := slices.Clone(enabled)
	slices.Sort(candidates)

	s := &Session{
		id:         uuid.New().String(),
		isolator:   i,
		snapshot:   slices.Clone(enabled),
		candidates: candidates,
		status:     StatusActive,
		startedAt:  i.now(),
	}
	if len(candidates) == 1 {
		s.finish(StatusIsolated)
	}

	i.sessions[s.id] = s
	i.active = s.id

	log.Info().Str("session", s.id).Int("candidates", len(candidates)).Msg("Bisection started")
	return s, nil
}

// Get returns a session by id
func (i *Isolator) Get(id string) (*Session, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	s, ok := i.sessions[id]
	if !ok {
		return nil, domain.NewAppError(domain.ErrNotFound, "bisection session not found", 404,
			map[string]any{"session": id})
	}
	return s, nil
}

// Active returns the running session, if any
func (i *Isolator) Active() (*Session, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	s, ok := i.sessions[i.active]
	if !ok || s.Snapshot().Status.Finished() {
		return nil, false
	}
	return s, true
}

// Session is one bisection run
type Session struct {
	id       string
	isolator *Isolator

	mu         sync.Mutex
	snapshot   []string
	candidates []string
	disabled   []string
	rounds     int
	status     Status
	startedAt  time.Time
	finishedAt time.Time
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a copy of the session's current view
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotUnsafe()
}

func (s *Session) snapshotUnsafe() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Status:     s.status,
		Enabled:    slices.Clone(s.snapshot),
		Candidates: slices.Clone(s.candidates),
		Disabled:   slices.Clone(s.disabled),
		Rounds:     s.rounds,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	if s.status == StatusIsolated && len(s.candidates) == 1 {
		snap.Suspect = s.candidates[0]
	}
	if s.status == StatusActive {
		snap.Front = planHalf(s.candidates, Front)
		snap.Back = planHalf(s.candidates, Back)
	}
	return snap
}

// Plan returns the packages the next round would disable for half
func (s *Session) Plan(half Half) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return planHalf(s.candidates, half)
}

// planHalf splits at floor(n/2); both halves have exactly that many members
func planHalf(candidates []string, half Half) []string {
	h := len(candidates) / 2
	if half == Back {
		return slices.Clone(candidates[len(candidates)-h:])
	}
	return slices.Clone(candidates[:h])
}

// Bisect disables one half of the candidates. The packages still enabled
// afterwards become the new candidates.
func (s *Session) Bisect(ctx context.Context, half Half) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return s.snapshotUnsafe(), err
	}
	if half != Front && half != Back {
		_, err := ParseHalf(string(half))
		return s.snapshotUnsafe(), err
	}

	victims := planHalf(s.candidates, half)
	if _, err := s.isolator.toggler.DisableMany(ctx, victims); err != nil {
		return s.snapshotUnsafe(), err
	}
	s.rounds++
	s.isolator.metrics.ObserveBisectRound()

	enabled := s.isolator.toggler.Enabled()
	var remaining []string
	for _, name := range s.candidates {
		if slices.Contains(victims, name) {
			continue
		}
		if slices.Contains(enabled, name) {
			remaining = append(remaining, name)
		}
	}
	for _, name := range victims {
		if !slices.Contains(enabled, name) {
			s.disabled = append(s.disabled, name)
		}
	}
	s.candidates = remaining

	switch len(remaining) {
	case 0:
		s.finish(StatusExhausted)
	case 1:
		s.finish(StatusIsolated)
	}

	log.Info().Str("session", s.id).Str("half", string(half)).Int("round", s.rounds).
		Strs("disabled", victims).Int("remaining", len(remaining)).Msg("Bisection round")
	return s.snapshotUnsafe(), nil
}

// DisableAll disables every remaining candidate and ends the session
func (s *Session) DisableAll(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return s.snapshotUnsafe(), err
	}

	if _, err := s.isolator.toggler.DisableMany(ctx, s.candidates); err != nil {
		return s.snapshotUnsafe(), err
	}
	s.disabled = append(s.disabled, s.candidates...)
	s.candidates = nil
	s.finish(StatusDisabled)

	log.Info().Str("session", s.id).Msg("Bisection ended with everything disabled")
	return s.snapshotUnsafe(), nil
}

// Cancel restores the enabled set captured at start and ends the session.
// A session that isolated a suspect can still be cancelled to undo its rounds.
func (s *Session) Cancel(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusCancelled {
		return s.snapshotUnsafe(), domain.NewAppError(domain.ErrBisectInactive, "bisection session already cancelled", 409,
			map[string]any{"session": s.id})
	}

	if _, err := s.isolator.toggler.RestoreEnabled(ctx, s.snapshot); err != nil {
		return s.snapshotUnsafe(), err
	}
	s.candidates = slices.Clone(s.snapshot)
	slices.Sort(s.candidates)
	s.disabled = nil
	s.finish(StatusCancelled)

	log.Info().Str("session", s.id).Int("restored", len(s.snapshot)).Msg("Bisection cancelled")
	return s.snapshotUnsafe(), nil
}

func (s *Session) checkActive() error {
	if s.status.Finished() {
		return domain.NewAppError(domain.ErrBisectInactive, "bisection session has finished", 409,
			map[string]any{"session": s.id, "status": s.status})
	}
	return nil
}

func (s *Session) finish(status Status) {
	s.status = status
	s.finishedAt = s.isolator.now()
}

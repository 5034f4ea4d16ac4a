package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// PriorityFile is the on-disk layout of the priority store
type PriorityFile struct {
	Version   string                          `json:"version"`
	UpdatedAt time.Time                       `json:"updated_at"`
	Orders    map[string]domain.PriorityOrder `json:"orders"`
}

// PriorityStore persists priority orders keyed by the sorted member names of
// their conflict group
type PriorityStore struct {
	mu       sync.RWMutex
	filePath string
	orders   map[string]domain.PriorityOrder
	loadedAt time.Time
}

// NewPriorityStore creates a store backed by the given JSON file
func NewPriorityStore(filePath string) *PriorityStore {
	return &PriorityStore{
		filePath: filePath,
		orders:   make(map[string]domain.PriorityOrder),
	}
}

// Load reads the priority file. A missing file is an empty store.
// The original flat layout {key: [names]} is accepted as well.
func (s *PriorityStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.NewAppError(domain.ErrTimeout, "Priority load operation cancelled", 408, nil)
	default:
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.orders = make(map[string]domain.PriorityOrder)
			s.loadedAt = time.Now()
			return nil
		}
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to read priority file", 500, err, nil)
	}

	orders, err := decodePriorities(data)
	if err != nil {
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to parse priority file", 500, err, nil)
	}

	s.orders = make(map[string]domain.PriorityOrder, len(orders))
	for _, order := range orders {
		if len(order) < 2 {
			continue
		}
		// re-key from the members so a hand-edited key cannot disagree with its order
		s.orders[order.Key()] = order
	}
	s.loadedAt = time.Now()

	log.Debug().Int("orders", len(s.orders)).Str("file", s.filePath).Msg("Priority orders loaded")
	return nil
}

func decodePriorities(data []byte) (map[string]domain.PriorityOrder, error) {
	var file PriorityFile
	if err := json.Unmarshal(data, &file); err == nil && file.Orders != nil {
		return file.Orders, nil
	}

	var flat map[string]domain.PriorityOrder
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// saveUnsafe performs the save without acquiring locks (caller must hold lock)
func (s *PriorityStore) saveUnsafe() error {
	file := PriorityFile{
		Version:   "1.0",
		UpdatedAt: time.Now(),
		Orders:    s.orders,
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

// validateOrder checks that an order can be stored
func validateOrder(order domain.PriorityOrder) error {
	if len(order) < 2 {
		return domain.NewAppError(domain.ErrValidationFailed, "priority order needs at least two packages", 422,
			map[string]any{"order": order})
	}
	seen := make(map[string]struct{}, len(order))
	for _, name := range order {
		if name == "" || strings.Contains(name, ",") {
			return domain.NewAppError(domain.ErrValidationFailed, "package names in a priority order must be non-empty and contain no commas", 422,
				map[string]any{"name": name})
		}
		if _, dup := seen[name]; dup {
			return domain.NewAppError(domain.ErrValidationFailed, "priority order lists a package twice", 422,
				map[string]any{"name": name})
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Save stores order under its group key, replacing any previous order for that group
func (s *PriorityStore) Save(ctx context.Context, order domain.PriorityOrder) error {
	if err := validateOrder(order); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := order.Key()
	previous, existed := s.orders[key]
	s.orders[key] = slices.Clone(order)

	if err := s.saveUnsafe(); err != nil {
		if existed {
			s.orders[key] = previous
		} else {
			delete(s.orders, key)
		}
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to persist priority order", 500, err, nil)
	}

	log.Info().Str("group", key).Strs("order", order).Msg("Priority order saved")
	return nil
}

// Delete removes the order stored under key
func (s *PriorityStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.orders[key]
	if !ok {
		return domain.NewAppError(domain.ErrNotFound, "priority order not found", 404, map[string]any{"key": key})
	}
	delete(s.orders, key)

	if err := s.saveUnsafe(); err != nil {
		s.orders[key] = previous
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to persist priority orders", 500, err, nil)
	}
	return nil
}

// Forget removes a package from every stored order. Orders left with fewer
// than two members are dropped; when removal makes two orders cover the same
// group, the order already stored for that group wins.
func (s *PriorityStore) Forget(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	next := make(map[string]domain.PriorityOrder, len(s.orders))
	keys := s.sortedKeysUnsafe()

	for _, key := range keys {
		order := s.orders[key]
		if !order.Contains(name) {
			next[key] = order
		}
	}
	for _, key := range keys {
		order := s.orders[key]
		if !order.Contains(name) {
			continue
		}
		changed = true
		trimmed := slices.DeleteFunc(slices.Clone(order), func(n string) bool { return n == name })
		if len(trimmed) < 2 {
			continue
		}
		if _, exists := next[trimmed.Key()]; !exists {
			next[trimmed.Key()] = trimmed
		}
	}

	if !changed {
		return nil
	}

	previous := s.orders
	s.orders = next
	if err := s.saveUnsafe(); err != nil {
		s.orders = previous
		return domain.NewAppErrorWithCause(domain.ErrStorage, "Failed to persist priority orders", 500, err, nil)
	}
	return nil
}

// Lookup returns the order stored for exactly this member set
func (s *PriorityStore) Lookup(members []string) (domain.PriorityOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[domain.GroupKey(members)]
	if !ok {
		return nil, false
	}
	return slices.Clone(order), true
}

// Resolve proposes an order for candidate joining conflicting.
//
// An order stored for exactly {candidate} ∪ conflicting is returned verbatim.
// Otherwise the stored order sharing the most members with conflicting (at
// least two) is reused: candidate first, then those shared members in their
// stored sequence, then the remaining conflicting packages in input order.
// Ties go to the smallest key.
func (s *PriorityStore) Resolve(candidate string, conflicting []string) (domain.PriorityOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := append([]string{candidate}, conflicting...)
	if order, ok := s.orders[domain.GroupKey(members)]; ok {
		return slices.Clone(order), true
	}

	others := make(map[string]struct{}, len(conflicting))
	for _, name := range conflicting {
		if name != candidate {
			others[name] = struct{}{}
		}
	}

	bestKey, bestCount := "", 0
	for _, key := range s.sortedKeysUnsafe() {
		count := 0
		for _, name := range s.orders[key] {
			if _, ok := others[name]; ok {
				count++
			}
		}
		if count > bestCount {
			bestKey, bestCount = key, count
		}
	}
	if bestCount < 2 {
		return nil, false
	}

	order := domain.PriorityOrder{candidate}
	for _, name := range s.orders[bestKey] {
		if _, ok := others[name]; ok && !order.Contains(name) {
			order = append(order, name)
		}
	}
	for _, name := range conflicting {
		if name != candidate && !order.Contains(name) {
			order = append(order, name)
		}
	}
	return order, true
}

// Groups returns every stored order sorted by key
func (s *PriorityStore) Groups() []domain.ConflictGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]domain.ConflictGroup, 0, len(s.orders))
	for _, key := range s.sortedKeysUnsafe() {
		groups = append(groups, toGroup(key, s.orders[key]))
	}
	return groups
}

// GroupsContaining returns the stored orders that include name, sorted by key
func (s *PriorityStore) GroupsContaining(name string) []domain.ConflictGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []domain.ConflictGroup
	for _, key := range s.sortedKeysUnsafe() {
		if order := s.orders[key]; order.Contains(name) {
			groups = append(groups, toGroup(key, order))
		}
	}
	return groups
}

func toGroup(key string, order domain.PriorityOrder) domain.ConflictGroup {
	return domain.ConflictGroup{
		Key:     key,
		Members: domain.SplitKey(key),
		Order:   slices.Clone(order),
	}
}

func (s *PriorityStore) sortedKeysUnsafe() []string {
	keys := make([]string, 0, len(s.orders))
	for key := range s.orders {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// HealthCheck verifies the priority file location is writable
func (s *PriorityStore) HealthCheck(ctx context.Context) domain.HealthStatus {
	s.mu.RLock()
	count := len(s.orders)
	loadedAt := s.loadedAt
	s.mu.RUnlock()

	status := domain.HealthStatus{
		Status:    domain.HealthStatusHealthy,
		Message:   "Priority store is operating normally",
		Timestamp: time.Now(),
		Details: map[string]any{
			"orders":    count,
			"file":      s.filePath,
			"loaded_at": loadedAt,
		},
	}

	dir := filepath.Dir(s.filePath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		status.Status = domain.HealthStatusUnhealthy
		status.Message = fmt.Sprintf("Priority directory %s is not accessible", dir)
	}
	return status
}

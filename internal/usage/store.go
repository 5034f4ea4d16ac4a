// Package usage keeps the enable/disable history of packages in SQLite.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// timeLayout is fixed-width so created_at sorts chronologically as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements domain.UsageRecorder on a SQLite database
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (and initializes) the usage database at dbPath.
// Use ":memory:" for an in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create usage schema: %w", err)
	}

	return &Store{db: db, path: dbPath, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record appends one event. A zero CreatedAt is set to now.
func (s *Store) Record(ctx context.Context, event domain.UsageEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (package, action, strategy, outcome, written, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.Package,
		string(event.Action),
		string(event.Strategy),
		string(event.Outcome),
		event.Written,
		event.Failed,
		event.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record usage of %s: %w", event.Package, err)
	}

	log.Debug().Str("package", event.Package).Str("action", string(event.Action)).Msg("Usage recorded")
	return nil
}

// Recent returns the newest events first, at most limit (all when limit <= 0).
// A non-empty pkg filters to that package.
func (s *Store) Recent(ctx context.Context, pkg string, limit int) ([]domain.UsageEvent, error) {
	query := `
		SELECT id, package, action, strategy, outcome, written, failed, created_at
		FROM usage_events
	`
	var args []any
	if pkg != "" {
		query += " WHERE package = ?"
		args = append(args, pkg)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []domain.UsageEvent
	for rows.Next() {
		var (
			ev                        domain.UsageEvent
			action, strategy, outcome string
			createdAt                 string
		)
		if err := rows.Scan(&ev.ID, &ev.Package, &action, &strategy, &outcome, &ev.Written, &ev.Failed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		ev.Action = domain.UsageAction(action)
		ev.Strategy = domain.Strategy(strategy)
		ev.Outcome = domain.Outcome(outcome)
		ev.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at of event %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summaries aggregates enable and disable counts per package, most recently used first
func (s *Store) Summaries(ctx context.Context) ([]domain.UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT package,
		       SUM(CASE WHEN action = 'enable' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN action = 'disable' THEN 1 ELSE 0 END),
		       MAX(created_at)
		FROM usage_events
		GROUP BY package
		ORDER BY MAX(created_at) DESC, package
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	var summaries []domain.UsageSummary
	for rows.Next() {
		var (
			sum      domain.UsageSummary
			lastUsed string
		)
		if err := rows.Scan(&sum.Package, &sum.Enables, &sum.Disables, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		sum.LastUsed, err = time.Parse(timeLayout, lastUsed)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last use of %s: %w", sum.Package, err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Forget deletes the history of a package
func (s *Store) Forget(ctx context.Context, pkg string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM usage_events WHERE package = ?", pkg); err != nil {
		return fmt.Errorf("failed to delete usage of %s: %w", pkg, err)
	}
	return nil
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) domain.HealthStatus {
	status := domain.HealthStatus{
		Status:    domain.HealthStatusHealthy,
		Message:   "Usage database is reachable",
		Timestamp: time.Now(),
		Details:   map[string]any{"path": s.path},
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage_events").Scan(&count); err != nil {
		status.Status = domain.HealthStatusUnhealthy
		status.Message = "Usage database query failed"
		status.Details["error"] = err.Error()
		return status
	}
	status.Details["events"] = count
	return status
}

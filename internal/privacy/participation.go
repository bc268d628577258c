package privacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/onnwee/geoprivacy/internal/tracing"
)

// ErrParticipationUnavailable is returned when the participation lookup is
// short-circuited by an open breaker.
var ErrParticipationUnavailable = errors.New("task participation lookup unavailable")

// ParticipationChecker reports how many active tasks two users share.
type ParticipationChecker interface {
	CountSharedActiveTasks(ctx context.Context, requesterID, targetID string) (int, error)
}

// PostgresParticipationRepository counts shared active tasks in the tasks table.
type PostgresParticipationRepository struct {
	db *sql.DB
}

// NewPostgresParticipationRepository creates a new PostgresParticipationRepository.
func NewPostgresParticipationRepository(db *sql.DB) *PostgresParticipationRepository {
	return &PostgresParticipationRepository{db: db}
}

// CountSharedActiveTasks counts assigned or in-progress tasks on which the two
// users are client and tasker, in either role.
func (r *PostgresParticipationRepository) CountSharedActiveTasks(ctx context.Context, requesterID, targetID string) (_ int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "tasks", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT COUNT(*)
		FROM tasks
		WHERE status IN ('assigned', 'in_progress')
		  AND ((client_id = $1 AND tasker_id = $2)
		    OR (client_id = $2 AND tasker_id = $1))
	`

	var count int
	if err = r.db.QueryRowContext(ctx, query, requesterID, targetID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count shared tasks: %w", err)
	}
	return count, nil
}

// BreakerConfig configures BreakerParticipationChecker.
type BreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string
	// MaxRequests allowed in half-open state. Default: 1
	MaxRequests uint32
	// Timeout is the open period before probing again. Default: 30 seconds
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker. Default: 5
	ConsecutiveFailures uint32
	// Logger for state changes.
	Logger *slog.Logger
}

// BreakerParticipationChecker guards a ParticipationChecker with a circuit breaker
// so a failing task store is not hammered by disclosure traffic.
type BreakerParticipationChecker struct {
	next    ParticipationChecker
	breaker *gobreaker.CircuitBreaker[int]
}

// NewBreakerParticipationChecker wraps next with a circuit breaker.
func NewBreakerParticipationChecker(next ParticipationChecker, cfg BreakerConfig) *BreakerParticipationChecker {
	if cfg.Name == "" {
		cfg.Name = "task_participation"
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	threshold := cfg.ConsecutiveFailures
	logger := cfg.Logger
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the store's health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("participation breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &BreakerParticipationChecker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[int](settings),
	}
}

// CountSharedActiveTasks delegates through the breaker.
func (b *BreakerParticipationChecker) CountSharedActiveTasks(ctx context.Context, requesterID, targetID string) (int, error) {
	count, err := b.breaker.Execute(func() (int, error) {
		return b.next.CountSharedActiveTasks(ctx, requesterID, targetID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, ErrParticipationUnavailable
	}
	return count, err
}

// State returns the breaker state.
func (b *BreakerParticipationChecker) State() gobreaker.State {
	return b.breaker.State()
}

// InMemoryParticipation implements ParticipationChecker for tests.
type InMemoryParticipation struct {
	mu     sync.RWMutex
	counts map[[2]string]int
	err    error
	calls  int
}

// NewInMemoryParticipation creates an empty participation table.
func NewInMemoryParticipation() *InMemoryParticipation {
	return &InMemoryParticipation{counts: make(map[[2]string]int)}
}

// AddSharedTask records an active task shared by the two users.
func (p *InMemoryParticipation) AddSharedTask(a, b string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[pairKey(a, b)]++
}

// SetError makes every lookup fail with err (nil clears it).
func (p *InMemoryParticipation) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns the number of lookups performed.
func (p *InMemoryParticipation) Calls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls
}

// CountSharedActiveTasks returns the recorded count for the pair.
func (p *InMemoryParticipation) CountSharedActiveTasks(ctx context.Context, requesterID, targetID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	return p.counts[pairKey(requesterID, targetID)], nil
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

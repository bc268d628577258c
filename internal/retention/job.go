package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/geoprivacy/internal/tracing"
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// JobType is the label reported to JobMetrics.
const JobType = "location_retention"

// DefaultJobInterval is the default interval between retention cycles.
const DefaultJobInterval = time.Hour

// DefaultJobTimeout is the default timeout for a single retention cycle.
const DefaultJobTimeout = 10 * time.Minute

// DefaultJobConcurrency is the default number of users processed at once.
const DefaultJobConcurrency = 4

// JobConfig configures the retention job.
type JobConfig struct {
	// Interval is the duration between cycles.
	Interval time.Duration
	// Timeout for each cycle.
	Timeout time.Duration
	// Concurrency bounds the users processed in parallel.
	Concurrency int
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for cycle tracking. Optional.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking. Optional.
	JobMetrics JobMetrics
}

// CycleResult summarizes one pass over every user with history.
type CycleResult struct {
	Users                 int
	Failed                int
	RoutePointsDeleted    int64
	GeofenceEventsDeleted int64
	RoutePointsAnonymized int64
}

// Job periodically enforces retention for every user that has history.
type Job struct {
	config  JobConfig
	manager *Manager
	repo    HistoryRepository

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJob creates a retention job.
func NewJob(config JobConfig, manager *Manager, repo HistoryRepository) *Job {
	if config.Interval <= 0 {
		config.Interval = DefaultJobInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultJobTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultJobConcurrency
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Job{
		config:  config,
		manager: manager,
		repo:    repo,
	}
}

// Start begins the periodic job.
// Returns immediately; the job runs in a background goroutine.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for the current cycle to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("retention job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("retention job stopping due to stop signal")
			return
		case <-ticker.C:
			if _, err := j.RunNow(ctx); err != nil {
				j.config.Logger.Error("retention cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunNow runs one retention cycle synchronously. Per-user failures are
// counted in the result and do not stop other users from being processed;
// the returned error reports listing failures and cycle timeouts.
func (j *Job) RunNow(parentCtx context.Context) (_ CycleResult, err error) {
	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	ctx, endSpan := tracing.StartSpan(ctx, "retention.cycle", attribute.Int("concurrency", j.config.Concurrency))
	defer func() { endSpan(err) }()

	start := time.Now()
	var result CycleResult

	users, err := j.repo.ListUsersWithHistory(ctx)
	if err != nil {
		j.finish(start, "failure", "list_error", result)
		return result, fmt.Errorf("failed to list users with history: %w", err)
	}
	result.Users = len(users)

	j.config.Logger.Info("enforcing location retention", "user_count", len(users))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(j.config.Concurrency)

	for _, userID := range users {
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return nil
			}

			cleaned, cleanupErr := j.manager.Cleanup(ctx, userID)
			anonymized, anonErr := j.manager.AnonymizeOld(ctx, userID)

			mu.Lock()
			defer mu.Unlock()
			result.RoutePointsDeleted += cleaned.RoutePointsDeleted
			result.GeofenceEventsDeleted += cleaned.GeofenceEventsDeleted
			result.RoutePointsAnonymized += anonymized
			if cleanupErr != nil || anonErr != nil {
				result.Failed++
				if j.config.JobMetrics != nil {
					j.config.JobMetrics.IncJobErrors(JobType, "user_error")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err = ctx.Err(); err != nil {
		j.config.Logger.Error("retention cycle timeout exceeded",
			"total", result.Users,
			"failed", result.Failed,
			"timeout", j.config.Timeout)
		j.finish(start, "failure", "timeout", result)
		return result, fmt.Errorf("retention cycle interrupted: %w", err)
	}

	status := "success"
	if result.Failed > 0 {
		status = "failure"
	}
	j.finish(start, status, "", result)

	j.config.Logger.Info("location retention enforced",
		"users", result.Users,
		"failed", result.Failed,
		"route_points_deleted", result.RoutePointsDeleted,
		"geofence_events_deleted", result.GeofenceEventsDeleted,
		"route_points_anonymized", result.RoutePointsAnonymized,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (j *Job) finish(start time.Time, status, errorType string, result CycleResult) {
	duration := time.Since(start).Seconds()
	j.config.Metrics.SetLastCycle(float64(time.Now().Unix()), result.Users)
	if j.config.JobMetrics == nil {
		return
	}
	if errorType != "" {
		j.config.JobMetrics.IncJobErrors(JobType, errorType)
	}
	j.config.JobMetrics.IncJobsTotal(JobType, status)
	j.config.JobMetrics.ObserveJobDuration(JobType, duration)
}

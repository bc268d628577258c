package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/geoprivacy/internal/privacy"
)

var errBoom = errors.New("boom")

var fixedNow = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// settingsMap serves per-user settings, falling back to defaults.
type settingsMap struct {
	mu       sync.Mutex
	settings map[string]privacy.Settings
	failFor  map[string]error
}

func newSettingsMap() *settingsMap {
	return &settingsMap{
		settings: make(map[string]privacy.Settings),
		failFor:  make(map[string]error),
	}
}

func (s *settingsMap) set(userID string, mutate func(*privacy.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := privacy.DefaultSettings()
	mutate(&settings)
	s.settings[userID] = settings
}

func (s *settingsMap) fail(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[userID] = err
}

func (s *settingsMap) Get(ctx context.Context, userID string) (privacy.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[userID]; ok {
		return privacy.Settings{}, err
	}
	if settings, ok := s.settings[userID]; ok {
		return settings, nil
	}
	return privacy.DefaultSettings(), nil
}

func newTestManager(settings privacy.SettingsGetter, repo HistoryRepository) *Manager {
	return NewManager(settings, repo, ManagerConfig{
		Logger:          newTestLogger(),
		Now:             func() time.Time { return fixedNow },
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
}

// recordingJobMetrics captures JobMetrics calls.
type recordingJobMetrics struct {
	mu        sync.Mutex
	totals    map[string]int
	errors    map[string]int
	durations int
}

func newRecordingJobMetrics() *recordingJobMetrics {
	return &recordingJobMetrics{
		totals: make(map[string]int),
		errors: make(map[string]int),
	}
}

func (r *recordingJobMetrics) IncJobsTotal(jobType, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals[jobType+"/"+status]++
}

func (r *recordingJobMetrics) ObserveJobDuration(jobType string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations++
}

func (r *recordingJobMetrics) IncJobErrors(jobType, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[jobType+"/"+errorType]++
}

func (r *recordingJobMetrics) total(status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[JobType+"/"+status]
}

func (r *recordingJobMetrics) errorCount(errorType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[JobType+"/"+errorType]
}

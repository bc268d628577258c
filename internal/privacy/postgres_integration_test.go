//go:build integration

package privacy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/geoprivacy/internal/privacy"
	"github.com/onnwee/geoprivacy/internal/testutil/pgtest"
)

func TestPostgresSettingsRepository(t *testing.T) {
	pg := pgtest.New(t)
	repo := privacy.NewPostgresSettingsRepository(pg.DB, nil)
	ctx := context.Background()

	t.Run("missing row", func(t *testing.T) {
		_, err := repo.GetSettings(ctx, "nobody")
		if !errors.Is(err, privacy.ErrSettingsNotFound) {
			t.Fatalf("GetSettings() error = %v, want ErrSettingsNotFound", err)
		}
	})

	t.Run("upsert then read", func(t *testing.T) {
		want := privacy.DefaultSettings()
		want.PrecisionLevel = privacy.PrecisionCity
		want.ShareWithClients = false
		want.ShareHistoryDuration = 3
		want.UpdatedAt = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

		if err := repo.UpsertSettings(ctx, "user-1", want); err != nil {
			t.Fatalf("UpsertSettings() error = %v", err)
		}

		got, err := repo.GetSettings(ctx, "user-1")
		if err != nil {
			t.Fatalf("GetSettings() error = %v", err)
		}
		if !got.UpdatedAt.Equal(want.UpdatedAt) {
			t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
		}
		got.UpdatedAt = want.UpdatedAt
		if got != want {
			t.Errorf("GetSettings() = %+v, want %+v", got, want)
		}
	})

	t.Run("upsert replaces row", func(t *testing.T) {
		s := privacy.DefaultSettings()
		s.LocationSharingEnabled = false
		s.UpdatedAt = time.Now().UTC()
		if err := repo.UpsertSettings(ctx, "user-1", s); err != nil {
			t.Fatalf("UpsertSettings() error = %v", err)
		}

		got, err := repo.GetSettings(ctx, "user-1")
		if err != nil {
			t.Fatalf("GetSettings() error = %v", err)
		}
		if got.LocationSharingEnabled || got.PrecisionLevel != privacy.PrecisionApproximate {
			t.Errorf("row not replaced: %+v", got)
		}
	})
}

func TestPostgresParticipationRepository(t *testing.T) {
	pg := pgtest.New(t)
	repo := privacy.NewPostgresParticipationRepository(pg.DB)
	ctx := context.Background()

	seed := []struct {
		client, tasker, status string
	}{
		{"client-a", "tasker-b", "in_progress"},
		{"client-a", "tasker-b", "assigned"},
		{"client-a", "tasker-b", "completed"},
		{"client-c", "tasker-d", "cancelled"},
		{"client-e", "tasker-f", "open"},
	}
	for _, s := range seed {
		if _, err := pg.DB.ExecContext(ctx,
			`INSERT INTO tasks (client_id, tasker_id, status) VALUES ($1, $2, $3)`,
			s.client, s.tasker, s.status); err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}

	tests := []struct {
		name      string
		requester string
		target    string
		want      int
	}{
		{"client asks tasker", "client-a", "tasker-b", 2},
		{"tasker asks client", "tasker-b", "client-a", 2},
		{"only inactive tasks", "client-c", "tasker-d", 0},
		{"open task", "client-e", "tasker-f", 0},
		{"strangers", "client-a", "tasker-d", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.CountSharedActiveTasks(ctx, tt.requester, tt.target)
			if err != nil {
				t.Fatalf("CountSharedActiveTasks() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CountSharedActiveTasks() = %d, want %d", got, tt.want)
			}
		})
	}
}

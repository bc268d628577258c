package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/geoprivacy/internal/db"
	"github.com/onnwee/geoprivacy/internal/jobs"
	"github.com/onnwee/geoprivacy/internal/retention"
	"github.com/onnwee/geoprivacy/migrations"
)

// Target selection errors.
var (
	ErrNoTarget        = errors.New("one of --user or --all is required")
	ErrAmbiguousTarget = errors.New("--user and --all are mutually exclusive")
)

// userLister is the part of the history repository used to expand --all.
type userLister interface {
	ListUsersWithHistory(ctx context.Context) ([]string, error)
}

// resolveTargets returns the users a maintenance command applies to.
func resolveTargets(ctx context.Context, lister userLister, user string, all bool) ([]string, error) {
	switch {
	case user != "" && all:
		return nil, ErrAmbiguousTarget
	case user != "":
		return []string{user}, nil
	case all:
		return lister.ListUsersWithHistory(ctx)
	default:
		return nil, ErrNoTarget
	}
}

// forEachUser runs fn for every target, continuing past failures and
// returning them joined.
func forEachUser(ctx context.Context, users []string, logger *slog.Logger, fn func(ctx context.Context, userID string) error) error {
	var errs []error
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := fn(ctx, userID); err != nil {
			logger.Error("maintenance failed for user",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), cfg.DatabaseURL, db.DefaultPoolConfig())
			if err != nil {
				return err
			}
			defer conn.Close()

			applied, err := db.Migrate(cmd.Context(), conn, migrations.FS, slog.Default())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
}

func newCleanupCmd(configPath *string) *cobra.Command {
	var (
		user string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete route points and geofence events past the user's history window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			users, err := resolveTargets(cmd.Context(), a.history, user, all)
			if err != nil {
				return err
			}
			return runCleanup(cmd.Context(), cmd.OutOrStdout(), a.retention, a.jobMetrics, a.logger, users)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID to clean up")
	cmd.Flags().BoolVar(&all, "all", false, "clean up every user with stored history")
	return cmd
}

func runCleanup(ctx context.Context, out io.Writer, manager *retention.Manager, metrics *jobs.Metrics, logger *slog.Logger, users []string) error {
	start := time.Now()
	var total retention.CleanupResult

	err := forEachUser(ctx, users, logger, func(ctx context.Context, userID string) error {
		result, err := manager.Cleanup(ctx, userID)
		total.RoutePointsDeleted += result.RoutePointsDeleted
		total.GeofenceEventsDeleted += result.GeofenceEventsDeleted
		return err
	})
	metrics.Track(jobs.JobTypeRetentionCleanup, start, jobs.ErrorTypeUser, err)

	fmt.Fprintf(out, "users=%d route_points_deleted=%d geofence_events_deleted=%d\n",
		len(users), total.RoutePointsDeleted, total.GeofenceEventsDeleted)
	return err
}

func newAnonymizeCmd(configPath *string) *cobra.Command {
	var (
		user string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Degrade route points older than the user's anonymize window to approximate precision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			users, err := resolveTargets(cmd.Context(), a.history, user, all)
			if err != nil {
				return err
			}
			return runAnonymize(cmd.Context(), cmd.OutOrStdout(), a.retention, a.jobMetrics, a.logger, users)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID to anonymize")
	cmd.Flags().BoolVar(&all, "all", false, "anonymize every user with stored history")
	return cmd
}

func runAnonymize(ctx context.Context, out io.Writer, manager *retention.Manager, metrics *jobs.Metrics, logger *slog.Logger, users []string) error {
	start := time.Now()
	var total int64

	err := forEachUser(ctx, users, logger, func(ctx context.Context, userID string) error {
		n, err := manager.AnonymizeOld(ctx, userID)
		total += n
		return err
	})
	metrics.Track(jobs.JobTypeRetentionAnonymize, start, jobs.ErrorTypeUser, err)

	fmt.Fprintf(out, "users=%d route_points_anonymized=%d\n", len(users), total)
	return err
}

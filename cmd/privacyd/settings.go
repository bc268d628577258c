package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/onnwee/geoprivacy/internal/privacy"
)

func newSettingsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change a user's location privacy settings",
	}
	cmd.AddCommand(newSettingsShowCmd(configPath), newSettingsSetCmd(configPath))
	return cmd
}

func newSettingsShowCmd(configPath *string) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings, falling back to defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			settings, err := a.settings.Get(cmd.Context(), user)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), settings)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSettingsSetCmd(configPath *string) *cobra.Command {
	var (
		user      string
		sharing   bool
		precision string
		taskers   bool
		clients   bool
		history   int
		anonymize int
		emergency bool
		geofence  bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the given fields, keeping every other field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			update := privacy.SettingsUpdate{}
			flags := cmd.Flags()
			if flags.Changed("sharing") {
				update.LocationSharingEnabled = &sharing
			}
			if flags.Changed("precision") {
				level := privacy.PrecisionLevel(precision)
				update.PrecisionLevel = &level
			}
			if flags.Changed("share-with-taskers") {
				update.ShareWithTaskers = &taskers
			}
			if flags.Changed("share-with-clients") {
				update.ShareWithClients = &clients
			}
			if flags.Changed("history-days") {
				update.ShareHistoryDuration = &history
			}
			if flags.Changed("anonymize-after-hours") {
				update.AnonymizeAfterHours = &anonymize
			}
			if flags.Changed("emergency-access") {
				update.AllowEmergencyAccess = &emergency
			}
			if flags.Changed("geofence-notifications") {
				update.GeofenceNotifications = &geofence
			}

			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			settings, err := a.settings.Update(cmd.Context(), user, update)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), settings)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&user, "user", "", "user ID")
	flags.BoolVar(&sharing, "sharing", true, "enable location sharing")
	flags.StringVar(&precision, "precision", "", "exact, approximate, city or disabled")
	flags.BoolVar(&taskers, "share-with-taskers", true, "share with taskers")
	flags.BoolVar(&clients, "share-with-clients", true, "share with clients")
	flags.IntVar(&history, "history-days", 0, "days of route history to keep")
	flags.IntVar(&anonymize, "anonymize-after-hours", 0, "hours before route points are degraded")
	flags.BoolVar(&emergency, "emergency-access", true, "allow emergency access")
	flags.BoolVar(&geofence, "geofence-notifications", true, "send geofence notifications")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

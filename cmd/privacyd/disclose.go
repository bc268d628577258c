package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/geoprivacy/internal/envelope"
	"github.com/onnwee/geoprivacy/internal/geo"
	"github.com/onnwee/geoprivacy/internal/privacy"
)

// discloseOutput is the JSON printed by the disclose command.
type discloseOutput struct {
	Disclosure privacy.Disclosure `json:"disclosure"`
	Sealed     *envelope.Payload  `json:"sealed,omitempty"`
}

func newDiscloseCmd(configPath *string) *cobra.Command {
	var (
		requester string
		target    string
		accessCtx string
		lat, lng  float64
		accuracy  float64
		seal      bool
	)

	cmd := &cobra.Command{
		Use:   "disclose",
		Short: "Show what a requester would see of a target's location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ac, err := privacy.ParseAccessContext(accessCtx)
			if err != nil {
				return err
			}
			point := geo.Point{Latitude: lat, Longitude: lng, Accuracy: accuracy, Timestamp: time.Now().UTC()}
			if err := point.Validate(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			var out discloseOutput
			if seal {
				out.Disclosure, out.Sealed, err = a.discloser.DiscloseSealed(cmd.Context(), requester, target, ac, point)
			} else {
				out.Disclosure, err = a.discloser.Disclose(cmd.Context(), requester, target, ac, point)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&requester, "requester", "", "requesting user ID")
	flags.StringVar(&target, "target", "", "user whose location is disclosed")
	flags.StringVar(&accessCtx, "context", "task", "access context: emergency, task or nearby")
	flags.Float64Var(&lat, "lat", 0, "latitude")
	flags.Float64Var(&lng, "lng", 0, "longitude")
	flags.Float64Var(&accuracy, "accuracy", 0, "reported accuracy in meters")
	flags.BoolVar(&seal, "seal", false, "seal exact disclosures with the target's key")
	_ = cmd.MarkFlagRequired("requester")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newUnsealCmd(configPath *string) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "unseal",
		Short: "Decrypt a sealed location envelope read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			codec, err := envelope.NewCodec([]byte(cfg.LocationEncryptionSecret))
			if err != nil {
				return err
			}
			return unseal(cmd.InOrStdin(), cmd.OutOrStdout(), codec, user)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID the envelope was sealed for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func unseal(in io.Reader, out io.Writer, codec *envelope.Codec, userID string) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}
	point, err := codec.DecryptJSON(userID, data)
	if err != nil {
		return err
	}
	return writeJSON(out, point)
}

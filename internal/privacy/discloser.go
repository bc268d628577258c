package privacy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/geoprivacy/internal/envelope"
	"github.com/onnwee/geoprivacy/internal/geo"
)

// Discloser runs a full disclosure: access check, then precision filtering.
type Discloser struct {
	evaluator *AccessEvaluator
	settings  SettingsGetter
	codec     *envelope.Codec
	logger    *slog.Logger
	metrics   *Metrics
}

// NewDiscloser creates a Discloser. codec may be nil if sealing is not needed.
func NewDiscloser(evaluator *AccessEvaluator, settings SettingsGetter, codec *envelope.Codec, logger *slog.Logger, metrics *Metrics) *Discloser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discloser{
		evaluator: evaluator,
		settings:  settings,
		codec:     codec,
		logger:    logger,
		metrics:   metrics,
	}
}

// Disclose returns the representation of targetID's point that requesterID may see.
// A denied access check returns ErrAccessDenied; settings that refuse disclosure
// return ErrSharingDisabled or ErrPrecisionDisabled.
func (d *Discloser) Disclose(ctx context.Context, requesterID, targetID string, accessCtx AccessContext, point geo.Point) (Disclosure, error) {
	allowed, err := d.evaluator.HasAccess(ctx, requesterID, targetID, accessCtx)
	if err != nil {
		return Disclosure{}, err
	}
	if !allowed {
		d.metrics.IncDisclosure("refused")
		return Disclosure{}, ErrAccessDenied
	}

	settings, err := d.settings.Get(ctx, targetID)
	if err != nil {
		return Disclosure{}, err
	}

	disclosure, err := Filter(point, settings, accessCtx)
	if err != nil {
		if errors.Is(err, ErrSharingDisabled) || errors.Is(err, ErrPrecisionDisabled) {
			d.metrics.IncDisclosure("refused")
		}
		return Disclosure{}, err
	}

	d.metrics.IncDisclosure(representation(disclosure))
	return disclosure, nil
}

// DiscloseSealed is Disclose followed by sealing exact points for storage.
// Anonymized results are returned unsealed with a nil payload.
func (d *Discloser) DiscloseSealed(ctx context.Context, requesterID, targetID string, accessCtx AccessContext, point geo.Point) (Disclosure, *envelope.Payload, error) {
	disclosure, err := d.Disclose(ctx, requesterID, targetID, accessCtx, point)
	if err != nil {
		return Disclosure{}, nil, err
	}
	if !disclosure.IsExact() || d.codec == nil {
		return disclosure, nil, nil
	}

	payload, err := d.codec.Encrypt(targetID, *disclosure.Exact)
	if err != nil {
		d.logger.Error("failed to seal disclosed location",
			slog.String("target_id", targetID),
			slog.String("error", err.Error()))
		return Disclosure{}, nil, err
	}
	return disclosure, &payload, nil
}

func representation(d Disclosure) string {
	switch {
	case d.Exact != nil:
		return string(PrecisionExact)
	case d.Approximate != nil && d.Approximate.AccuracyRadius >= CityRadiusMeters:
		return string(PrecisionCity)
	default:
		return string(PrecisionApproximate)
	}
}

package privacy

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Access decision labels.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionError = "error"
)

// AccessEvaluator decides whether a requester may see a target's location.
type AccessEvaluator struct {
	settings      SettingsGetter
	participation ParticipationChecker
	logger        *slog.Logger
	metrics       *Metrics
}

// NewAccessEvaluator creates an access evaluator.
func NewAccessEvaluator(settings SettingsGetter, participation ParticipationChecker, logger *slog.Logger, metrics *Metrics) *AccessEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessEvaluator{
		settings:      settings,
		participation: participation,
		logger:        logger,
		metrics:       metrics,
	}
}

// HasAccess evaluates the target's settings in a fixed order:
//
//  1. emergency returns AllowEmergencyAccess, ignoring the sharing flag
//  2. sharing disabled denies
//  3. task allows iff the pair shares at least one active task
//  4. nearby returns ShareWithTaskers
//  5. anything else denies
//
// Nearby always consults ShareWithTaskers, including for client requesters.
// Any lookup error denies and is returned alongside false.
func (e *AccessEvaluator) HasAccess(ctx context.Context, requesterID, targetID string, accessCtx AccessContext) (bool, error) {
	ctx, span := tracer.Start(ctx, "privacy.AccessEvaluator.HasAccess")
	defer span.End()
	span.SetAttributes(attribute.String("privacy.access.context", accessCtx.String()))

	allowed, err := e.evaluate(ctx, requesterID, targetID, accessCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "access evaluation failed")
		e.metrics.IncAccessDecision(accessCtx, DecisionError)
		e.logger.Error("location access evaluation failed",
			slog.String("requester_id", requesterID),
			slog.String("target_id", targetID),
			slog.String("context", accessCtx.String()),
			slog.String("error", err.Error()))
		return false, err
	}

	decision := DecisionDeny
	if allowed {
		decision = DecisionAllow
	}
	span.SetAttributes(attribute.String("privacy.access.decision", decision))
	e.metrics.IncAccessDecision(accessCtx, decision)
	e.logger.Debug("location access evaluated",
		slog.String("requester_id", requesterID),
		slog.String("target_id", targetID),
		slog.String("context", accessCtx.String()),
		slog.String("decision", decision))

	return allowed, nil
}

func (e *AccessEvaluator) evaluate(ctx context.Context, requesterID, targetID string, accessCtx AccessContext) (bool, error) {
	settings, err := e.settings.Get(ctx, targetID)
	if err != nil {
		return false, err
	}

	if accessCtx == ContextEmergency {
		return settings.AllowEmergencyAccess, nil
	}

	if !settings.LocationSharingEnabled {
		return false, nil
	}

	switch accessCtx {
	case ContextTask:
		count, err := e.participation.CountSharedActiveTasks(ctx, requesterID, targetID)
		if err != nil {
			return false, fmt.Errorf("failed to check task participation: %w", err)
		}
		return count >= 1, nil
	case ContextNearby:
		return settings.ShareWithTaskers, nil
	default:
		return false, nil
	}
}

package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"stock-price-loader/internal/config"
	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/observability"
)

// unitProvisioner creates one compute unit per trigger event.
type unitProvisioner interface {
	Provision(ctx context.Context, event domain.TriggerEvent) (*domain.ComputeUnit, error)
}

// handler adapts trigger contexts to a provisioner call.
type handler struct {
	provisioner unitProvisioner
	metrics     config.Metrics
	logger      zerolog.Logger
}

// HandleCloudWatchEvent is the Lambda entry point for scheduled EventBridge rules.
func (h *handler) HandleCloudWatchEvent(ctx context.Context, e events.CloudWatchEvent) (*domain.ComputeUnit, error) {
	return h.Handle(ctx, domain.TriggerEvent{ID: e.ID, Timestamp: e.Time})
}

// Handle provisions one unit for event and pushes metrics when configured.
func (h *handler) Handle(ctx context.Context, event domain.TriggerEvent) (*domain.ComputeUnit, error) {
	unit, err := h.provisioner.Provision(ctx, event)
	h.push()
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", event.ID).Time("event_time", event.Timestamp).Msg("provisioning failed")
		return nil, err
	}
	h.logger.Info().
		Str("name", unit.Name).
		Str("instance_id", unit.InstanceID).
		Str("state", unit.State).
		Msg("worker provisioned")
	return unit, nil
}

func (h *handler) push() {
	if h.metrics.PushURL == "" {
		return
	}
	if err := observability.Push(h.metrics.PushURL, h.metrics.Job+"_provisioner", nil); err != nil {
		h.logger.Warn().Err(err).Msg("metrics push failed")
	}
}

package main

import (
	"context"
	"errors"

	"github.com/promo-insight/pkg/analytics"
	"github.com/promo-insight/pkg/logger"
)

// exportableSlots are the slots with their own persisted payload. The price
// optimization slot is derived from the revenue slot and is rebuilt on import.
var exportableSlots = []analytics.Slot{
	analytics.SlotRevenue,
	analytics.SlotPromotionSuccess,
	analytics.SlotTimeSeries,
}

// persistSlots writes every trained slot to the model_bundles table. Untrained
// slots are skipped; a storage failure on one slot does not stop the others.
func (a *app) persistSlots(ctx context.Context) {
	for _, slot := range exportableSlots {
		payload, err := a.engine.ExportSlot(slot)
		if err != nil {
			if errors.Is(err, analytics.ErrUntrainedModel) {
				continue
			}
			logger.Error().Err(err).Str("slot", string(slot)).Msg("Failed to export model slot")
			continue
		}
		if err := a.store.SaveBundle(ctx, string(slot), payload); err != nil {
			logger.Error().Err(err).Str("slot", string(slot)).Msg("Failed to persist model slot")
			continue
		}
		logger.Info().Str("slot", string(slot)).Int("bytes", len(payload)).Msg("Persisted model slot")
	}
}

// restoreSlots loads the latest persisted payload per slot so inference
// survives restarts without retraining. Returns the number of restored slots.
func (a *app) restoreSlots(ctx context.Context) int {
	bundles, err := a.store.LoadLatestBundles(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load persisted model slots")
		return 0
	}

	restored := 0
	for _, slot := range exportableSlots {
		payload, ok := bundles[string(slot)]
		if !ok {
			continue
		}
		if err := a.engine.ImportSlot(payload); err != nil {
			logger.Error().Err(err).Str("slot", string(slot)).Msg("Failed to restore model slot")
			continue
		}
		restored++
		logger.Info().Str("slot", string(slot)).Msg("Restored model slot")
	}
	return restored
}

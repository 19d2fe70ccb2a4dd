package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/metrics"
	"github.com/communalgrid/communalgrid/pkg/tariff"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/communalgrid/communalgrid/pkg/utility"
)

// RateStatus is the active rate along with the schedule it came from.
type RateStatus struct {
	types.Price
	Utility    string               `json:"utility"`
	RatePlan   string               `json:"ratePlan"`
	NextChange *time.Time           `json:"nextChange,omitempty"`
	Warnings   []types.ParseWarning `json:"warnings,omitempty"`
}

// RefreshTariff fetches the configured rate plan, normalizes it and
// installs the new schedule. On failure the previous schedule stays in
// place; when there is none, the last stored document is used instead.
func (c *Coordinator) RefreshTariff(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	settings, err := c.Settings(ctx)
	if err != nil {
		return err
	}
	ctx = log.WithAttrs(ctx, slog.String("ratePlan", settings.RatePlanLabel))

	schedule, raw, err := c.fetchSchedule(ctx, settings)
	if err != nil {
		metrics.TariffRefreshTotal.WithLabelValues("failure").Inc()
		if c.tou.Schedule() != nil {
			log.Ctx(ctx).WarnContext(ctx, "tariff refresh failed, keeping previous schedule", slog.Any("error", err))
			return fmt.Errorf("failed to refresh tariff: %w", err)
		}
		if rerr := c.restoreTariff(ctx); rerr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "no tariff available", slog.Any("error", err), slog.Any("restoreError", rerr))
		} else {
			log.Ctx(ctx).WarnContext(ctx, "tariff refresh failed, using stored schedule", slog.Any("error", err))
		}
		return fmt.Errorf("failed to refresh tariff: %w", err)
	}

	c.install(ctx, schedule)
	metrics.TariffRefreshTotal.WithLabelValues("success").Inc()

	rec := types.TariffRecord{
		Label:     settings.RatePlanLabel,
		UtilityID: settings.UtilityID,
		FetchedAt: c.now(),
		Document:  raw,
	}
	if err := c.storage.SaveTariff(ctx, c.siteID, rec); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to save tariff", slog.Any("error", err))
	}
	if err := c.recordPrices(ctx, schedule); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to record prices", slog.Any("error", err))
	}
	return nil
}

func (c *Coordinator) fetchSchedule(ctx context.Context, settings types.Settings) (*types.Schedule, []byte, error) {
	if settings.RatePlanLabel == "" {
		return nil, nil, ErrNoRatePlan
	}
	loc, err := settings.Location()
	if err != nil {
		return nil, nil, err
	}
	doc, raw, err := c.rates.GetRateSchedule(ctx, settings.RatePlanLabel)
	if err != nil {
		return nil, nil, err
	}
	schedule, err := tariff.Normalize(ctx, doc, c.now().In(loc))
	if err != nil {
		return nil, nil, err
	}
	return schedule, raw, nil
}

// restoreTariff installs the schedule built from the stored document.
func (c *Coordinator) restoreTariff(ctx context.Context) error {
	rec, err := c.storage.GetTariff(ctx, c.siteID)
	if err != nil {
		return err
	}
	settings, err := c.Settings(ctx)
	if err != nil {
		return err
	}
	loc, err := settings.Location()
	if err != nil {
		return err
	}
	doc, err := tariff.DecodeBytes(rec.Document)
	if err != nil {
		return fmt.Errorf("failed to decode stored tariff: %w", err)
	}
	schedule, err := tariff.Normalize(ctx, doc, c.now().In(loc))
	if err != nil {
		return fmt.Errorf("failed to normalize stored tariff: %w", err)
	}
	c.install(ctx, schedule)
	log.Ctx(ctx).InfoContext(
		ctx,
		"restored stored tariff",
		slog.String("label", rec.Label),
		slog.Time("fetchedAt", rec.FetchedAt),
	)
	return nil
}

func (c *Coordinator) install(ctx context.Context, s *types.Schedule) {
	c.tou.Swap(s)
	metrics.ScheduleWarnings.Set(float64(len(s.Warnings)))
	log.Ctx(ctx).InfoContext(
		ctx,
		"installed rate schedule",
		slog.String("utility", s.Utility),
		slog.String("ratePlan", s.RatePlan),
		slog.Int("tiers", len(s.Tiers)),
		slog.Int("seasons", len(s.Seasons)),
		slog.Int("warnings", len(s.Warnings)),
	)
}

// recordPrices stores the hourly prices from the start of today through
// tomorrow so the history reflects the schedule that was in effect.
func (c *Coordinator) recordPrices(ctx context.Context, s *types.Schedule) error {
	now := c.now()
	if s.Location != nil {
		now = now.In(s.Location)
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	prices, err := c.tou.GetConfirmedPrices(ctx, start, start.AddDate(0, 0, 2))
	if err != nil {
		return err
	}
	return c.storage.UpsertPrices(ctx, c.siteID, prices)
}

// CurrentRate resolves the rate active now.
func (c *Coordinator) CurrentRate(ctx context.Context) (RateStatus, error) {
	s := c.tou.Schedule()
	if s == nil {
		return RateStatus{}, utility.ErrNoSchedule
	}
	now := c.now()
	p := tariff.Resolve(s, now)
	p.Provider = utility.TOUProviderName
	status := RateStatus{
		Price:    p,
		Utility:  s.Utility,
		RatePlan: s.RatePlan,
		Warnings: s.Warnings,
	}
	if next, ok := tariff.NextChange(s, now); ok {
		status.NextChange = &next
	}
	return status, nil
}

// Forecast returns the hourly prices for the next two days.
func (c *Coordinator) Forecast(ctx context.Context) ([]types.Price, error) {
	return c.tou.GetFuturePrices(ctx)
}

// PriceHistory returns the recorded prices in [start, end).
func (c *Coordinator) PriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	return c.storage.GetPriceHistory(ctx, c.siteID, start, end)
}

// RatePlans lists the plans published for the utility.
func (c *Coordinator) RatePlans(ctx context.Context, utilityID string) ([]types.RatePlanInfo, error) {
	if utilityID == "" {
		settings, err := c.Settings(ctx)
		if err != nil {
			return nil, err
		}
		utilityID = settings.UtilityID
	}
	if utilityID == "" {
		return nil, ErrNoUtility
	}
	return c.rates.ListRatePlans(ctx, utilityID)
}

// Utilities lists the utilities publishing rates in a state.
func (c *Coordinator) Utilities(ctx context.Context, state string) ([]types.UtilityInfo, error) {
	return c.rates.ListUtilities(ctx, state)
}

// publishRate updates the current rate metric.
func (c *Coordinator) publishRate(ctx context.Context) error {
	p, err := c.tou.GetCurrentPrice(ctx)
	if err != nil {
		if errors.Is(err, utility.ErrNoSchedule) {
			return nil
		}
		return err
	}
	metrics.SetCurrentPrice(p)
	return nil
}

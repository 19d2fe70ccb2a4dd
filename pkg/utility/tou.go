package utility

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/tariff"
	"github.com/communalgrid/communalgrid/pkg/types"
)

// TOUProviderName is the provider recorded on resolved prices.
const TOUProviderName = "tou"

// futureHours is how far ahead GetFuturePrices looks.
const futureHours = 48

// ErrNoSchedule is returned when no rate schedule has been loaded yet.
var ErrNoSchedule = errors.New("no rate schedule loaded")

// TOU implements the Provider interface by resolving prices from a
// normalized rate schedule. The schedule is replaced wholesale with Swap;
// readers always see either the old or the new schedule.
type TOU struct {
	schedule atomic.Pointer[types.Schedule]
	now      func() time.Time
}

// NewTOU returns a provider with no schedule loaded.
func NewTOU() *TOU {
	return &TOU{now: time.Now}
}

// Swap installs s and returns the previously installed schedule, if any.
func (t *TOU) Swap(s *types.Schedule) *types.Schedule {
	return t.schedule.Swap(s)
}

// Schedule returns the installed schedule or nil.
func (t *TOU) Schedule() *types.Schedule {
	return t.schedule.Load()
}

func (t *TOU) load() (*types.Schedule, error) {
	s := t.schedule.Load()
	if s == nil {
		return nil, ErrNoSchedule
	}
	return s, nil
}

// GetCurrentPrice returns the price of the slot containing the current time.
func (t *TOU) GetCurrentPrice(ctx context.Context) (types.Price, error) {
	s, err := t.load()
	if err != nil {
		return types.Price{}, err
	}
	p := tariff.Resolve(s, t.now())
	p.Provider = TOUProviderName
	if p.Warning != "" {
		log.Ctx(ctx).WarnContext(ctx, "resolved price with warning", slog.String("warning", p.Warning), slog.String("season", p.Season))
	}
	return p, nil
}

// GetFuturePrices returns hourly prices for the next 48 hours starting at
// the current hour.
func (t *TOU) GetFuturePrices(ctx context.Context) ([]types.Price, error) {
	s, err := t.load()
	if err != nil {
		return nil, err
	}
	start := t.now().Truncate(time.Hour)
	return withProvider(tariff.Window(s, start, start.Add(futureHours*time.Hour))), nil
}

// GetConfirmedPrices returns hourly prices for [start, end). Prices from a
// published schedule are always confirmed.
func (t *TOU) GetConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	s, err := t.load()
	if err != nil {
		return nil, err
	}
	return withProvider(tariff.Window(s, start, end)), nil
}

// NextChange returns the next time the tier changes.
func (t *TOU) NextChange(ctx context.Context) (time.Time, bool, error) {
	s, err := t.load()
	if err != nil {
		return time.Time{}, false, err
	}
	next, ok := tariff.NextChange(s, t.now())
	return next, ok, nil
}

func withProvider(prices []types.Price) []types.Price {
	for i := range prices {
		prices[i].Provider = TOUProviderName
	}
	return prices
}

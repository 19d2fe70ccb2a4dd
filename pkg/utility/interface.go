package utility

import (
	"context"
	"time"

	"github.com/communalgrid/communalgrid/pkg/tariff"
	"github.com/communalgrid/communalgrid/pkg/types"
)

// Provider defines the interface for resolving energy prices.
type Provider interface {
	// GetCurrentPrice returns the current price of electricity.
	GetCurrentPrice(ctx context.Context) (types.Price, error)

	// GetFuturePrices returns a list of future prices.
	GetFuturePrices(ctx context.Context) ([]types.Price, error)

	// GetConfirmedPrices returns confirmed prices for a specific time range.
	// This should be used for syncing historical data.
	GetConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error)
}

// RateSource fetches published rate plans.
type RateSource interface {
	// GetRateSchedule returns the rate document for a plan label along with
	// the raw response.
	GetRateSchedule(ctx context.Context, label string) (tariff.Document, []byte, error)

	// ListRatePlans returns the residential plans for a utility.
	ListRatePlans(ctx context.Context, utilityID string) ([]types.RatePlanInfo, error)

	// ListUtilities returns the utilities publishing residential rates in a
	// state.
	ListUtilities(ctx context.Context, state string) ([]types.UtilityInfo, error)
}

var (
	_ Provider   = (*TOU)(nil)
	_ RateSource = (*OpenEI)(nil)
)

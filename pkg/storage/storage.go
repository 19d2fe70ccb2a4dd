package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/levenlabs/go-lflag"
)

var (
	ErrTariffNotFound     = errors.New("tariff document not found")
	ErrDeviceScanNotFound = errors.New("device scan not found")
)

// Database defines the interface for persisting site state.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, siteID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error

	// Tariff
	GetTariff(ctx context.Context, siteID string) (types.TariffRecord, error)
	SaveTariff(ctx context.Context, siteID string, record types.TariffRecord) error

	// Devices
	GetDeviceScan(ctx context.Context, siteID string) (types.DeviceScan, error)
	SaveDeviceScan(ctx context.Context, siteID string, scan types.DeviceScan) error

	// Resolved rate history
	UpsertPrices(ctx context.Context, siteID string, prices []types.Price) error
	GetPriceHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Price, error)
	GetLatestPriceHistoryTime(ctx context.Context, siteID string) (time.Time, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, redis, memory)")

	var p struct{ Database }

	fs := configuredFirestore()
	rdb := configuredRedis()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "redis":
			if err := rdb.Validate(); err != nil {
				panic(fmt.Sprintf("redis validation failed: %v", err))
			}
			p.Database = rdb
			if err := rdb.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("redis init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

package storagemock

import (
	"context"
	"time"

	"github.com/communalgrid/communalgrid/pkg/storage"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, siteID string) (types.Settings, int, error) {
	args := m.Called(ctx, siteID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error {
	args := m.Called(ctx, siteID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetTariff(ctx context.Context, siteID string) (types.TariffRecord, error) {
	args := m.Called(ctx, siteID)
	if len(args) > 0 {
		return args.Get(0).(types.TariffRecord), args.Error(1)
	}
	return types.TariffRecord{}, storage.ErrTariffNotFound
}

func (m *MockDatabase) SaveTariff(ctx context.Context, siteID string, record types.TariffRecord) error {
	args := m.Called(ctx, siteID, record)
	return args.Error(0)
}

func (m *MockDatabase) GetDeviceScan(ctx context.Context, siteID string) (types.DeviceScan, error) {
	args := m.Called(ctx, siteID)
	if len(args) > 0 {
		return args.Get(0).(types.DeviceScan), args.Error(1)
	}
	return types.DeviceScan{}, storage.ErrDeviceScanNotFound
}

func (m *MockDatabase) SaveDeviceScan(ctx context.Context, siteID string, scan types.DeviceScan) error {
	args := m.Called(ctx, siteID, scan)
	return args.Error(0)
}

func (m *MockDatabase) UpsertPrices(ctx context.Context, siteID string, prices []types.Price) error {
	args := m.Called(ctx, siteID, prices)
	return args.Error(0)
}

func (m *MockDatabase) GetPriceHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Price, error) {
	args := m.Called(ctx, siteID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Price), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestPriceHistoryTime(ctx context.Context, siteID string) (time.Time, error) {
	args := m.Called(ctx, siteID)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

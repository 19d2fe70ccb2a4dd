package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/communalgrid/communalgrid/pkg/types"
)

// MemoryProvider implements the Database interface in process memory. It
// is meant for single-household runs and tests where nothing needs to
// survive a restart.
type MemoryProvider struct {
	mu    sync.Mutex
	sites map[string]*memorySite
}

type memorySite struct {
	settings        types.Settings
	settingsVersion int
	tariff          *types.TariffRecord
	scan            *types.DeviceScan
	prices          map[time.Time]types.Price
}

var _ Database = (*MemoryProvider)(nil)

// NewMemory returns an empty in-memory database.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{sites: make(map[string]*memorySite)}
}

func (m *MemoryProvider) site(siteID string) (*memorySite, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	s, ok := m.sites[siteID]
	if !ok {
		s = &memorySite{prices: make(map[time.Time]types.Price)}
		m.sites[siteID] = s
	}
	return s, nil
}

// GetSettings returns the stored settings, or empty settings at version 0.
func (m *MemoryProvider) GetSettings(ctx context.Context, siteID string) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return types.Settings{}, 0, err
	}
	return s.settings, s.settingsVersion, nil
}

// SetSettings replaces the stored settings.
func (m *MemoryProvider) SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return err
	}
	s.settings = settings
	s.settingsVersion = version
	return nil
}

// GetTariff returns the stored tariff record or ErrTariffNotFound.
func (m *MemoryProvider) GetTariff(ctx context.Context, siteID string) (types.TariffRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return types.TariffRecord{}, err
	}
	if s.tariff == nil {
		return types.TariffRecord{}, ErrTariffNotFound
	}
	rec := *s.tariff
	rec.Document = slices.Clone(rec.Document)
	return rec, nil
}

// SaveTariff replaces the stored tariff record.
func (m *MemoryProvider) SaveTariff(ctx context.Context, siteID string, record types.TariffRecord) error {
	if len(record.Document) == 0 {
		return fmt.Errorf("tariff record has no document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return err
	}
	record.Document = slices.Clone(record.Document)
	s.tariff = &record
	return nil
}

// GetDeviceScan returns the stored scan or ErrDeviceScanNotFound.
func (m *MemoryProvider) GetDeviceScan(ctx context.Context, siteID string) (types.DeviceScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return types.DeviceScan{}, err
	}
	if s.scan == nil {
		return types.DeviceScan{}, ErrDeviceScanNotFound
	}
	scan := *s.scan
	scan.Devices = slices.Clone(scan.Devices)
	return scan, nil
}

// SaveDeviceScan replaces the stored scan.
func (m *MemoryProvider) SaveDeviceScan(ctx context.Context, siteID string, scan types.DeviceScan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return err
	}
	scan.Devices = slices.Clone(scan.Devices)
	s.scan = &scan
	return nil
}

// UpsertPrices stores prices keyed by their start time.
func (m *MemoryProvider) UpsertPrices(ctx context.Context, siteID string, prices []types.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return err
	}
	for _, p := range prices {
		s.prices[p.TSStart.UTC()] = p
	}
	return nil
}

// GetPriceHistory returns stored prices starting in [start, end), ordered
// by start time.
func (m *MemoryProvider) GetPriceHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return nil, err
	}
	var prices []types.Price
	for ts, p := range s.prices {
		if !ts.Before(start) && ts.Before(end) {
			prices = append(prices, p)
		}
	}
	slices.SortFunc(prices, func(a, b types.Price) int {
		return a.TSStart.Compare(b.TSStart)
	})
	return prices, nil
}

// GetLatestPriceHistoryTime returns the latest stored start time, or the
// zero time when nothing is stored.
func (m *MemoryProvider) GetLatestPriceHistoryTime(ctx context.Context, siteID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.site(siteID)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for ts := range s.prices {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest, nil
}

// Close is a no-op.
func (m *MemoryProvider) Close() error {
	return nil
}

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/communalgrid/communalgrid/pkg/devices"
	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/metrics"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/communalgrid/communalgrid/pkg/vpp"
)

// DeviceReport is the classified device list with its summary.
type DeviceReport struct {
	ScannedAt time.Time                 `json:"scannedAt,omitzero"`
	Devices   []types.CategorizedDevice `json:"devices"`
	Summary   types.DeviceSummary       `json:"summary"`
}

// MatchReport lists the programs the household qualifies for.
type MatchReport struct {
	Region    types.Region        `json:"region"`
	Programs  []types.MatchResult `json:"programs"`
	Devices   int                 `json:"devices"`
	Unmatched int                 `json:"unmatched"`
}

// ScanDevices discovers and classifies devices and installs the result.
// On failure the previous device list stays in place.
func (c *Coordinator) ScanDevices(ctx context.Context) error {
	if c.scanner == nil {
		return ErrScannerDisabled
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	raw, err := c.scanner.Scan(ctx)
	if err != nil {
		if c.devices.Load() == nil {
			if rerr := c.restoreDevices(ctx); rerr == nil {
				log.Ctx(ctx).WarnContext(ctx, "device scan failed, using stored scan", slog.Any("error", err))
			}
		}
		return fmt.Errorf("failed to scan devices: %w", err)
	}

	scan := types.DeviceScan{ScannedAt: c.now(), Devices: raw}
	c.installDevices(ctx, scan)
	if err := c.storage.SaveDeviceScan(ctx, c.siteID, scan); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to save device scan", slog.Any("error", err))
	}
	return nil
}

func (c *Coordinator) restoreDevices(ctx context.Context) error {
	scan, err := c.storage.GetDeviceScan(ctx, c.siteID)
	if err != nil {
		return err
	}
	c.installDevices(ctx, scan)
	return nil
}

func (c *Coordinator) installDevices(ctx context.Context, scan types.DeviceScan) {
	classified := c.classifier.Classify(ctx, scan.Devices)
	c.devices.Store(&deviceSnapshot{scannedAt: scan.ScannedAt, devices: classified})

	summary := devices.Summarize(classified)
	metrics.SetDeviceSummary(summary)
	log.Ctx(ctx).InfoContext(
		ctx,
		"installed device scan",
		slog.Int("raw", len(scan.Devices)),
		slog.Int("classified", summary.Total),
		slog.Float64("totalPowerW", summary.TotalPowerW),
	)
}

// Devices returns the classified devices from the last scan.
func (c *Coordinator) Devices(ctx context.Context) DeviceReport {
	report := DeviceReport{Devices: []types.CategorizedDevice{}}
	if snap := c.devices.Load(); snap != nil {
		report.ScannedAt = snap.scannedAt
		report.Devices = snap.devices
	}
	report.Summary = devices.Summarize(report.Devices)
	return report
}

// Matches returns the programs the household's devices qualify for in the
// configured region.
func (c *Coordinator) Matches(ctx context.Context) (MatchReport, error) {
	settings, err := c.Settings(ctx)
	if err != nil {
		return MatchReport{}, err
	}
	var devs []types.CategorizedDevice
	if snap := c.devices.Load(); snap != nil {
		devs = snap.devices
	}
	region := settings.Region()
	results := c.registry.Load().Match(ctx, devs, region)
	metrics.EligiblePrograms.Set(float64(len(results)))
	return MatchReport{
		Region:    region,
		Programs:  results,
		Devices:   len(devs),
		Unmatched: vpp.Unmatched(devs, results),
	}, nil
}

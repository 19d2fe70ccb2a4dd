package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/communalgrid/communalgrid/pkg/devices"
	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/metrics"
	"github.com/communalgrid/communalgrid/pkg/storage"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/communalgrid/communalgrid/pkg/utility"
	"github.com/communalgrid/communalgrid/pkg/vpp"
	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"
)

var (
	// ErrNoRatePlan is returned when no rate plan label is configured.
	ErrNoRatePlan = errors.New("no rate plan configured")
	// ErrNoUtility is returned when listing plans without a utility.
	ErrNoUtility = errors.New("no utility configured")
	// ErrScannerDisabled is returned when no device scanner is configured.
	ErrScannerDisabled = errors.New("device scanning is not configured")
)

// Scanner discovers raw devices on the home automation platform.
type Scanner interface {
	Scan(ctx context.Context) ([]types.RawDevice, error)
}

// deviceSnapshot is the classified result of one scan.
type deviceSnapshot struct {
	scannedAt time.Time
	devices   []types.CategorizedDevice
}

// Coordinator owns the household's rate schedule, device list and program
// registry. Each is an immutable snapshot replaced wholesale on refresh, so
// readers never observe a partially built value.
type Coordinator struct {
	siteID   string
	defaults types.Settings

	rates    utility.RateSource
	scanner  Scanner
	storage  storage.Database
	registry atomic.Pointer[vpp.Registry]

	tou        *utility.TOU
	devices    atomic.Pointer[deviceSnapshot]
	classifier *devices.Classifier

	refreshSchedule string
	scanSchedule    string
	rateSchedule    string

	// refreshMu serializes refreshes and scans.
	refreshMu sync.Mutex
	now       func() time.Time
}

// Configured sets up the Coordinator based on flags. scanner may be nil
// when no home automation platform is configured.
func Configured(rates utility.RateSource, scanner Scanner, db storage.Database, registry *vpp.Registry) *Coordinator {
	c := New(rates, scanner, db, registry)

	siteID := lflag.String("site-id", types.SiteIDNone, "Site the household state is stored under")
	utilityID := lflag.String("utility-id", "", "EIA id of the household's utility")
	utilityName := lflag.String("utility-name", "", "Name of the household's utility as listed by VPP programs")
	ratePlanLabel := lflag.String("rate-plan-label", "", "OpenEI label of the household's rate plan")
	state := lflag.String("utility-state", "", "Two-letter state code of the household")
	timezone := lflag.String("timezone", types.DefaultTimezone, "IANA timezone the tariff is expressed in")
	refreshSchedule := lflag.String("tariff-refresh-schedule", "@daily", "Cron schedule for refreshing the tariff")
	scanSchedule := lflag.String("device-scan-schedule", "@every 5m", "Cron schedule for scanning devices")
	rateSchedule := lflag.String("rate-update-schedule", "@every 1m", "Cron schedule for publishing the current rate")

	lflag.Do(func() {
		c.siteID = *siteID
		c.defaults = types.Settings{
			UtilityID:     *utilityID,
			UtilityName:   *utilityName,
			RatePlanLabel: *ratePlanLabel,
			State:         *state,
			Timezone:      *timezone,
		}
		c.refreshSchedule = *refreshSchedule
		c.scanSchedule = *scanSchedule
		c.rateSchedule = *rateSchedule
	})

	return c
}

// New returns a Coordinator for the single-household site with no
// configured defaults.
func New(rates utility.RateSource, scanner Scanner, db storage.Database, registry *vpp.Registry) *Coordinator {
	c := &Coordinator{
		siteID:          types.SiteIDNone,
		rates:           rates,
		scanner:         scanner,
		storage:         db,
		tou:             utility.NewTOU(),
		classifier:      devices.NewClassifier(),
		refreshSchedule: "@daily",
		scanSchedule:    "@every 5m",
		rateSchedule:    "@every 1m",
		now:             time.Now,
	}
	if registry == nil {
		registry = vpp.NewRegistry(nil, nil)
	}
	c.registry.Store(registry)
	return c
}

// SetDefaults replaces the settings used for fields the site has not
// stored.
func (c *Coordinator) SetDefaults(s types.Settings) {
	c.defaults = s
}

// SetScanner replaces the device scanner. A nil scanner disables scanning.
func (c *Coordinator) SetScanner(s Scanner) {
	c.scanner = s
}

// Provider returns the price provider backed by the current schedule.
func (c *Coordinator) Provider() utility.Provider {
	return c.tou
}

// Registry returns the current program registry.
func (c *Coordinator) Registry() *vpp.Registry {
	return c.registry.Load()
}

// SetRegistry replaces the program registry.
func (c *Coordinator) SetRegistry(r *vpp.Registry) {
	c.registry.Store(r)
}

// Schedule returns the active rate schedule or nil.
func (c *Coordinator) Schedule() *types.Schedule {
	return c.tou.Schedule()
}

// LocalNow returns the current time in the household's location: the
// active schedule's when one is loaded, otherwise the configured timezone.
func (c *Coordinator) LocalNow(ctx context.Context) time.Time {
	now := c.now()
	if s := c.Schedule(); s != nil && s.Location != nil {
		return now.In(s.Location)
	}
	settings, err := c.Settings(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get settings for location", slog.Any("error", err))
		return now
	}
	loc, err := settings.Location()
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load household location", slog.Any("error", err))
		return now
	}
	return now.In(loc)
}

// Settings returns the site's settings, migrated to the current version,
// with unset fields taken from the configured defaults.
func (c *Coordinator) Settings(ctx context.Context) (types.Settings, error) {
	stored, version, err := c.storage.GetSettings(ctx, c.siteID)
	if err != nil {
		return types.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	if version == 0 && stored == (types.Settings{}) {
		// nothing stored, use the defaults as-is
		s, _, err := types.MigrateSettings(c.defaults, 0)
		return s, err
	}

	migrated, changed, err := types.MigrateSettings(stored, version)
	if err != nil {
		return types.Settings{}, fmt.Errorf("failed to migrate settings: %w", err)
	}
	if changed {
		log.Ctx(ctx).InfoContext(
			ctx,
			"migrated settings",
			slog.Int("from", version),
			slog.Int("to", types.CurrentSettingsVersion),
		)
		if err := c.storage.SetSettings(ctx, c.siteID, migrated, types.CurrentSettingsVersion); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to save migrated settings", slog.Any("error", err))
		}
	}
	return withDefaults(migrated, c.defaults), nil
}

func withDefaults(s, d types.Settings) types.Settings {
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.UtilityID, d.UtilityID)
	fill(&s.UtilityName, d.UtilityName)
	fill(&s.RatePlanLabel, d.RatePlanLabel)
	fill(&s.RatePlanName, d.RatePlanName)
	fill(&s.State, d.State)
	fill(&s.Timezone, d.Timezone)
	return s
}

// Start restores the last stored tariff and device scan so the service can
// answer before the first refresh completes.
func (c *Coordinator) Start(ctx context.Context) {
	if c.tou.Schedule() == nil {
		if err := c.restoreTariff(ctx); err != nil && !errors.Is(err, storage.ErrTariffNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "failed to restore stored tariff", slog.Any("error", err))
		}
	}
	if c.devices.Load() == nil {
		if err := c.restoreDevices(ctx); err != nil && !errors.Is(err, storage.ErrDeviceScanNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "failed to restore stored device scan", slog.Any("error", err))
		}
	}
}

// Run starts the periodic jobs and blocks until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	cr := cron.New()
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"refresh_tariff", c.refreshSchedule, c.RefreshTariff},
		{"scan_devices", c.scanSchedule, c.ScanDevices},
		{"publish_rate", c.rateSchedule, c.publishRate},
	}
	for _, job := range jobs {
		if job.name == "scan_devices" && c.scanner == nil {
			continue
		}
		_, err := cr.AddFunc(job.schedule, func() {
			started := time.Now()
			err := job.run(ctx)
			metrics.UpdateJobMetrics(job.name, started, err)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "scheduled job failed", slog.String("job", job.name), slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule for %s (%s): %w", job.name, job.schedule, err)
		}
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"starting scheduled jobs",
		slog.String("tariff", c.refreshSchedule),
		slog.String("devices", c.scanSchedule),
	)
	cr.Start()
	<-ctx.Done()
	<-cr.Stop().Done()
	return nil
}

// Update refreshes the tariff and rescans devices, returning every error.
func (c *Coordinator) Update(ctx context.Context) error {
	var errs []error
	if err := c.RefreshTariff(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.scanner != nil {
		if err := c.ScanDevices(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

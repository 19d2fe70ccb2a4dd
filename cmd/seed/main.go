package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/storage"
	"github.com/communalgrid/communalgrid/pkg/tariff"
	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/communalgrid/communalgrid/pkg/utility"
	"github.com/levenlabs/go-lflag"
)

// sampleTariff is a two-season plan with a 16:00 to 21:00 weekday peak,
// priced higher from June through September.
func sampleTariff() tariff.Document {
	weekday := make([][]int, 12)
	weekend := make([][]int, 12)
	for m := range weekday {
		weekday[m] = make([]int, 24)
		weekend[m] = make([]int, 24)
		summer := m >= 5 && m <= 8
		for h := range weekday[m] {
			switch {
			case h >= 16 && h < 21 && summer:
				weekday[m][h] = 0
			case h >= 16 && h < 21:
				weekday[m][h] = 1
			case summer:
				weekday[m][h] = 2
			default:
				weekday[m][h] = 3
			}
			if summer {
				weekend[m][h] = 2
			} else {
				weekend[m][h] = 3
			}
		}
	}
	return tariff.Document{Items: []tariff.Item{{
		Label:       "seed-e-tou-c",
		Name:        "E-TOU-C Residential Time-of-Use",
		Utility:     "Pacific Gas & Electric",
		Description: "Seeded sample plan",
		Sector:      "Residential",
		StartDate:   tariff.UnixTime{Time: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)},
		EnergyRateStructure: [][]tariff.RateBlock{
			{{Rate: 0.49, Adj: 0.02}},
			{{Rate: 0.38, Adj: 0.02}},
			{{Rate: 0.35, Adj: 0.02}},
			{{Rate: 0.31, Adj: 0.02}},
		},
		EnergyWeekdaySchedule: weekday,
		EnergyWeekendSchedule: weekend,
	}}}
}

func sampleDevices() []types.RawDevice {
	plug := 42.0
	heater := 450.0
	return []types.RawDevice{
		{EntityID: "switch.dehumidifier", DeviceID: "kp115", Domain: "switch", DeviceClass: "outlet", Manufacturer: "TP-Link", Model: "KP115", Name: "Dehumidifier", CurrentPowerW: &plug},
		{EntityID: "climate.hallway", DeviceID: "nest", Domain: "climate", Manufacturer: "Google Nest", Model: "Learning Thermostat", Name: "Hallway"},
		{EntityID: "water_heater.garage", DeviceID: "rheem", Domain: "water_heater", Manufacturer: "Rheem", Model: "EcoNet ProTerra", Name: "Garage Water Heater", CurrentPowerW: &heater},
		{EntityID: "light.kitchen", DeviceID: "hue", Domain: "light", Manufacturer: "Signify", Model: "Hue White", Name: "Kitchen"},
	}
}

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	siteID := lflag.String("site-id", types.SiteIDNone, "Site to seed")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()
	ctx = log.WithAttrs(ctx, slog.String("siteID", *siteID))
	log.Ctx(ctx).InfoContext(ctx, "seeding sample data")

	settings := types.Settings{
		UtilityID:     "14328",
		UtilityName:   "Pacific Gas & Electric",
		RatePlanLabel: "seed-e-tou-c",
		RatePlanName:  "E-TOU-C Residential Time-of-Use",
		State:         "CA",
		Timezone:      "America/Los_Angeles",
	}
	if err := s.SetSettings(ctx, *siteID, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", slog.Any("error", err))
		os.Exit(1)
	}

	doc := sampleTariff()
	var buf bytes.Buffer
	if err := doc.Encode(&buf); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encode tariff", slog.Any("error", err))
		os.Exit(1)
	}
	now := time.Now()
	if err := s.SaveTariff(ctx, *siteID, types.TariffRecord{
		Label:     settings.RatePlanLabel,
		UtilityID: settings.UtilityID,
		FetchedAt: now,
		Document:  buf.Bytes(),
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed tariff", slog.Any("error", err))
		os.Exit(1)
	}

	// a week of history so the price chart has something to show
	loc, err := settings.Location()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load location", slog.Any("error", err))
		os.Exit(1)
	}
	schedule, err := tariff.Normalize(ctx, doc, now.In(loc))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to normalize tariff", slog.Any("error", err))
		os.Exit(1)
	}
	tou := utility.NewTOU()
	tou.Swap(schedule)
	today := now.In(loc)
	end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	prices, err := tou.GetConfirmedPrices(ctx, end.AddDate(0, 0, -7), end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build prices", slog.Any("error", err))
		os.Exit(1)
	}
	if err := s.UpsertPrices(ctx, *siteID, prices); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed prices", slog.Any("error", err))
		os.Exit(1)
	}

	devices := sampleDevices()
	if err := s.SaveDeviceScan(ctx, *siteID, types.DeviceScan{ScannedAt: now, Devices: devices}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed devices", slog.Any("error", err))
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"seeded sample data",
		slog.Int("prices", len(prices)),
		slog.Int("devices", len(devices)),
	)
}

package hass

import (
	"strconv"
	"strings"

	"github.com/communalgrid/communalgrid/pkg/types"
)

// Platform is the integration name this service registers its own
// entities under. Those entities are never reported as devices.
const Platform = "communal_grid"

type entityEntry struct {
	EntityID            string  `json:"entity_id"`
	DeviceID            string  `json:"device_id"`
	Platform            string  `json:"platform"`
	DisabledBy          *string `json:"disabled_by"`
	Name                string  `json:"name"`
	OriginalName        string  `json:"original_name"`
	DeviceClass         string  `json:"device_class"`
	OriginalDeviceClass string  `json:"original_device_class"`
}

func (e entityEntry) disabled() bool {
	return e.DisabledBy != nil && *e.DisabledBy != ""
}

func (e entityEntry) domain() string {
	domain, _, _ := strings.Cut(e.EntityID, ".")
	return domain
}

type deviceEntry struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Name         string `json:"name"`
	NameByUser   string `json:"name_by_user"`
}

type stateEntry struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		FriendlyName string `json:"friendly_name"`
		DeviceClass  string `json:"device_class"`
		Unit         string `json:"unit_of_measurement"`
	} `json:"attributes"`
}

type powerReading struct {
	entityID  string
	watts     *float64
	fromPower bool
}

// deviceClass prefers the live state attribute over the registry.
func deviceClass(e entityEntry, st *stateEntry) string {
	if st != nil && st.Attributes.DeviceClass != "" {
		return st.Attributes.DeviceClass
	}
	if e.DeviceClass != "" {
		return e.DeviceClass
	}
	return e.OriginalDeviceClass
}

// powerReadings finds a power reading per device. An instantaneous power
// sensor wins over a cumulative energy sensor, which only provides the
// sensor's entity id.
func powerReadings(entities []entityEntry, states map[string]*stateEntry) map[string]powerReading {
	readings := make(map[string]powerReading)
	for _, e := range entities {
		if e.domain() != "sensor" || e.disabled() || e.DeviceID == "" {
			continue
		}
		st := states[e.EntityID]
		if st == nil {
			continue
		}
		value, err := strconv.ParseFloat(st.State, 64)
		if err != nil {
			continue
		}
		existing, ok := readings[e.DeviceID]
		switch deviceClass(e, st) {
		case "power":
			if ok && existing.fromPower {
				continue
			}
			watts := value
			if strings.EqualFold(st.Attributes.Unit, "kW") {
				watts = value * 1000
			}
			readings[e.DeviceID] = powerReading{entityID: e.EntityID, watts: &watts, fromPower: true}
		case "energy":
			if ok {
				continue
			}
			readings[e.DeviceID] = powerReading{entityID: e.EntityID}
		}
	}
	return readings
}

// buildDevices joins the registries and states into raw devices in entity
// registry order.
func buildDevices(entities []entityEntry, devices []deviceEntry, states []stateEntry) []types.RawDevice {
	byDevice := make(map[string]deviceEntry, len(devices))
	for _, d := range devices {
		byDevice[d.ID] = d
	}
	byEntity := make(map[string]*stateEntry, len(states))
	for i := range states {
		byEntity[states[i].EntityID] = &states[i]
	}
	readings := powerReadings(entities, byEntity)

	raw := make([]types.RawDevice, 0, len(entities))
	for _, e := range entities {
		if e.disabled() || e.Platform == Platform {
			continue
		}
		st := byEntity[e.EntityID]
		d := types.RawDevice{
			EntityID:    e.EntityID,
			DeviceID:    e.DeviceID,
			Domain:      e.domain(),
			DeviceClass: deviceClass(e, st),
			Name:        e.EntityID,
		}
		switch {
		case st != nil && st.Attributes.FriendlyName != "":
			d.Name = st.Attributes.FriendlyName
		case e.Name != "":
			d.Name = e.Name
		case e.OriginalName != "":
			d.Name = e.OriginalName
		}
		if dev, ok := byDevice[e.DeviceID]; ok {
			d.Manufacturer = dev.Manufacturer
			d.Model = dev.Model
		}
		if r, ok := readings[e.DeviceID]; ok && e.DeviceID != "" {
			d.PowerEntityID = r.entityID
			if r.watts != nil {
				w := *r.watts
				d.CurrentPowerW = &w
			}
		}
		raw = append(raw, d)
	}
	return raw
}

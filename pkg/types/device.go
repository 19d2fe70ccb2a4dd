package types

// DeviceCategory is the DER category a discovered device is assigned to.
type DeviceCategory string

const (
	CategoryThermostat   DeviceCategory = "thermostat"
	CategorySmartPlug    DeviceCategory = "smart_plug"
	CategoryEVCharger    DeviceCategory = "ev_charger"
	CategoryWaterHeater  DeviceCategory = "water_heater"
	CategorySmartLight   DeviceCategory = "smart_light"
	CategoryPowerMonitor DeviceCategory = "power_monitor"
)

// DeviceCategories lists every category in presentation order.
var DeviceCategories = []DeviceCategory{
	CategoryThermostat,
	CategorySmartPlug,
	CategoryEVCharger,
	CategoryWaterHeater,
	CategorySmartLight,
	CategoryPowerMonitor,
}

// HoursPerYear is used to extrapolate an instantaneous reading to a year.
const HoursPerYear = 8760

// RawDevice is a single entity discovered on the home automation platform.
type RawDevice struct {
	EntityID      string   `json:"entityID"`
	DeviceID      string   `json:"deviceID,omitempty"`
	Domain        string   `json:"domain"`
	DeviceClass   string   `json:"deviceClass,omitempty"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	Model         string   `json:"model,omitempty"`
	Name          string   `json:"name"`
	CurrentPowerW *float64 `json:"currentPowerW,omitempty"`
	PowerEntityID string   `json:"powerEntityID,omitempty"`
}

// CategorizedDevice is a RawDevice assigned to exactly one category.
type CategorizedDevice struct {
	RawDevice
	Category           DeviceCategory `json:"category"`
	EstimatedAnnualKWh *float64       `json:"estimatedAnnualKWh,omitempty"`
}

// DeviceSummary aggregates a categorized device list.
type DeviceSummary struct {
	Counts         map[DeviceCategory]int `json:"counts"`
	Total          int                    `json:"total"`
	TotalPowerW    float64                `json:"totalPowerW"`
	TotalAnnualKWh float64                `json:"totalAnnualKWh"`
}

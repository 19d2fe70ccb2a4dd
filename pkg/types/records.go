package types

import (
	"time"
)

// TariffRecord is the last rate document that normalized successfully. It
// is kept so a restart or a failed refresh can rebuild the schedule
// without the rate database.
type TariffRecord struct {
	Label     string    `json:"label"`
	UtilityID string    `json:"utilityID,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
	// Document is the raw rate database response.
	Document []byte `json:"-"`
}

// DeviceScan is the raw result of a device discovery pass.
type DeviceScan struct {
	ScannedAt time.Time   `json:"scannedAt"`
	Devices   []RawDevice `json:"devices"`
}

package types

// MatchedDevice is a device that satisfied one of a program's rules.
type MatchedDevice struct {
	CategorizedDevice
	DERType string `json:"derType"`
	Notes   string `json:"notes,omitempty"`
}

// MatchResult is the eligibility of the household for one VPP program.
type MatchResult struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Provider      string          `json:"provider"`
	Description   string          `json:"description,omitempty"`
	EnrollmentURL string          `json:"enrollmentURL,omitempty"`
	ManagementURL string          `json:"managementURL,omitempty"`
	Reward        VPPReward       `json:"reward"`
	Eligible      bool            `json:"eligible"`
	Devices       []MatchedDevice `json:"devices"`
	DeviceCount   int             `json:"deviceCount"`
	// TotalPowerW and TotalAnnualKWh sum over Devices, counting devices
	// without a reading as zero.
	TotalPowerW    float64 `json:"totalPowerW"`
	TotalAnnualKWh float64 `json:"totalAnnualKWh"`
}

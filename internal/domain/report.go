package domain

import "time"

// UsageReport captures one client check-in event. Optional numeric fields are
// pointers: nil means the client did not report the field (or reported an
// unparsable value), which is distinct from reporting zero.
type UsageReport struct {
	ID           int64
	AppID        string
	ClientHash   string
	AppVersion   string
	OSVersion    string
	CPUArch      string
	CPUType      string
	CPUSubtype   string
	CPU64Bit     *bool
	CPUFreqMHz   *int
	NumCPU       *int
	RAMMB        *int
	Language     string
	Model        string
	IdentifiedBy string
	ReceivedAt   time.Time
}

// DailyUsage aggregates reports for one UTC calendar day.
type DailyUsage struct {
	Day           time.Time
	UniqueClients int64
	Reports       int64
}

// BreakdownField selects the report attribute a breakdown groups by.
type BreakdownField string

const (
	BreakdownAppVersion BreakdownField = "appVersion"
	BreakdownOSVersion  BreakdownField = "osVersion"
	BreakdownCPUArch    BreakdownField = "cpuArch"
	BreakdownLanguage   BreakdownField = "lang"
	BreakdownModel      BreakdownField = "model"
)

// BreakdownRow is one value's share within a breakdown.
type BreakdownRow struct {
	Value string
	Count int64
}

package sparkle

import (
	"strconv"
	"strings"

	"github.com/feedbeacon/feedbeacon/internal/domain"
)

// ReportFields carries the raw hardware and usage fields of a check-in, all
// as reported strings. Numeric fields are parsed defensively during
// normalization: an unparsable value becomes an absent field, never an error.
type ReportFields struct {
	AppVersion string
	OSVersion  string
	CPUType    string
	CPUSubtype string
	CPU64Bit   string
	CPUFreqMHz string
	NumCPU     string
	RAMMB      string
	Language   string
	Model      string
}

// NormalizeReport maps raw reported fields, the owning application, and the
// anonymized client identifier into a canonical usage report record.
func NormalizeReport(appID, clientHash string, f ReportFields, identifiedBy string) domain.UsageReport {
	return domain.UsageReport{
		AppID:        appID,
		ClientHash:   clientHash,
		AppVersion:   strings.TrimSpace(f.AppVersion),
		OSVersion:    strings.TrimSpace(f.OSVersion),
		CPUArch:      ArchLabel(f.CPUType),
		CPUType:      strings.TrimSpace(f.CPUType),
		CPUSubtype:   strings.TrimSpace(f.CPUSubtype),
		CPU64Bit:     optionalBool(f.CPU64Bit),
		CPUFreqMHz:   optionalInt(f.CPUFreqMHz),
		NumCPU:       optionalInt(f.NumCPU),
		RAMMB:        optionalInt(f.RAMMB),
		Language:     strings.TrimSpace(f.Language),
		Model:        strings.TrimSpace(f.Model),
		IdentifiedBy: identifiedBy,
	}
}

func optionalInt(s string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}

func optionalBool(s string) *bool {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}

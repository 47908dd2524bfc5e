package sparkle

import "strings"

// Mach-O CPU type codes reported by clients.
const (
	cpuTypeX86_64 = "16777223" // CPU_TYPE_X86 | CPU_ARCH_ABI64
	cpuTypeARM64  = "16777228" // CPU_TYPE_ARM | CPU_ARCH_ABI64
)

// ArchUnknown labels a reported but unrecognized CPU type code. It is never
// used for an absent code; absence stays absent.
const ArchUnknown = "unknown"

var archByCPUType = map[string]string{
	cpuTypeX86_64: "x86_64",
	cpuTypeARM64:  "arm64",
}

// ArchLabel normalizes a raw CPU type code to an architecture label. An empty
// code yields an empty label.
func ArchLabel(cpuType string) string {
	code := strings.TrimSpace(cpuType)
	if code == "" {
		return ""
	}
	if arch, ok := archByCPUType[code]; ok {
		return arch
	}
	return ArchUnknown
}

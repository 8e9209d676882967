package util

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo contains information about the host system.
type SystemInfo struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	Arch            string
	LogicalCores    int
	PhysicalCores   int
	MemoryTotal     uint64
}

// GetSystemInfo collects system information. Fields gopsutil cannot read
// fall back to what the runtime knows.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		LogicalCores: runtime.NumCPU(),
	}

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		if h.KernelArch != "" {
			info.Arch = h.KernelArch
		}
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}

	if n, err := cpu.Counts(true); err == nil && n > 0 {
		info.LogicalCores = n
	}
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		info.PhysicalCores = n
	} else {
		info.PhysicalCores = info.LogicalCores
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
	}
	return info
}

// AvailableMemoryBytes returns the available memory in bytes, or 0 if it
// cannot be determined.
func AvailableMemoryBytes() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.Available
}

package util

import (
	"runtime"
	"testing"
)

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()

	if info.Hostname == "" {
		t.Error("Hostname is empty")
	}
	if info.OS != runtime.GOOS {
		t.Errorf("OS = %q, want %q", info.OS, runtime.GOOS)
	}
	if info.LogicalCores <= 0 {
		t.Errorf("LogicalCores = %d, want > 0", info.LogicalCores)
	}
	if info.PhysicalCores <= 0 || info.PhysicalCores > info.LogicalCores {
		t.Errorf("PhysicalCores = %d, want 1..%d", info.PhysicalCores, info.LogicalCores)
	}
}

func TestAvailableMemoryBytes(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("Linux-specific test")
	}
	if AvailableMemoryBytes() == 0 {
		t.Error("AvailableMemoryBytes() = 0 on Linux")
	}
}

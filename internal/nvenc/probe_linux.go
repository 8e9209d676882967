//go:build linux

package nvenc

import (
	"fmt"

	"github.com/ebitengine/purego"
)

var driverLibraries = []string{"libnvidia-encode.so.1", "libnvidia-encode.so"}

// MaxSupportedVersion loads the driver's encode library and asks it for the
// newest API it implements.
func MaxSupportedVersion() (APIVersion, error) {
	var (
		handle uintptr
		err    error
	)
	for _, name := range driverLibraries {
		handle, err = purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			break
		}
	}
	if handle == 0 {
		return APIVersion{}, fmt.Errorf("load %s: %w", driverLibraries[0], err)
	}
	defer purego.Dlclose(handle)

	sym, err := purego.Dlsym(handle, "NvEncodeAPIGetMaxSupportedVersion")
	if err != nil {
		return APIVersion{}, fmt.Errorf("resolve NvEncodeAPIGetMaxSupportedVersion: %w", err)
	}

	var getMaxSupportedVersion func(version *uint32) int32
	purego.RegisterFunc(&getMaxSupportedVersion, sym)

	var v uint32
	if err := Status(getMaxSupportedVersion(&v)).Check(); err != nil {
		return APIVersion{}, fmt.Errorf("NvEncodeAPIGetMaxSupportedVersion: %w", err)
	}
	return decodeMaxVersion(v), nil
}

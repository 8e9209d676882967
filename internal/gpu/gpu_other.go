//go:build !windows

package gpu

import (
	"errors"

	nverrors "github.com/five82/nvpipe/internal/errors"
)

// ErrUnsupportedPlatform is returned by Bind off Windows.
var ErrUnsupportedPlatform = errors.New("D3D11 is only available on Windows")

// Bind always fails off Windows.
func Bind(adapter int) (Device, error) {
	return nil, nverrors.NewDeviceInitError("bind adapter", ErrUnsupportedPlatform)
}

// Adapters always fails off Windows.
func Adapters() ([]AdapterInfo, error) {
	return nil, ErrUnsupportedPlatform
}

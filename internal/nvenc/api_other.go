//go:build !windows

package nvenc

import "errors"

// ErrUnsupportedPlatform is returned by Load off Windows, where the encoder
// cannot consume D3D11 textures.
var ErrUnsupportedPlatform = errors.New("NVENC D3D11 sessions require Windows")

// Load always fails off Windows.
func Load() (Library, error) {
	return nil, ErrUnsupportedPlatform
}

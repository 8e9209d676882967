//go:build !windows && !linux

package nvenc

// MaxSupportedVersion has no driver to ask on this platform.
func MaxSupportedVersion() (APIVersion, error) {
	return APIVersion{}, ErrUnsupportedPlatform
}

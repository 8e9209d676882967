package util

import (
	"os"
	"path/filepath"
	"strings"
)

// GetFileSize returns the size of a file in bytes.
func GetFileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}

// EnsureDirectory creates a directory if it doesn't exist.
func EnsureDirectory(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ResolveOutputPath turns an output argument into a file path. A directory,
// or a path ending in a separator, gets defaultName appended; a path
// without an extension gets ext.
func ResolveOutputPath(output, defaultName, ext string) string {
	if output == "" {
		return defaultName + ext
	}
	if strings.HasSuffix(output, string(filepath.Separator)) || strings.HasSuffix(output, "/") {
		return filepath.Join(output, defaultName+ext)
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, defaultName+ext)
	}
	if filepath.Ext(output) == "" {
		return output + ext
	}
	return output
}

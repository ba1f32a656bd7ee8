//go:build !darwin && !linux

package storage

import "errors"

func detectFilesystemType(path string) (string, error) {
	return "", errors.New("filesystem type detection is not supported on this platform")
}

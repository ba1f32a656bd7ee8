package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// ValidateLocalFilesystem ensures path is on a local filesystem. SQLite
// locking is unreliable on network mounts, so the caches refuse to live there.
func ValidateLocalFilesystem(path string) error {
	return validateLocalFilesystemWithDetector(path, detectFilesystemType)
}

func validateLocalFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Point cache_dir at local disk",
			path,
			fsType,
		)
	}

	return nil
}

// SupportsHardLinks probes whether dir allows hard links. Work-directory
// clones rely on them, so a filesystem without link support degrades builds.
func SupportsHardLinks(dir string) (bool, error) {
	src, err := os.CreateTemp(dir, "linkcheck-*")
	if err != nil {
		return false, err
	}
	srcPath := src.Name()
	_ = src.Close()
	defer os.Remove(srcPath)

	dstPath := srcPath + ".lnk"
	if err := os.Link(srcPath, dstPath); err != nil {
		return false, nil
	}
	_ = os.Remove(dstPath)
	return true, nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}

// Package fileutil holds small filesystem helpers shared by the state-file
// writers (pid file, index database, daemon log).
package fileutil

import (
	"os"
	"path/filepath"
)

// EnsureParentDir makes sure the directory containing path exists.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// ReplaceFileAtomically moves tempPath over targetPath. Rename is atomic
// within one filesystem; when it fails (tmpfs temp dirs, network mounts)
// the target is removed and the rename retried.
func ReplaceFileAtomically(tempPath, targetPath string) error {
	if err := os.Rename(tempPath, targetPath); err == nil {
		return nil
	}
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tempPath, targetPath)
}

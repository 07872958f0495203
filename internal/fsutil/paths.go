package fsutil

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// CleanRelPath normalizes a slash-separated relative path and rejects
// anything that would escape its root.
func CleanRelPath(value string) (string, error) {
	slashPath := strings.TrimPrefix(filepath.ToSlash(value), "/")
	if slashPath == "" {
		return ".", nil
	}
	cleaned := path.Clean(slashPath)
	if !fs.ValidPath(cleaned) {
		return "", fmt.Errorf("invalid path: %q", value)
	}
	return cleaned, nil
}

// JoinWithin joins rel under root after cleaning it.
func JoinWithin(root, rel string) (string, error) {
	cleaned, err := CleanRelPath(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(cleaned)), nil
}

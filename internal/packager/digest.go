package packager

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest returns the hex BLAKE3 hash of the file at path.
func Digest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

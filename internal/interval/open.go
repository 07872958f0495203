package interval

import (
	"fmt"
	"strings"

	"qrbatch/internal/logging"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open builds the store selected by driver.
func Open(driver, path string, logger *logging.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFile:
		return OpenFileStore(path, logger)
	case DriverSQLite:
		return OpenSQLiteStore(path, 0, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

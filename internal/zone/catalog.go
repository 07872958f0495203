// Package zone loads the administrative zones (communes) that scope
// identifier ranges.
package zone

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"qrbatch/internal/logging"
)

type Zone struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Catalog is the reloadable list of known zones backed by a JSON file
// of the form [{"code": "...", "name": "..."}].
type Catalog struct {
	mu     sync.RWMutex
	path   string
	logger *logging.Logger
	zones  []Zone
	byCode map[string]Zone
}

// LoadCatalog reads path. A missing file yields an empty catalog.
func LoadCatalog(path string, logger *logging.Logger) (*Catalog, error) {
	catalog := &Catalog{path: strings.TrimSpace(path), logger: logger}
	if err := catalog.Reload(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// NewStaticCatalog builds an in-memory catalog that cannot be reloaded.
func NewStaticCatalog(zones []Zone) *Catalog {
	catalog := &Catalog{}
	catalog.set(zones)
	return catalog
}

func (c *Catalog) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

func (c *Catalog) Reload() error {
	if c == nil || c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.set(nil)
			if c.logger != nil {
				c.logger.Warn("zone catalog not found", map[string]string{"path": c.path})
			}
			return nil
		}
		return fmt.Errorf("read zone catalog: %w", err)
	}
	var zones []Zone
	if err := json.Unmarshal(data, &zones); err != nil {
		return fmt.Errorf("parse zone catalog %s: %w", c.path, err)
	}
	c.set(zones)
	if c.logger != nil {
		c.logger.Info("zone catalog loaded", map[string]string{
			"path":  c.path,
			"count": fmt.Sprint(len(zones)),
		})
	}
	return nil
}

func (c *Catalog) set(zones []Zone) {
	byCode := make(map[string]Zone, len(zones))
	cleaned := make([]Zone, 0, len(zones))
	for _, z := range zones {
		z.Code = strings.TrimSpace(z.Code)
		z.Name = strings.TrimSpace(z.Name)
		if z.Code == "" {
			continue
		}
		if _, seen := byCode[z.Code]; seen {
			continue
		}
		byCode[z.Code] = z
		cleaned = append(cleaned, z)
	}
	c.mu.Lock()
	c.zones = cleaned
	c.byCode = byCode
	c.mu.Unlock()
}

// List returns the zones in file order.
func (c *Catalog) List() []Zone {
	if c == nil {
		return []Zone{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Zone, len(c.zones))
	copy(out, c.zones)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.zones)
}

func (c *Catalog) Lookup(code string) (Zone, bool) {
	if c == nil {
		return Zone{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.byCode[strings.TrimSpace(code)]
	return z, ok
}

func (c *Catalog) Known(code string) bool {
	_, ok := c.Lookup(code)
	return ok
}

// DisplayName returns the zone's name, falling back to its code.
func (c *Catalog) DisplayName(code string) string {
	if z, ok := c.Lookup(code); ok && z.Name != "" {
		return z.Name
	}
	return code
}

// SortByName orders zones by name, then code.
func SortByName(zones []Zone) {
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Name != zones[j].Name {
			return zones[i].Name < zones[j].Name
		}
		return zones[i].Code < zones[j].Code
	})
}

// Package catalog holds the static, read-only table of purchasable business
// types. It is loaded once at startup and never mutated, so lookups need no
// locking.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tycoon/internal/domain"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	entries map[string]domain.CatalogEntry
	order   []string
}

// New validates entries and builds a catalog. Entry order is preserved for
// listing.
func New(entries []domain.CatalogEntry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	c := &Catalog{entries: make(map[string]domain.CatalogEntry, len(entries))}
	for _, e := range entries {
		e.TypeID = strings.ToLower(strings.TrimSpace(e.TypeID))
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", e.TypeID, err)
		}
		if _, dup := c.entries[e.TypeID]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate type id", e.TypeID)
		}
		c.entries[e.TypeID] = e
		c.order = append(c.order, e.TypeID)
	}
	return c, nil
}

// Lookup returns the entry for typeID. An unknown id is a configuration
// error for any caller holding a stored investment.
func (c *Catalog) Lookup(typeID string) (domain.CatalogEntry, error) {
	e, ok := c.entries[strings.ToLower(strings.TrimSpace(typeID))]
	if !ok {
		return domain.CatalogEntry{}, fmt.Errorf("%w: %s", domain.ErrUnknownType, typeID)
	}
	return e, nil
}

func (c *Catalog) Has(typeID string) bool {
	_, ok := c.entries[strings.ToLower(strings.TrimSpace(typeID))]
	return ok
}

func (c *Catalog) List() []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

// IDs returns the type ids sorted alphabetically.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

type fileCatalog struct {
	Investments []domain.CatalogEntry `toml:"investment" yaml:"investments"`
}

// LoadFile reads a catalog from a .toml, .yaml or .yml file.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var fc fileCatalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &fc); err != nil {
			return nil, fmt.Errorf("decode catalog toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("decode catalog yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q (want .toml or .yaml)", filepath.Ext(path))
	}
	return New(fc.Investments)
}

// Load returns the catalog at path, or the default catalog when path is
// empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

func validateEntry(e domain.CatalogEntry) error {
	switch {
	case e.TypeID == "":
		return fmt.Errorf("type_id is required")
	case strings.TrimSpace(e.DisplayName) == "":
		return fmt.Errorf("display_name is required")
	case e.PurchaseCost <= 0:
		return fmt.Errorf("purchase_cost must be > 0")
	case e.HourlyIncome <= 0:
		return fmt.Errorf("hourly_income must be > 0")
	case e.Capacity <= 0:
		return fmt.Errorf("capacity must be > 0")
	case e.DecayPerHour <= 0 || e.DecayPerHour > domain.MaxCondition:
		return fmt.Errorf("decay_rate_per_hour must be in (0, 100]")
	case len(e.MinorNarratives) == 0:
		return fmt.Errorf("minor_narratives must not be empty")
	case len(e.CatastrophicNarratives) == 0:
		return fmt.Errorf("catastrophic_narratives must not be empty")
	}
	if _, err := domain.ParseRiskTier(string(e.RiskTier)); err != nil {
		return err
	}
	return nil
}

// Package tiers holds the maintenance tier catalog: monthly allowances and the
// unlimited flag that lets a tier bypass balance checks.
package tiers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Built-in tier names.
const (
	Standard     = "STANDARD"
	Professional = "PROFESSIONAL"
	COO          = "COO"
)

// Definition describes the defaults a tier grants each period.
type Definition struct {
	Name            string
	SupportHours    decimal.Decimal
	ChangeRequests  int
	Unlimited       bool
	RolloverEnabled bool
}

// Catalog is an immutable, case-insensitive set of tier definitions.
type Catalog struct {
	byName map[string]Definition
}

// NewCatalog builds a catalog from definitions. Later duplicates replace earlier ones.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		name := Normalize(def.Name)
		if name == "" {
			return nil, fmt.Errorf("tiers: empty tier name")
		}
		if def.SupportHours.IsNegative() {
			return nil, fmt.Errorf("tiers: %s: negative support hours", name)
		}
		if def.ChangeRequests < -1 {
			return nil, fmt.Errorf("tiers: %s: change requests must be >= -1", name)
		}
		def.Name = name
		c.byName[name] = def
	}
	return c, nil
}

// Default returns the built-in catalog used when config declares no tiers.
func Default() *Catalog {
	c, _ := NewCatalog(
		Definition{Name: Standard, SupportHours: decimal.NewFromInt(5), ChangeRequests: 2, RolloverEnabled: true},
		Definition{Name: Professional, SupportHours: decimal.NewFromInt(15), ChangeRequests: 5, RolloverEnabled: true},
		Definition{Name: COO, SupportHours: decimal.Zero, ChangeRequests: -1, Unlimited: true},
	)
	return c
}

// Normalize upper-cases and trims a tier name.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	if c == nil {
		return Definition{}, false
	}
	def, ok := c.byName[Normalize(name)]
	return def, ok
}

// IsUnlimited reports whether the tier bypasses balance checks. Unknown tiers are limited.
func (c *Catalog) IsUnlimited(name string) bool {
	def, ok := c.Lookup(name)
	return ok && def.Unlimited
}

// Names returns the sorted tier names.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

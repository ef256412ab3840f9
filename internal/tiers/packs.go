package tiers

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PackDefinition describes a purchasable hour pack.
type PackDefinition struct {
	Type      string
	Hours     decimal.Decimal
	Cost      decimal.Decimal
	ValidDays int // 0 means the pack never expires.
}

// ExpiresAt returns the expiry of a pack bought at purchasedAt, or nil when it never expires.
func (d PackDefinition) ExpiresAt(purchasedAt time.Time) *time.Time {
	if d.ValidDays <= 0 {
		return nil
	}
	t := purchasedAt.UTC().AddDate(0, 0, d.ValidDays)
	return &t
}

// PackCatalog indexes pack definitions by normalized type.
type PackCatalog struct {
	byType map[string]PackDefinition
}

// NewPackCatalog builds a pack catalog.
func NewPackCatalog(defs ...PackDefinition) (*PackCatalog, error) {
	c := &PackCatalog{byType: make(map[string]PackDefinition, len(defs))}
	for _, def := range defs {
		typ := Normalize(def.Type)
		if typ == "" {
			return nil, fmt.Errorf("tiers: empty pack type")
		}
		if !def.Hours.IsPositive() {
			return nil, fmt.Errorf("tiers: pack %s: hours must be positive", typ)
		}
		if def.Cost.IsNegative() {
			return nil, fmt.Errorf("tiers: pack %s: negative cost", typ)
		}
		def.Type = typ
		c.byType[typ] = def
	}
	return c, nil
}

// DefaultPacks returns the built-in pack catalog.
func DefaultPacks() *PackCatalog {
	c, _ := NewPackCatalog(
		PackDefinition{Type: "SMALL", Hours: decimal.NewFromInt(5), Cost: decimal.NewFromInt(450), ValidDays: 365},
		PackDefinition{Type: "MEDIUM", Hours: decimal.NewFromInt(10), Cost: decimal.NewFromInt(850), ValidDays: 365},
		PackDefinition{Type: "LARGE", Hours: decimal.NewFromInt(20), Cost: decimal.NewFromInt(1600)},
	)
	return c
}

// Lookup returns the pack definition for typ.
func (c *PackCatalog) Lookup(typ string) (PackDefinition, bool) {
	if c == nil {
		return PackDefinition{}, false
	}
	def, ok := c.byType[Normalize(typ)]
	return def, ok
}

// Types returns the sorted pack types.
func (c *PackCatalog) Types() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.byType))
	for typ := range c.byType {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

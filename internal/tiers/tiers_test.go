package tiers

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	if !c.IsUnlimited("coo") {
		t.Fatalf("expected COO to be unlimited")
	}
	if c.IsUnlimited(Standard) {
		t.Fatalf("expected STANDARD to be limited")
	}
	if c.IsUnlimited("unknown") {
		t.Fatalf("unknown tiers must not be unlimited")
	}
	def, ok := c.Lookup(" professional ")
	if !ok {
		t.Fatalf("expected PROFESSIONAL lookup to succeed")
	}
	if !def.SupportHours.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected hours %s", def.SupportHours)
	}
}

func TestNewCatalogValidates(t *testing.T) {
	if _, err := NewCatalog(Definition{Name: " "}); err == nil {
		t.Fatalf("expected empty name error")
	}
	if _, err := NewCatalog(Definition{Name: "X", SupportHours: decimal.NewFromInt(-1)}); err == nil {
		t.Fatalf("expected negative hours error")
	}
	if _, err := NewCatalog(Definition{Name: "X", ChangeRequests: -2}); err == nil {
		t.Fatalf("expected change request error")
	}
}

func TestDefaultPacks(t *testing.T) {
	packs := DefaultPacks()
	types := packs.Types()
	if len(types) != 3 || types[0] != "LARGE" {
		t.Fatalf("unexpected pack types %v", types)
	}
	large, _ := packs.Lookup("large")
	if large.ExpiresAt(time.Now()) != nil {
		t.Fatalf("expected LARGE pack to never expire")
	}
	small, _ := packs.Lookup("small")
	bought := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := small.ExpiresAt(bought); got == nil || !got.Equal(bought.AddDate(0, 0, 365)) {
		t.Fatalf("unexpected SMALL expiry %v", got)
	}
}

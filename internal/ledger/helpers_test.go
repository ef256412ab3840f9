package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/notify"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	testPeriodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	testPeriodEnd   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	testNow         = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
)

func hrs(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func timePtr(t time.Time) *time.Time { return &t }

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordingSink) Notify(_ context.Context, event notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) ofType(typ notify.EventType) []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestEngine(t *testing.T, mutate ...func(*Options)) (*Engine, *gorm.DB, *recordingSink) {
	t.Helper()
	conn := openTestDB(t)
	sink := &recordingSink{}
	opts := Options{
		DB:          conn,
		Sink:        sink,
		LockWait:    5 * time.Second,
		BusyRetries: 2,
		LowBalance:  hrs("2"),
		Now:         func() time.Time { return testNow },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	engine, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, conn, sink
}

func createPlan(t *testing.T, conn *gorm.DB, plan models.MaintenancePlan) models.MaintenancePlan {
	t.Helper()
	if plan.ProjectID == 0 {
		plan.ProjectID = 100
	}
	if plan.Tier == "" {
		plan.Tier = "PROFESSIONAL"
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusActive
	}
	if plan.BillingDay == 0 {
		plan.BillingDay = 1
	}
	if plan.CurrentPeriodStart == nil {
		plan.CurrentPeriodStart = timePtr(testPeriodStart)
		plan.CurrentPeriodEnd = timePtr(testPeriodEnd)
	}
	if err := conn.Create(&plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func createRollover(t *testing.T, conn *gorm.DB, planID uint64, hours string, expiresAt time.Time) models.RolloverRecord {
	t.Helper()
	record := models.RolloverRecord{
		PlanID:            planID,
		Hours:             hrs(hours),
		HoursRemaining:    hrs(hours),
		ExpiresAt:         expiresAt,
		SourcePeriodStart: expiresAt.AddDate(0, -2, 0),
		SourcePeriodEnd:   expiresAt.AddDate(0, -1, 0),
	}
	if err := conn.Create(&record).Error; err != nil {
		t.Fatalf("create rollover: %v", err)
	}
	return record
}

func createPack(t *testing.T, conn *gorm.DB, planID uint64, hours string, expiresAt *time.Time, purchasedAt time.Time) models.HourPack {
	t.Helper()
	pack := models.HourPack{
		PlanID:         planID,
		PackType:       "MEDIUM",
		Hours:          hrs(hours),
		HoursRemaining: hrs(hours),
		PurchasedAt:    purchasedAt,
		ExpiresAt:      expiresAt,
		NeverExpires:   expiresAt == nil,
		IsActive:       true,
	}
	if err := conn.Create(&pack).Error; err != nil {
		t.Fatalf("create pack: %v", err)
	}
	return pack
}

func reloadPlan(t *testing.T, conn *gorm.DB, id uint64) models.MaintenancePlan {
	t.Helper()
	var plan models.MaintenancePlan
	if err := conn.First(&plan, id).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	return plan
}

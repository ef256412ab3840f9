package rollover

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/notify"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	marchStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	aprilStart = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mayStart   = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

func hrs(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func timePtr(t time.Time) *time.Time { return &t }

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

type fixture struct {
	conn   *gorm.DB
	engine *ledger.Engine
	job    *Job
	sink   *recordingSink
}

func newFixture(t *testing.T, now time.Time, mutate ...func(*Options)) fixture {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "rollover.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	sink := &recordingSink{}
	engine, err := ledger.NewEngine(ledger.Options{
		DB:   conn,
		Sink: sink,
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	opts := Options{Engine: engine, Sink: sink, LockWait: time.Second, PlanTimeout: 5 * time.Second}
	for _, fn := range mutate {
		fn(&opts)
	}
	job, err := NewJob(opts)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return fixture{conn: conn, engine: engine, job: job, sink: sink}
}

func (f fixture) createPlan(t *testing.T, plan models.MaintenancePlan) models.MaintenancePlan {
	t.Helper()
	if plan.ProjectID == 0 {
		plan.ProjectID = 1
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
		plan.CurrentPeriodStart = timePtr(marchStart)
		plan.CurrentPeriodEnd = timePtr(aprilStart)
	}
	if err := f.conn.Create(&plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func (f fixture) reloadPlan(t *testing.T, id uint64) models.MaintenancePlan {
	t.Helper()
	var plan models.MaintenancePlan
	if err := f.conn.First(&plan, id).Error; err != nil {
		t.Fatalf("reload plan: %v", err)
	}
	return plan
}

func (f fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := f.conn.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

package changerequest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*Tracker, *gorm.DB) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "cr.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	engine, err := ledger.NewEngine(ledger.Options{DB: conn, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return NewTracker(engine, time.Second), conn
}

func createPlan(t *testing.T, conn *gorm.DB, included, used int, status models.PlanStatus) models.MaintenancePlan {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	plan := models.MaintenancePlan{
		ProjectID:              7,
		Tier:                   "STANDARD",
		Status:                 status,
		SupportHoursIncluded:   decimal.NewFromInt(5),
		ChangeRequestsIncluded: included,
		ChangeRequestsUsed:     used,
		BillingDay:             1,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	}
	require.NoError(t, conn.Create(&plan).Error)
	return plan
}

func TestCheckQuota(t *testing.T) {
	assert.NoError(t, CheckQuota(models.MaintenancePlan{ChangeRequestsIncluded: 2, ChangeRequestsUsed: 1}))
	assert.ErrorIs(t, CheckQuota(models.MaintenancePlan{ChangeRequestsIncluded: 2, ChangeRequestsUsed: 2}), ledger.ErrQuotaExceeded)
	assert.ErrorIs(t, CheckQuota(models.MaintenancePlan{ChangeRequestsIncluded: 0}), ledger.ErrQuotaExceeded)
	assert.NoError(t, CheckQuota(models.MaintenancePlan{ChangeRequestsIncluded: -1, ChangeRequestsUsed: 1000}))
}

func TestCreateConsumesQuota(t *testing.T) {
	tracker, conn := newTracker(t)
	plan := createPlan(t, conn, 2, 0, models.PlanStatusActive)
	ctx := context.Background()

	first, err := tracker.Create(ctx, CreateRequest{PlanID: plan.ID, Title: " New landing page ", Description: "hero copy"})
	require.NoError(t, err)
	assert.Equal(t, "New landing page", first.Title)
	assert.Equal(t, models.ChangeRequestPending, first.Status)
	assert.NotEmpty(t, first.PublicID)
	assert.Equal(t, plan.ProjectID, first.ProjectID)

	_, err = tracker.Create(ctx, CreateRequest{PlanID: plan.ID, Title: "Footer links"})
	require.NoError(t, err)

	_, err = tracker.Create(ctx, CreateRequest{PlanID: plan.ID, Title: "One too many"})
	require.ErrorIs(t, err, ledger.ErrQuotaExceeded)

	var count int64
	require.NoError(t, conn.Model(&models.ChangeRequest{}).Where("plan_id = ?", plan.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count, "failed creation must not insert a row")

	var stored models.MaintenancePlan
	require.NoError(t, conn.First(&stored, plan.ID).Error)
	assert.Equal(t, 2, stored.ChangeRequestsUsed)

	list, err := tracker.List(ctx, plan.ID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCreateUnlimited(t *testing.T) {
	tracker, conn := newTracker(t)
	plan := createPlan(t, conn, -1, 50, models.PlanStatusActive)
	for i := 0; i < 3; i++ {
		_, err := tracker.Create(context.Background(), CreateRequest{PlanID: plan.ID, Title: "Anything"})
		require.NoError(t, err)
	}
	var stored models.MaintenancePlan
	require.NoError(t, conn.First(&stored, plan.ID).Error)
	assert.Equal(t, 53, stored.ChangeRequestsUsed)
}

func TestCreateValidation(t *testing.T) {
	tracker, conn := newTracker(t)
	paused := createPlan(t, conn, 5, 0, models.PlanStatusPaused)

	_, err := tracker.Create(context.Background(), CreateRequest{PlanID: paused.ID, Title: "  "})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = tracker.Create(context.Background(), CreateRequest{PlanID: paused.ID, Title: "Blog"})
	assert.ErrorIs(t, err, ledger.ErrPlanNotActive)

	_, err = tracker.Create(context.Background(), CreateRequest{PlanID: 999, Title: "Blog"})
	assert.ErrorIs(t, err, ledger.ErrPlanNotFound)
}

func TestCheckAndIncrementConcurrent(t *testing.T) {
	tracker, conn := newTracker(t)
	plan := createPlan(t, conn, 3, 0, models.PlanStatusActive)

	var mu sync.Mutex
	var ok, exceeded int
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tracker.CheckAndIncrement(context.Background(), plan.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ledger.ErrQuotaExceeded):
				exceeded++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, exceeded)
}

func TestTransitions(t *testing.T) {
	tracker, conn := newTracker(t)
	plan := createPlan(t, conn, 5, 0, models.PlanStatusActive)
	ctx := context.Background()

	cr, err := tracker.Create(ctx, CreateRequest{PlanID: plan.ID, Title: "Contact form"})
	require.NoError(t, err)

	_, err = tracker.Complete(ctx, cr.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	approved, err := tracker.Approve(ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestApproved, approved.Status)
	require.NotNil(t, approved.DecidedAt)

	completed, err := tracker.Complete(ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	_, err = tracker.Reject(ctx, cr.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = tracker.Approve(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectKeepsQuotaConsumed(t *testing.T) {
	tracker, conn := newTracker(t)
	plan := createPlan(t, conn, 1, 0, models.PlanStatusActive)
	ctx := context.Background()

	cr, err := tracker.Create(ctx, CreateRequest{PlanID: plan.ID, Title: "Rebrand"})
	require.NoError(t, err)
	rejected, err := tracker.Reject(ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestRejected, rejected.Status)

	_, err = tracker.Create(ctx, CreateRequest{PlanID: plan.ID, Title: "Second try"})
	assert.ErrorIs(t, err, ledger.ErrQuotaExceeded)
}

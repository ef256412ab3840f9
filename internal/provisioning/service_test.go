package provisioning

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *captureSink) Notify(_ context.Context, event notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newService(t *testing.T) (*Service, *ledger.Engine, *gorm.DB, *captureSink) {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "provisioning.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	engine, err := ledger.NewEngine(ledger.Options{DB: conn, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	sink := &captureSink{}
	return NewService(engine, sink, time.Second), engine, conn, sink
}

func TestHandlePaymentConfirmedCreatesActivePlan(t *testing.T) {
	svc, _, conn, sink := newService(t)

	result, err := svc.HandlePaymentConfirmed(context.Background(), PaymentConfirmed{EventID: "evt_1", ProjectID: 11, Tier: "standard"})
	require.NoError(t, err)
	assert.True(t, result.Created)

	plan := result.Plan
	assert.Equal(t, models.PlanStatusActive, plan.Status)
	assert.Equal(t, "STANDARD", plan.Tier)
	assert.Equal(t, 1, plan.BillingDay)
	assert.True(t, plan.SupportHoursIncluded.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 2, plan.ChangeRequestsIncluded)
	require.NotNil(t, plan.CurrentPeriodStart)
	assert.True(t, plan.CurrentPeriodStart.Equal(testNow))
	assert.True(t, plan.CurrentPeriodEnd.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, plan.ActivatedAt)
	assert.Equal(t, 1, sink.count())

	var events int64
	require.NoError(t, conn.Model(&models.ActivationEvent{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestHandlePaymentConfirmedIsIdempotent(t *testing.T) {
	svc, _, conn, sink := newService(t)
	event := PaymentConfirmed{EventID: "evt_dup", ProjectID: 12, Tier: "PROFESSIONAL"}

	first, err := svc.HandlePaymentConfirmed(context.Background(), event)
	require.NoError(t, err)
	second, err := svc.HandlePaymentConfirmed(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Plan.ID, second.Plan.ID)
	assert.Equal(t, first.Plan.Version, second.Plan.Version)
	assert.Equal(t, 1, sink.count())

	var plans int64
	require.NoError(t, conn.Model(&models.MaintenancePlan{}).Count(&plans).Error)
	assert.Equal(t, int64(1), plans)
}

func TestUpgradeDefersToNextPeriodAndKeepsPools(t *testing.T) {
	svc, engine, conn, _ := newService(t)
	ctx := context.Background()

	created, err := svc.HandlePaymentConfirmed(ctx, PaymentConfirmed{EventID: "evt_a", ProjectID: 13, Tier: "STANDARD"})
	require.NoError(t, err)
	_, err = engine.CreditPack(ctx, ledger.PackRequest{PlanID: created.Plan.ID, PackType: "SMALL"})
	require.NoError(t, err)
	_, err = engine.Consume(ctx, created.Plan.ID, decimal.NewFromInt(2), testNow)
	require.NoError(t, err)

	upgraded, err := svc.HandlePaymentConfirmed(ctx, PaymentConfirmed{EventID: "evt_b", ProjectID: 13, Tier: "PROFESSIONAL"})
	require.NoError(t, err)
	assert.True(t, upgraded.TierDeferred)
	assert.Equal(t, "STANDARD", upgraded.Plan.Tier)
	assert.Equal(t, "PROFESSIONAL", upgraded.Plan.NextTier)
	assert.True(t, upgraded.Plan.SupportHoursUsed.Equal(decimal.NewFromInt(2)))

	var pack models.HourPack
	require.NoError(t, conn.Where("plan_id = ?", created.Plan.ID).Take(&pack).Error)
	assert.True(t, pack.HoursRemaining.Equal(decimal.NewFromInt(5)))
}

func TestPaymentReactivatesCancelledPlan(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	created, err := svc.HandlePaymentConfirmed(ctx, PaymentConfirmed{EventID: "evt_1", ProjectID: 14, Tier: "STANDARD"})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, created.Plan.ID)
	require.NoError(t, err)

	later := testNow.AddDate(0, 1, 5)
	result, err := svc.HandlePaymentConfirmed(ctx, PaymentConfirmed{EventID: "evt_2", ProjectID: 14, Tier: "PROFESSIONAL", OccurredAt: later})
	require.NoError(t, err)
	assert.False(t, result.TierDeferred)
	assert.Equal(t, models.PlanStatusActive, result.Plan.Status)
	assert.Equal(t, "PROFESSIONAL", result.Plan.Tier)
	assert.Nil(t, result.Plan.CancelledAt)
	assert.True(t, result.Plan.CurrentPeriodStart.Equal(later))
	assert.True(t, result.Plan.SupportHoursIncluded.Equal(decimal.NewFromInt(15)))
}

func TestStartCheckoutThenActivate(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	pending, err := svc.StartCheckout(ctx, CheckoutRequest{ProjectID: 15, Tier: "STANDARD", BillingDay: 15})
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusPending, pending.Status)
	assert.Nil(t, pending.CurrentPeriodStart)

	refreshed, err := svc.StartCheckout(ctx, CheckoutRequest{ProjectID: 15, Tier: "PROFESSIONAL", BillingDay: 15})
	require.NoError(t, err)
	assert.Equal(t, pending.ID, refreshed.ID)
	assert.Equal(t, "PROFESSIONAL", refreshed.Tier)

	activated, err := svc.HandlePaymentConfirmed(ctx, PaymentConfirmed{EventID: "evt_c", ProjectID: 15, Tier: "PROFESSIONAL"})
	require.NoError(t, err)
	assert.False(t, activated.Created)
	assert.Equal(t, models.PlanStatusActive, activated.Plan.Status)
	assert.True(t, activated.Plan.CurrentPeriodEnd.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))

	_, err = svc.StartCheckout(ctx, CheckoutRequest{ProjectID: 15, Tier: "STANDARD"})
	assert.ErrorIs(t, err, ErrPlanExists)

	_, err = svc.StartCheckout(ctx, CheckoutRequest{ProjectID: 16, Tier: "GOLD"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestLifecycleTransitions(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	created, err := svc.HandlePaymentConfirmed(ctx, PaymentConfirmed{EventID: "evt_l", ProjectID: 17, Tier: "STANDARD"})
	require.NoError(t, err)
	id := created.Plan.ID

	_, err = svc.Resume(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	paused, err := svc.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusPaused, paused.Status)

	resumed, err := svc.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusActive, resumed.Status)

	cancelled, err := svc.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = svc.Cancel(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Pause(ctx, 9999)
	assert.ErrorIs(t, err, ledger.ErrPlanNotFound)
}

func TestSetRolloverEnabled(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	created, err := svc.HandlePaymentConfirmed(ctx, PaymentConfirmed{EventID: "evt_r", ProjectID: 18, Tier: "STANDARD"})
	require.NoError(t, err)
	require.True(t, created.Plan.RolloverEnabled)

	updated, err := svc.SetRolloverEnabled(ctx, created.Plan.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.RolloverEnabled)
	assert.Equal(t, created.Plan.Version+1, updated.Version)
}

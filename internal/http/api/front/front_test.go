package front

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/tiers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "front.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	engine, err := ledger.NewEngine(ledger.Options{DB: conn, Now: func() time.Time { return now }})
	require.NoError(t, err)

	r := gin.New()
	RegisterFrontRoutes(r, engine, changerequest.NewTracker(engine, time.Second), tiers.DefaultPacks(), nil)
	return r, conn
}

func call(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func seedPlan(t *testing.T, conn *gorm.DB) models.MaintenancePlan {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	plan := models.MaintenancePlan{
		ProjectID:              3,
		Tier:                   "STANDARD",
		Status:                 models.PlanStatusActive,
		SupportHoursIncluded:   decimal.NewFromInt(5),
		SupportHoursUsed:       decimal.NewFromInt(1),
		ChangeRequestsIncluded: 1,
		BillingDay:             1,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	}
	require.NoError(t, conn.Create(&plan).Error)
	return plan
}

func TestCatalogue(t *testing.T) {
	r, _ := newRouter(t)
	w, body := call(t, r, http.MethodGet, "/v0/front/plans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["tiers"].([]any), 3)
	require.Len(t, body["packs"].([]any), 3)
}

func TestProjectSupportAndBalance(t *testing.T) {
	r, conn := newRouter(t)
	plan := seedPlan(t, conn)

	w, body := call(t, r, http.MethodGet, "/v0/front/projects/3/support", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "STANDARD", body["tier"])
	quota := body["change_requests"].(map[string]any)
	require.EqualValues(t, 1, quota["remaining"])

	w, body = call(t, r, http.MethodGet, "/v0/front/plans/"+strconv.FormatUint(plan.ID, 10)+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "4", body["total"])

	w, _ = call(t, r, http.MethodGet, "/v0/front/projects/99/support", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangeRequestQuotaOverHTTP(t *testing.T) {
	r, conn := newRouter(t)
	plan := seedPlan(t, conn)
	path := "/v0/front/plans/" + strconv.FormatUint(plan.ID, 10) + "/change-requests"

	w, body := call(t, r, http.MethodPost, path, gin.H{"title": "Add a contact form"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "pending", body["status"])

	w, body = call(t, r, http.MethodPost, path, gin.H{"title": "Another page"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "change request limit reached", body["error"])

	w, _ = call(t, r, http.MethodPost, path, gin.H{"title": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, body = call(t, r, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["change_requests"].([]any), 1)
}

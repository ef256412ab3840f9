package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/config"
	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/provisioning"
	"github.com/router-for-me/supporthours/internal/rollover"
	"github.com/router-for-me/supporthours/internal/security"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "admin-test-secret"

var (
	testNow    = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	marchStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	aprilStart = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

type testServer struct {
	router *gin.Engine
	conn   *gorm.DB
}

func newTestServer(t *testing.T, now time.Time) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	engine, err := ledger.NewEngine(ledger.Options{DB: conn, Now: func() time.Time { return now }})
	require.NoError(t, err)
	job, err := rollover.NewJob(rollover.Options{Engine: engine})
	require.NoError(t, err)

	r := gin.New()
	RegisterAdminRoutes(r, config.JWTConfig{Secret: testSecret, Expiry: time.Hour}, Services{
		Engine:        engine,
		Provisioning:  provisioning.NewService(engine, nil, time.Second),
		ChangeRequest: changerequest.NewTracker(engine, time.Second),
		Rollover:      job,
	})
	return testServer{router: r, conn: conn}
}

func (s testServer) createPlan(t *testing.T, plan models.MaintenancePlan) models.MaintenancePlan {
	t.Helper()
	if plan.ProjectID == 0 {
		plan.ProjectID = 1
	}
	plan.Tier = "PROFESSIONAL"
	if plan.Status == "" {
		plan.Status = models.PlanStatusActive
	}
	plan.BillingDay = 1
	start, end := marchStart, aprilStart
	plan.CurrentPeriodStart = &start
	plan.CurrentPeriodEnd = &end
	require.NoError(t, s.conn.Create(&plan).Error)
	return plan
}

func (s testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func superToken(t *testing.T) string {
	t.Helper()
	token, err := security.IssueAdminToken(testSecret, "root", nil, true, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

func scopedToken(t *testing.T, perms ...string) string {
	t.Helper()
	token, err := security.IssueAdminToken(testSecret, "support-desk", perms, false, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testNow)
	w, body := srv.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", body["status"])
}

func TestAdminAuthRequired(t *testing.T) {
	srv := newTestServer(t, testNow)
	plan := srv.createPlan(t, models.MaintenancePlan{SupportHoursIncluded: decimal.NewFromInt(10)})
	path := "/v0/admin/plans/" + itoa(plan.ID)

	w, _ := srv.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = srv.do(t, http.MethodGet, path, "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := security.IssueAdminToken("other-secret", "root", nil, true, time.Hour, time.Now())
	require.NoError(t, err)
	w, _ = srv.do(t, http.MethodGet, path, forged, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminPermissionEnforced(t *testing.T) {
	srv := newTestServer(t, testNow)
	plan := srv.createPlan(t, models.MaintenancePlan{SupportHoursIncluded: decimal.NewFromInt(10)})
	token := scopedToken(t, "GET /v0/admin/plans/:id")

	w, body := srv.do(t, http.MethodGet, "/v0/admin/plans/"+itoa(plan.ID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "plan", body["source"])

	w, _ = srv.do(t, http.MethodPost, "/v0/admin/plans/"+itoa(plan.ID)+"/consume", token, gin.H{"hours": "1"})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestConsumeEndpoint(t *testing.T) {
	srv := newTestServer(t, testNow)
	plan := srv.createPlan(t, models.MaintenancePlan{
		SupportHoursIncluded: decimal.NewFromInt(10),
		SupportHoursUsed:     decimal.NewFromInt(8),
	})
	token := superToken(t)
	path := "/v0/admin/plans/" + itoa(plan.ID) + "/consume"

	w, body := srv.do(t, http.MethodPost, path, token, gin.H{"hours": "1.5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	balance := body["balance"].(map[string]any)
	require.Equal(t, "0.5", balance["total"])

	w, body = srv.do(t, http.MethodPost, path, token, gin.H{"hours": "2"})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.Equal(t, "2", body["requested"])
	require.Equal(t, "0.5", body["available"])

	w, _ = srv.do(t, http.MethodPost, path, token, gin.H{"hours": "-1"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = srv.do(t, http.MethodPost, "/v0/admin/plans/abc/consume", token, gin.H{"hours": "1"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = srv.do(t, http.MethodPost, "/v0/admin/plans/999/consume", token, gin.H{"hours": "1"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreditAndPackEndpoints(t *testing.T) {
	srv := newTestServer(t, testNow)
	plan := srv.createPlan(t, models.MaintenancePlan{SupportHoursIncluded: decimal.NewFromInt(10)})
	token := superToken(t)
	base := "/v0/admin/plans/" + itoa(plan.ID)

	w, body := srv.do(t, http.MethodPost, base+"/credits", token, gin.H{"hours": "2", "pool": "rollover", "note": "goodwill"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "rollover", body["pool_kind"])

	w, _ = srv.do(t, http.MethodPost, base+"/credits", token, gin.H{"hours": "2", "pool": "bonus"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, body = srv.do(t, http.MethodPost, base+"/packs", token, gin.H{"pack_type": "small"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "SMALL", body["pack_type"])
	require.Equal(t, "5", body["hours_remaining"])

	w, body = srv.do(t, http.MethodGet, base+"/ledger", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["entries"].([]any), 2)
	require.Equal(t, "17", body["balance"].(map[string]any)["total"])
}

func TestActivationEndpointIsIdempotent(t *testing.T) {
	srv := newTestServer(t, testNow)
	token := superToken(t)
	event := gin.H{"event_id": "evt_1", "project_id": 42, "tier": "standard"}

	w, body := srv.do(t, http.MethodPost, "/v0/admin/activations", token, event)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, true, body["created"])
	plan := body["plan"].(map[string]any)
	require.Equal(t, "ACTIVE", plan["status"])

	w, body = srv.do(t, http.MethodPost, "/v0/admin/activations", token, event)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["duplicate"])

	var count int64
	require.NoError(t, srv.conn.Model(&models.MaintenancePlan{}).Where("project_id = ?", 42).Count(&count).Error)
	require.EqualValues(t, 1, count)

	w, _ = srv.do(t, http.MethodPost, "/v0/admin/checkouts", token, gin.H{"project_id": 42, "tier": "standard"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t, testNow)
	plan := srv.createPlan(t, models.MaintenancePlan{SupportHoursIncluded: decimal.NewFromInt(10)})
	token := superToken(t)
	base := "/v0/admin/plans/" + itoa(plan.ID)

	w, body := srv.do(t, http.MethodPost, base+"/pause", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "PAUSED", body["status"])

	w, _ = srv.do(t, http.MethodPost, base+"/pause", token, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w, _ = srv.do(t, http.MethodPost, base+"/consume", token, gin.H{"hours": "1"})
	require.Equal(t, http.StatusConflict, w.Code)

	w, body = srv.do(t, http.MethodPut, base+"/rollover-enabled", token, gin.H{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, body["rollover_enabled"])

	w, _ = srv.do(t, http.MethodPut, base+"/rollover-enabled", token, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangeRequestReview(t *testing.T) {
	srv := newTestServer(t, testNow)
	plan := srv.createPlan(t, models.MaintenancePlan{SupportHoursIncluded: decimal.NewFromInt(10), ChangeRequestsIncluded: 2})
	cr := models.ChangeRequest{PublicID: "cr-1", PlanID: plan.ID, ProjectID: plan.ProjectID, Title: "New banner", Status: models.ChangeRequestPending}
	require.NoError(t, srv.conn.Create(&cr).Error)
	token := superToken(t)

	w, body := srv.do(t, http.MethodPost, "/v0/admin/change-requests/"+itoa(cr.ID)+"/approve", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "approved", body["status"])

	w, _ = srv.do(t, http.MethodPost, "/v0/admin/change-requests/"+itoa(cr.ID)+"/reject", token, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w, body = srv.do(t, http.MethodPost, "/v0/admin/change-requests/"+itoa(cr.ID)+"/complete", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "completed", body["status"])

	w, _ = srv.do(t, http.MethodPost, "/v0/admin/change-requests/999/approve", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w, body = srv.do(t, http.MethodGet, "/v0/admin/plans/"+itoa(plan.ID)+"/change-requests", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["change_requests"].([]any), 1)
}

func TestRolloverEndpoints(t *testing.T) {
	srv := newTestServer(t, aprilStart.Add(time.Hour))
	plan := srv.createPlan(t, models.MaintenancePlan{
		SupportHoursIncluded: decimal.NewFromInt(10),
		SupportHoursUsed:     decimal.NewFromInt(7),
		RolloverEnabled:      true,
	})
	token := superToken(t)

	w, body := srv.do(t, http.MethodPost, "/v0/admin/plans/"+itoa(plan.ID)+"/rollover", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, string(rollover.StatusRolled), body["status"])

	w, body = srv.do(t, http.MethodPost, "/v0/admin/plans/"+itoa(plan.ID)+"/rollover", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(rollover.StatusAlreadyRolled), body["status"])

	w, body = srv.do(t, http.MethodPost, "/v0/admin/rollover/run", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := body["report"].(map[string]any)
	require.EqualValues(t, 0, report["rolled"])
}

func TestProjectSupportAndPermissions(t *testing.T) {
	srv := newTestServer(t, testNow)
	srv.createPlan(t, models.MaintenancePlan{ProjectID: 7, SupportHoursIncluded: decimal.NewFromInt(10)})
	token := superToken(t)

	w, body := srv.do(t, http.MethodGet, "/v0/admin/projects/7/support", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 7, body["project_id"])

	w, _ = srv.do(t, http.MethodGet, "/v0/admin/projects/8/support", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w, body = srv.do(t, http.MethodGet, "/v0/admin/permissions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["permissions"])
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rentline/internal/db"
	"rentline/internal/domain"
	"rentline/internal/heartbeat"
	"rentline/internal/migrate"
)

const (
	testJWTSecret  = "test-jwt-secret"
	testCronSecret = "test-cron-secret"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine heartbeat.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := heartbeat.New(conn)
	e.Now = func() time.Time { return testNow }
	seedPortfolio(t, e)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, CronSecret: testCronSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedPortfolio(t *testing.T, e heartbeat.Engine) {
	t.Helper()
	ctx := context.Background()
	now := testNow.UTC().Format(time.RFC3339)
	if err := e.Repo.InsertUser(ctx, domain.User{ID: "user-1", Email: "owner@example.com", Role: "owner", CreatedAt: now}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	err := e.Repo.UpsertAutonomySettings(ctx, domain.AutonomySettings{UserID: "user-1", Preset: "balanced", UpdatedAt: now})
	if err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	if err := e.Repo.InsertProperty(ctx, domain.Property{ID: "prop-1", UserID: "user-1", Address: "12 Test St", State: "NSW", CreatedAt: now}); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	err = e.Repo.InsertTenancy(ctx, domain.Tenancy{
		ID: "ten-1", PropertyID: "prop-1", TenantName: "Alex Wong", Status: "active",
		StartDate: testNow.AddDate(0, -1, 0).UTC().Format(time.RFC3339),
		EndDate:   testNow.AddDate(0, 0, 20).UTC().Format(time.RFC3339),
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed tenancy: %v", err)
	}
}

func signToken(t *testing.T, subject, role string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHeartbeatWithCronSecret(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/heartbeat", nil,
		map[string]string{"X-Cron-Secret": testCronSecret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var summary domain.HeartbeatSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Processed != 1 || summary.TasksCreated != 1 {
		t.Fatalf("summary = %+v, want one user and one lease task", summary)
	}
}

func TestHeartbeatUnauthorized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	cases := []map[string]string{
		nil,
		{"X-Cron-Secret": "wrong"},
		{"Authorization": "Bearer " + signToken(t, "user-1", "owner")},
	}
	for i, headers := range cases {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/heartbeat", nil, headers)
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("case %d: status %d, want 401", i, res.StatusCode)
		}
		var body map[string]string
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("case %d: unmarshal: %v (%s)", i, err, string(data))
		}
		if body["error"] != "Unauthorized" {
			t.Fatalf("case %d: body = %s, want {\"error\":\"Unauthorized\"}", i, string(data))
		}
	}
}

func TestHeartbeatWithAdminToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/heartbeat?user_id=user-1", nil,
		map[string]string{"Authorization": "Bearer " + signToken(t, "admin-1", "admin")})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var summary domain.HeartbeatSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.TasksCreated != 1 {
		t.Fatalf("summary = %+v, want one task for the targeted user", summary)
	}
}

func TestTaskApproveFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/heartbeat", nil,
		map[string]string{"X-Cron-Secret": testCronSecret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status %d: %s", res.StatusCode, string(data))
	}

	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "user-1", "owner")}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?open=true", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, string(data))
	}
	var listed tasksBody
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(listed.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(listed.Tasks))
	}
	taskID := listed.Tasks[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/approve", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var approved domain.Task
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal approved task: %v", err)
	}
	if approved.Status != "in_progress" {
		t.Fatalf("status = %q, want in_progress", approved.Status)
	}
	last := approved.Timeline[len(approved.Timeline)-1]
	if last.Action != "Owner approved the recommended action" {
		t.Fatalf("last timeline action = %q", last.Action)
	}
}

func TestCronSecretLimitedToHeartbeat(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	cron := map[string]string{"X-Cron-Secret": testCronSecret}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, cron)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("tasks with cron secret: status %d, want 403 (%s)", res.StatusCode, string(data))
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("error body = %s, want flat error envelope", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actions", nil, cron)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("actions with cron secret: status %d, want 403 (%s)", res.StatusCode, string(data))
	}

	// The heartbeat itself still accepts it.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/heartbeat", nil, cron)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat with cron secret: status %d (%s)", res.StatusCode, string(data))
	}
}

func TestTaskDismissUsesDocumentedStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/heartbeat", nil,
		map[string]string{"X-Cron-Secret": testCronSecret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status %d: %s", res.StatusCode, string(data))
	}

	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "user-1", "owner")}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?open=true", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, string(data))
	}
	var listed tasksBody
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(listed.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(listed.Tasks))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+listed.Tasks[0].ID+"/dismiss", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dismiss status %d: %s", res.StatusCode, string(data))
	}
	var dismissed domain.Task
	if err := json.Unmarshal(data, &dismissed); err != nil {
		t.Fatalf("unmarshal dismissed task: %v", err)
	}
	// dismissal uses the cancelled terminal status; nothing outside the
	// documented status set may ever be stored
	if dismissed.Status != "cancelled" {
		t.Fatalf("status = %q, want cancelled", dismissed.Status)
	}
	valid := map[string]bool{
		"pending_input": true, "in_progress": true, "scheduled": true,
		"paused": true, "completed": true, "cancelled": true,
	}
	if !valid[dismissed.Status] {
		t.Fatalf("status %q outside the documented set", dismissed.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?open=true", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("relist status %d: %s", res.StatusCode, string(data))
	}
	listed = tasksBody{}
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal relist: %v", err)
	}
	if len(listed.Tasks) != 0 {
		t.Fatalf("cancelled task still listed as open")
	}
}

func TestTasksScopedToOwner(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/heartbeat", nil,
		map[string]string{"X-Cron-Secret": testCronSecret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status %d: %s", res.StatusCode, string(data))
	}

	other := map[string]string{"Authorization": "Bearer " + signToken(t, "user-2", "owner")}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, other)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed tasksBody
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(listed.Tasks) != 0 {
		t.Fatalf("user-2 sees %d of user-1's tasks", len(listed.Tasks))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?user_id=user-1", nil, other)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user list status %d, want 403", res.StatusCode)
	}
}

func TestAutonomyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "user-1", "owner")}

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/user-1/autonomy", map[string]any{
		"preset":    "cautious",
		"overrides": map[string]string{"rent_collection": "L3"},
	}, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/user-1/autonomy", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var settings domain.AutonomySettings
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if settings.Preset != "cautious" || settings.Overrides["rent_collection"] != "L3" {
		t.Fatalf("settings = %+v", settings)
	}

	res, _ = doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/user-1/autonomy", map[string]any{
		"preset": "reckless",
	}, auth)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid preset status %d, want 400", res.StatusCode)
	}
}

func TestHealthOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %s", string(data))
	}
}

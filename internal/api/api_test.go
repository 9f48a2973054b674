package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miguel-bm/slidechat/internal/agent/agenttest"
	"github.com/miguel-bm/slidechat/internal/config"
	"github.com/miguel-bm/slidechat/internal/db"
	"github.com/miguel-bm/slidechat/internal/storage"
	"github.com/miguel-bm/slidechat/internal/uistream"
)

// testEnv holds a test server with all dependencies
type testEnv struct {
	server     *Server
	t          *testing.T
	token      string // auth token after setup
	querier    *agenttest.Querier
	configPath string
}

// setupTestEnv creates a fully configured test server
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	// In-memory database
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	// Temp directory for config, jwt secret and blobs
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	store, err := storage.NewFSStore(filepath.Join(tmpDir, "blobs"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	cfg := config.Default()
	cfg.Agent.RequestTimeout = 5 * time.Second

	querier := &agenttest.Querier{}
	s, err := NewServer(cfg, configPath, database, store, uistream.New(querier))
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return &testEnv{server: s, t: t, querier: querier, configPath: configPath}
}

// setup runs the auth setup flow and stores the token
func (e *testEnv) setup(password string) {
	e.t.Helper()
	resp := e.post("/api/auth/setup", map[string]string{"password": password})
	if resp.Code != http.StatusOK {
		e.t.Fatalf("setup failed: %d %s", resp.Code, resp.Body.String())
	}
	var body map[string]string
	json.Unmarshal(resp.Body.Bytes(), &body)
	e.token = body["token"]
}

// request makes an HTTP request to the server
func (e *testEnv) request(method, path string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var bodyReader *strings.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = strings.NewReader(string(data))
	} else {
		bodyReader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

// do sends a prepared request, adding the bearer token when one is set
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.request("GET", path, nil)
}

func (e *testEnv) post(path string, body interface{}) *httptest.ResponseRecorder {
	return e.request("POST", path, body)
}

func (e *testEnv) patch(path string, body interface{}) *httptest.ResponseRecorder {
	return e.request("PATCH", path, body)
}

func (e *testEnv) delete(path string) *httptest.ResponseRecorder {
	return e.request("DELETE", path, nil)
}

// decodeResponse decodes JSON response body into v
func decodeResponse(t *testing.T, resp *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, resp.Body.String())
	}
}

// --- Health ---

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.get("/api/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != "OK" {
		t.Errorf("expected OK body, got %q", resp.Body.String())
	}
}

// --- Auth Tests ---

func TestAuthStatus_NotSetup(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.get("/api/auth/status")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]bool
	decodeResponse(t, resp, &body)
	if body["setup"] {
		t.Error("expected setup=false")
	}
	if body["passkeys"] {
		t.Error("expected passkeys=false without an rp_id")
	}
}

func TestAuthSetup(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.post("/api/auth/setup", map[string]string{
		"password": "testpass123",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body map[string]string
	decodeResponse(t, resp, &body)
	if body["token"] == "" {
		t.Error("expected token in response")
	}

	// Status should now show setup=true
	statusResp := env.get("/api/auth/status")
	var status map[string]bool
	decodeResponse(t, statusResp, &status)
	if !status["setup"] {
		t.Error("expected setup=true after setup")
	}
}

func TestAuthSetup_PersistsHashInConfig(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")

	cfg, err := config.Load(env.configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.PasswordHash == "" || cfg.Auth.PasswordHash == "testpass123" {
		t.Errorf("expected a bcrypt hash in config, got %q", cfg.Auth.PasswordHash)
	}
}

func TestAuthSetup_ShortPassword(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.post("/api/auth/setup", map[string]string{
		"password": "short",
	})
	if resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.Code)
	}
}

func TestAuthSetup_AlreadySetup(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")

	resp := env.post("/api/auth/setup", map[string]string{
		"password": "anotherpass123",
	})
	if resp.Code != http.StatusConflict {
		t.Errorf("expected 409 for already setup, got %d", resp.Code)
	}
}

func TestAuthLogin(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")
	env.token = "" // Clear token to test login

	resp := env.post("/api/auth/login", map[string]string{
		"password": "testpass123",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]string
	decodeResponse(t, resp, &body)
	if body["token"] == "" {
		t.Error("expected token in response")
	}

	var cookie *http.Cookie
	for _, c := range resp.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != body["token"] || !cookie.HttpOnly {
		t.Errorf("expected HttpOnly session cookie carrying the token, got %+v", cookie)
	}
}

func TestAuthLogin_WrongPassword(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")
	env.token = "" // Clear token

	resp := env.post("/api/auth/login", map[string]string{
		"password": "wrongpassword",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.Code)
	}
}

func TestAuthLogin_RateLimited(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")
	env.token = ""

	for i := 0; i < 5; i++ {
		resp := env.post("/api/auth/login", map[string]string{"password": "wrongpassword"})
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.Code)
		}
	}

	resp := env.post("/api/auth/login", map[string]string{"password": "testpass123"})
	if resp.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after repeated failures, got %d", resp.Code)
	}
}

func TestAuthMe(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")

	resp := env.get("/api/auth/me")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body Session
	decodeResponse(t, resp, &body)
	if body.Subject != "user" {
		t.Errorf("expected subject user, got %q", body.Subject)
	}
	if !body.ExpiresAt.After(time.Now()) {
		t.Errorf("expected future expiry, got %v", body.ExpiresAt)
	}
}

func TestAuthMe_SessionCookie(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")
	token := env.token
	env.token = ""

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	resp := env.do(req)
	if resp.Code != http.StatusOK {
		t.Errorf("expected 200 with session cookie, got %d", resp.Code)
	}
}

func TestAuthMe_NoToken(t *testing.T) {
	env := setupTestEnv(t)
	env.token = ""

	resp := env.get("/api/auth/me")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMe_InvalidToken(t *testing.T) {
	env := setupTestEnv(t)
	env.token = "invalid-token"

	resp := env.get("/api/auth/me")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMe_TokenFromOtherSecret(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")

	other, err := NewAuthService(filepath.Join(t.TempDir(), "config.yaml"), time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	env.token, err = other.GenerateToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	resp := env.get("/api/auth/me")
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for foreign token, got %d", resp.Code)
	}
}

func TestAuthChangePassword(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")

	resp := env.post("/api/auth/change-password", map[string]string{
		"currentPassword": "wrongpassword",
		"newPassword":     "newpass12345",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong current password, got %d", resp.Code)
	}

	resp = env.post("/api/auth/change-password", map[string]string{
		"currentPassword": "testpass123",
		"newPassword":     "newpass12345",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	env.token = ""
	if resp := env.post("/api/auth/login", map[string]string{"password": "testpass123"}); resp.Code != http.StatusUnauthorized {
		t.Errorf("old password should be rejected, got %d", resp.Code)
	}
	if resp := env.post("/api/auth/login", map[string]string{"password": "newpass12345"}); resp.Code != http.StatusOK {
		t.Errorf("new password should be accepted, got %d", resp.Code)
	}
}

func TestAuthLogout_ClearsCookie(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.post("/api/auth/logout", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || cookies[0].MaxAge >= 0 {
		t.Errorf("expected expired session cookie, got %+v", cookies)
	}
}

// --- Passkeys ---

func TestPasskeys_NotConfigured(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")

	resp := env.post("/api/auth/passkey/login/begin", nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("expected 404 without rp_id, got %d", resp.Code)
	}

	resp = env.get("/api/auth/passkeys")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []map[string]any
	decodeResponse(t, resp, &list)
	if len(list) != 0 {
		t.Errorf("expected no passkeys, got %v", list)
	}
}

func TestPasskeys_RenameAndDelete(t *testing.T) {
	env := setupTestEnv(t)
	env.setup("testpass123")

	pk := &db.Passkey{
		CredentialID:    []byte("cred-1"),
		PublicKey:       []byte("key"),
		AttestationType: "none",
		AAGUID:          make([]byte, 16),
		Name:            "Passkey",
	}
	if err := env.server.db.CreatePasskey(pk); err != nil {
		t.Fatalf("create passkey: %v", err)
	}

	if resp := env.patch("/api/auth/passkeys/"+pk.ID, map[string]string{"name": "  Laptop "}); resp.Code != http.StatusNoContent {
		t.Fatalf("rename: expected 204, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := env.patch("/api/auth/passkeys/"+pk.ID, map[string]string{"name": "   "}); resp.Code != http.StatusBadRequest {
		t.Errorf("blank rename: expected 400, got %d", resp.Code)
	}
	if resp := env.patch("/api/auth/passkeys/missing", map[string]string{"name": "x"}); resp.Code != http.StatusNotFound {
		t.Errorf("rename missing: expected 404, got %d", resp.Code)
	}

	resp := env.get("/api/auth/passkeys")
	var list []map[string]any
	decodeResponse(t, resp, &list)
	if len(list) != 1 || list[0]["name"] != "Laptop" || list[0]["id"] != pk.ID {
		t.Fatalf("expected renamed passkey, got %v", list)
	}
	for _, secret := range []string{"PublicKey", "publicKey", "CredentialID", "credentialId"} {
		if strings.Contains(resp.Body.String(), secret) {
			t.Errorf("passkey list leaks %s: %s", secret, resp.Body.String())
		}
	}

	if resp := env.delete("/api/auth/passkeys/" + pk.ID); resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.Code)
	}
	if resp := env.delete("/api/auth/passkeys/" + pk.ID); resp.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", resp.Code)
	}
}

func newPasskeyServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := storage.NewFSStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	cfg := config.Default()
	cfg.Auth.RPID = "localhost"
	cfg.Auth.RPOrigins = []string{"http://localhost:5173"}
	s, err := NewServer(cfg, filepath.Join(t.TempDir(), "config.yaml"), database, store, uistream.New(&agenttest.Querier{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func TestPasskeyLogin_BeginSetsCeremonyCookie(t *testing.T) {
	s := newPasskeyServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/auth/passkey/login/begin", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "challenge") {
		t.Errorf("expected assertion options with a challenge, got %s", w.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == ceremonyCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly || cookie.Path != ceremonyCookiePath {
		t.Fatalf("expected an HttpOnly ceremony cookie, got %+v", cookie)
	}
	if s.ceremonies.Take(cookie.Value, ceremonyLogin) == nil {
		t.Error("cookie does not address a pending login ceremony")
	}
}

func TestPasskeyLogin_FinishWithoutCeremony(t *testing.T) {
	s := newPasskeyServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("POST", "/api/auth/passkey/login/finish", strings.NewReader("{}")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("no cookie: expected 400, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/auth/passkey/login/finish", strings.NewReader("{}"))
	req.AddCookie(&http.Cookie{Name: ceremonyCookieName, Value: "not-a-ceremony"})
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown ceremony: expected 400, got %d", w.Code)
	}
}

func TestPasskeyLogin_RejectsForgedAssertion(t *testing.T) {
	s := newPasskeyServer(t)

	begin := httptest.NewRecorder()
	s.router.ServeHTTP(begin, httptest.NewRequest("POST", "/api/auth/passkey/login/begin", nil))
	cookies := begin.Result().Cookies()

	req := httptest.NewRequest("POST", "/api/auth/passkey/login/finish", strings.NewReader(`{"id":"x","rawId":"eA","type":"public-key","response":{}}`))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			t.Error("forged assertion must not start a session")
		}
	}
}

func TestAuthStatus_PasskeysNeedARegisteredCredential(t *testing.T) {
	s := newPasskeyServer(t)

	status := func() map[string]bool {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest("GET", "/api/auth/status", nil))
		var body map[string]bool
		decodeResponse(t, w, &body)
		return body
	}

	if status()["passkeys"] {
		t.Error("expected passkeys=false before any registration")
	}
	if err := s.db.CreatePasskey(&db.Passkey{CredentialID: []byte("c"), PublicKey: []byte("k")}); err != nil {
		t.Fatalf("create passkey: %v", err)
	}
	if !status()["passkeys"] {
		t.Error("expected passkeys=true once a credential exists")
	}
}

// --- Protected Routes Without Auth ---

func TestProtectedRoute_NoAuth(t *testing.T) {
	env := setupTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/api/auth/me"},
		{"GET", "/api/presentations"},
		{"POST", "/api/presentations"},
		{"GET", "/api/presentations/00000000-0000-0000-0000-000000000000"},
		{"POST", "/api/uploads"},
		{"POST", "/api/ai"},
		{"GET", "/api/auth/passkeys"},
	}

	for _, r := range routes {
		resp := env.request(r.method, r.path, nil)
		if resp.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", r.method, r.path, resp.Code)
		}
	}
}

func TestCORS_AllowsLocalhostOrigin(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest("OPTIONS", "/api/ai", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp := env.do(req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected localhost origin to be allowed, got %q", got)
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	allowed := []string{"http://localhost:*", "https://slides.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"http://localhost", true},
		{"https://slides.example.com", true},
		{"https://evil.example.com", false},
		{"http://localhost.evil.com:3000", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAllowedOrigin(allowed, tt.origin); got != tt.want {
			t.Errorf("isAllowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

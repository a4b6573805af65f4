package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-messaging-backend/internal/config"
	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("router_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   50,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		AutoReply: config.AutoReplyConfig{
			Enabled:         true,
			MaxRulesPerUser: 10,
			DefaultTrigger:  domain.TriggerAll,
			AllowKeywords:   true,
			AllowScheduled:  true,
			MaxDelaySeconds: 3600,
			Timezone:        "UTC",
		},
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), nil, testConfig())
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	r := newTestRouter(t)

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRouter_InboxAndMessageFlow(t *testing.T) {
	r := newTestRouter(t)

	// Resolve an inbox for u1+u2.
	w := doJSON(t, r, http.MethodPost, "/api/v1/inboxes", "u1", map[string]any{
		"participants": []string{"u2"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /inboxes = %d: %s", w.Code, w.Body.String())
	}
	var inbox domain.Inbox
	if err := json.Unmarshal(w.Body.Bytes(), &inbox); err != nil || inbox.ID == "" {
		t.Fatalf("decode inbox: %v (%s)", err, w.Body.String())
	}

	// The same set, other order and caller, resolves to the same inbox.
	w = doJSON(t, r, http.MethodPost, "/api/v1/inboxes", "u2", map[string]any{
		"participants": []string{"u1"},
	})
	var again domain.Inbox
	_ = json.Unmarshal(w.Body.Bytes(), &again)
	if again.ID != inbox.ID {
		t.Fatalf("inbox not reused: %s vs %s", again.ID, inbox.ID)
	}

	// Send a message.
	w = doJSON(t, r, http.MethodPost, "/api/v1/inboxes/"+inbox.ID+"/messages", "u1", map[string]any{
		"body": "hello there",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST message = %d: %s", w.Code, w.Body.String())
	}

	// u2 sees one unread message.
	w = doJSON(t, r, http.MethodGet, "/api/v1/inboxes/"+inbox.ID+"/unread", "u2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET unread = %d: %s", w.Code, w.Body.String())
	}
	var unread struct {
		Unread int64 `json:"unread"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &unread)
	if unread.Unread != 1 {
		t.Fatalf("unread = %d", unread.Unread)
	}

	// Mark read, then zero unread.
	w = doJSON(t, r, http.MethodPost, "/api/v1/inboxes/"+inbox.ID+"/read", "u2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST read = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/inboxes/"+inbox.ID+"/unread", "u2", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &unread)
	if unread.Unread != 0 {
		t.Fatalf("unread after mark = %d", unread.Unread)
	}

	// Listing returns the message.
	w = doJSON(t, r, http.MethodGet, "/api/v1/inboxes/"+inbox.ID+"/messages", "u2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET messages = %d: %s", w.Code, w.Body.String())
	}
	var page struct {
		Messages []domain.Message `json:"messages"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Messages) != 1 || page.Messages[0].BodyOrEmpty() != "hello there" {
		t.Fatalf("unexpected listing: %s", w.Body.String())
	}

	// Bad inbox ids are rejected at the edge.
	w = doJSON(t, r, http.MethodGet, "/api/v1/inboxes/not-a-uuid/messages", "u2", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-UUID inbox id = %d", w.Code)
	}
}

func TestRouter_AutoReplyEndToEnd(t *testing.T) {
	r := newTestRouter(t)

	// u2 installs a keyword rule.
	w := doJSON(t, r, http.MethodPost, "/api/v1/auto-replies", "u2", map[string]any{
		"message":      "Support will reply about your refund.",
		"is_active":    true,
		"trigger_type": "keywords",
		"keywords":     []string{"refund"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /auto-replies = %d: %s", w.Code, w.Body.String())
	}
	var rule domain.AutoReply
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil || rule.ID == "" {
		t.Fatalf("decode rule: %v (%s)", err, w.Body.String())
	}

	// u1 messages u2 mentioning the keyword; the rule answers.
	w = doJSON(t, r, http.MethodPost, "/api/v1/messages", "u1", map[string]any{
		"participants": []string{"u2"},
		"body":         "Where is my refund?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /messages = %d: %s", w.Code, w.Body.String())
	}
	var sent struct {
		Inbox domain.Inbox `json:"inbox"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &sent)

	w = doJSON(t, r, http.MethodGet, "/api/v1/inboxes/"+sent.Inbox.ID+"/messages", "u1", nil)
	var page struct {
		Messages []domain.Message `json:"messages"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Messages) != 2 {
		t.Fatalf("expected question + auto reply, got %d: %s", len(page.Messages), w.Body.String())
	}
	if page.Messages[1].SenderID != "u2" || page.Messages[1].BodyOrEmpty() != "Support will reply about your refund." {
		t.Fatalf("unexpected auto reply: %+v", page.Messages[1])
	}

	// Owner scoping: u1 cannot read or delete u2's rule.
	w = doJSON(t, r, http.MethodGet, "/api/v1/auto-replies/"+rule.ID, "u1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign GET rule = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/api/v1/auto-replies/"+rule.ID, "u2", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE rule = %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_CreateRuleActiveFlag(t *testing.T) {
	r := newTestRouter(t)

	// is_active omitted defaults to active.
	w := doJSON(t, r, http.MethodPost, "/api/v1/auto-replies", "u2", map[string]any{
		"message": "default active",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /auto-replies = %d: %s", w.Code, w.Body.String())
	}
	var rule domain.AutoReply
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	if !rule.IsActive {
		t.Fatalf("omitted is_active created an inactive rule")
	}

	// An explicit false survives the round trip.
	w = doJSON(t, r, http.MethodPost, "/api/v1/auto-replies", "u3", map[string]any{
		"message":   "paused",
		"is_active": false,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /auto-replies = %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/auto-replies/"+rule.ID, "u3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET rule = %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	if rule.IsActive {
		t.Fatalf("is_active=false stored as active")
	}
}

func TestRouter_IdempotentSendReplay(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/inboxes", "u1", map[string]any{
		"participants": []string{"u2"},
	})
	var inbox domain.Inbox
	_ = json.Unmarshal(w.Body.Bytes(), &inbox)

	send := func() *httptest.ResponseRecorder {
		body := bytes.NewBufferString(`{"body":"only once"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/inboxes/"+inbox.ID+"/messages", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set("Idempotency-Key", "key-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("first send = %d: %s", first.Code, first.Body.String())
	}
	second := send()
	if second.Code != http.StatusOK {
		t.Fatalf("replayed send = %d: %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay header on second send")
	}

	var firstResp, secondResp struct {
		Message domain.Message `json:"message"`
	}
	_ = json.Unmarshal(first.Body.Bytes(), &firstResp)
	_ = json.Unmarshal(second.Body.Bytes(), &secondResp)
	if firstResp.Message.ID != secondResp.Message.ID {
		t.Fatalf("replay returned a different message: %s vs %s", firstResp.Message.ID, secondResp.Message.ID)
	}
}

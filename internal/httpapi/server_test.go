package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var httpTestScheduledAt = time.Date(2026, time.March, 14, 19, 0, 0, 0, time.UTC)

func TestReservationLifecycleOverHTTP(t *testing.T) {
	server, _ := startTestServer(t, testConfig(""))

	reservationID := registerReservation(t, server, nil, httpTestScheduledAt, 10)

	confirm := execRequest(t, server, http.MethodPatch, "/api/reservations/"+reservationID+"/status", nil, map[string]any{"action": "Confirmed"})
	if confirm.status != http.StatusOK || confirm.body["ok"] != true {
		t.Fatalf("confirm failed: %d %v", confirm.status, confirm.body)
	}

	assign := execRequest(t, server, http.MethodPost, "/api/reservations/"+reservationID+"/tables", nil, map[string]any{
		"table_numbers": []int{3, 5},
		"party_size":    10,
	})
	if assign.status != http.StatusOK {
		t.Fatalf("assign failed: %d %v", assign.status, assign.body)
	}
	if assign.body["allowed_capacity"] != float64(12) || assign.body["party_size"] != float64(10) {
		t.Fatalf("unexpected seating payload: %v", assign.body)
	}
	tables, _ := assign.body["tables"].([]any)
	if len(tables) != 2 {
		t.Fatalf("expected two tables, got %v", assign.body["tables"])
	}
	firstTable, _ := tables[0].(map[string]any)
	if firstTable["no"] != float64(3) || firstTable["capacity"] != float64(4) {
		t.Fatalf("unexpected table payload: %v", firstTable)
	}

	paid := execRequest(t, server, http.MethodPatch, "/api/reservations/"+reservationID+"/status", nil, map[string]any{
		"action":         "paid",
		"payment_method": "Credit Card",
		"billing": map[string]any{
			"package_name":  "Buffet",
			"package_price": 399,
			"adults":        4,
			"children":      2,
			"items":         []map[string]any{{"name": "Soda", "quantity": 2, "unit_price": 50}},
		},
	})
	if paid.status != http.StatusOK {
		t.Fatalf("pay failed: %d %v", paid.status, paid.body)
	}
	bill, _ := paid.body["bill"].(map[string]any)
	if bill["total"] != float64(2096) || bill["payment_method"] != "card" || bill["status"] != "paid" {
		t.Fatalf("unexpected bill summary: %v", bill)
	}
	if id, _ := bill["bill_id"].(string); id == "" {
		t.Fatalf("expected bill id, got %v", bill)
	}

	described := execRequest(t, server, http.MethodGet, "/api/reservations/"+reservationID, nil, nil)
	if described.status != http.StatusOK {
		t.Fatalf("describe failed: %d %v", described.status, described.body)
	}
	reservation, _ := described.body["reservation"].(map[string]any)
	if reservation["status"] != "paid" {
		t.Fatalf("expected paid reservation, got %v", reservation)
	}
	window, _ := described.body["dining_window"].(map[string]any)
	if window["start"] != httpTestScheduledAt.Add(-90*time.Minute).Format(time.RFC3339) {
		t.Fatalf("unexpected dining window: %v", window)
	}
	if activeTables, _ := described.body["tables"].([]any); len(activeTables) != 0 {
		t.Fatalf("expected tables released after payment, got %v", activeTables)
	}
	describedBill, _ := described.body["bill"].(map[string]any)
	if lines, _ := describedBill["lines"].([]any); len(lines) != 3 {
		t.Fatalf("expected three bill lines, got %v", describedBill["lines"])
	}

	history := execRequest(t, server, http.MethodGet, "/api/reservations/"+reservationID+"/history", nil, nil)
	events, _ := history.body["history"].([]any)
	if len(events) != 4 {
		t.Fatalf("expected four status events, got %v", history.body)
	}
	lastEvent, _ := events[3].(map[string]any)
	if lastEvent["from"] != "seated" || lastEvent["to"] != "paid" {
		t.Fatalf("unexpected final event: %v", lastEvent)
	}
}

func TestAssignTablesErrorsOverHTTP(t *testing.T) {
	server, _ := startTestServer(t, testConfig(""))

	seated := registerReservation(t, server, nil, httpTestScheduledAt, 4)
	seatResponse := execRequest(t, server, http.MethodPatch, "/api/reservations/"+seated+"/status", nil, map[string]any{
		"action":        "seat",
		"table_numbers": []int{3},
	})
	if seatResponse.status != http.StatusOK {
		t.Fatalf("seat failed: %d %v", seatResponse.status, seatResponse.body)
	}

	late := registerReservation(t, server, nil, httpTestScheduledAt.Add(time.Hour), 4)
	execRequest(t, server, http.MethodPatch, "/api/reservations/"+late+"/status", nil, map[string]any{"action": "confirm"})

	conflict := execRequest(t, server, http.MethodPost, "/api/reservations/"+late+"/tables", nil, map[string]any{"table_numbers": []int{3}})
	assertError(t, conflict, http.StatusConflict, "table_conflict")
	if message := errorMessage(conflict); !strings.Contains(message, "3") {
		t.Fatalf("expected conflict message to name table 3, got %q", message)
	}

	capacity := execRequest(t, server, http.MethodPost, "/api/reservations/"+late+"/tables", nil, map[string]any{"table_numbers": []int{1}, "party_size": 10})
	assertError(t, capacity, http.StatusUnprocessableEntity, "capacity_exceeded")

	unknown := execRequest(t, server, http.MethodPost, "/api/reservations/"+late+"/tables", nil, map[string]any{"table_numbers": []int{42}})
	assertError(t, unknown, http.StatusNotFound, "tables_not_found")

	empty := execRequest(t, server, http.MethodPost, "/api/reservations/"+late+"/tables", nil, map[string]any{"table_numbers": []int{}})
	assertError(t, empty, http.StatusBadRequest, "no_tables_requested")

	cancelled := execRequest(t, server, http.MethodPatch, "/api/reservations/"+seated+"/status", nil, map[string]any{"action": "cancel", "reason": "walked out"})
	if cancelled.status != http.StatusOK {
		t.Fatalf("cancel failed: %d %v", cancelled.status, cancelled.body)
	}
	terminal := execRequest(t, server, http.MethodPost, "/api/reservations/"+seated+"/tables", nil, map[string]any{"table_numbers": []int{5}})
	assertError(t, terminal, http.StatusConflict, "already_terminal")
}

func TestStatusEndpointRejectsBadRequests(t *testing.T) {
	server, _ := startTestServer(t, testConfig(""))
	reservationID := registerReservation(t, server, nil, httpTestScheduledAt, 2)

	invalidAction := execRequest(t, server, http.MethodPatch, "/api/reservations/"+reservationID+"/status", nil, map[string]any{"action": "teleport"})
	assertError(t, invalidAction, http.StatusBadRequest, "invalid_action")

	notSeated := execRequest(t, server, http.MethodPatch, "/api/reservations/"+reservationID+"/status", nil, map[string]any{"action": "paid"})
	assertError(t, notSeated, http.StatusConflict, "invalid_transition")

	missing := execRequest(t, server, http.MethodGet, "/api/reservations/does-not-exist", nil, nil)
	assertError(t, missing, http.StatusNotFound, "not_found")

	badSchedule := execRequest(t, server, http.MethodPost, "/api/reservations", nil, map[string]any{"party_size": 2})
	assertError(t, badSchedule, http.StatusBadRequest, "invalid_schedule")
}

func TestPaymentRejectsOutOfRangeAmounts(t *testing.T) {
	server, _ := startTestServer(t, testConfig(""))
	reservationID := registerReservation(t, server, nil, httpTestScheduledAt, 2)
	seat := execRequest(t, server, http.MethodPatch, "/api/reservations/"+reservationID+"/status", nil, map[string]any{
		"action":        "seat",
		"table_numbers": []int{1},
	})
	if seat.status != http.StatusOK {
		t.Fatalf("seat failed: %d %v", seat.status, seat.body)
	}

	billings := map[string]map[string]any{
		"unit price":    {"items": []map[string]any{{"name": "Caviar", "quantity": 1, "unit_price": 1e17}}},
		"package price": {"package_price": 1e300},
		"line subtotal": {"items": []map[string]any{{"name": "Caviar", "quantity": 3, "unit_price": 90_000_000_000}}},
	}
	for name, billing := range billings {
		paid := execRequest(t, server, http.MethodPatch, "/api/reservations/"+reservationID+"/status", nil, map[string]any{
			"action":  "paid",
			"billing": billing,
		})
		if paid.status != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %v", name, paid.status, paid.body)
		}
		assertError(t, paid, http.StatusBadRequest, "amount_overflow")
	}

	described := execRequest(t, server, http.MethodGet, "/api/reservations/"+reservationID, nil, nil)
	reservation, _ := described.body["reservation"].(map[string]any)
	if reservation["status"] != "seated" {
		t.Fatalf("expected reservation to stay seated, got %v", reservation)
	}
	if activeTables, _ := described.body["tables"].([]any); len(activeTables) != 1 {
		t.Fatalf("expected table 1 to stay held, got %v", described.body["tables"])
	}
	if described.body["bill"] != nil {
		t.Fatalf("expected no bill, got %v", described.body["bill"])
	}
}

func TestSessionCookieRequiredAndRecordedAsActor(t *testing.T) {
	cfg := testConfig("secret-key")
	server, _ := startTestServer(t, cfg)

	unauthenticated := execRequest(t, server, http.MethodPost, "/api/reservations", nil, map[string]any{
		"scheduled_at": httpTestScheduledAt,
		"party_size":   2,
	})
	if unauthenticated.status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", unauthenticated.status)
	}

	cookie := buildSessionCookie(t, cfg)
	reservationID := registerReservation(t, server, cookie, httpTestScheduledAt, 2)
	cancelled := execRequest(t, server, http.MethodPatch, "/api/reservations/"+reservationID+"/status", cookie, map[string]any{
		"action":   "cancel",
		"reason":   "no show",
		"actor_id": "someone-else",
	})
	if cancelled.status != http.StatusOK {
		t.Fatalf("cancel failed: %d %v", cancelled.status, cancelled.body)
	}

	described := execRequest(t, server, http.MethodGet, "/api/reservations/"+reservationID, cookie, nil)
	reservation, _ := described.body["reservation"].(map[string]any)
	cancellation, _ := reservation["cancellation"].(map[string]any)
	if cancellation["actor_id"] != "demo-user" || cancellation["reason"] != "no show" {
		t.Fatalf("expected session actor on cancellation, got %v", reservation)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := startTestServer(t, testConfig(""))
	response := execRequest(t, server, http.MethodGet, "/healthz", nil, nil)
	if response.status != http.StatusOK || response.body["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", response.status, response.body)
	}
}

func TestConfigValidateFillsDefaults(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.RequestTimeout != defaultRequestTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SessionsEnabled() {
		t.Fatalf("sessions should be disabled without a signing key")
	}
	wildcard := Config{AllowedOrigins: []string{"*"}}
	if err := wildcard.Validate(); err == nil {
		t.Fatalf("expected wildcard origin to be rejected")
	}
	origins := ParseAllowedOrigins(" http://a.test , ,http://b.test")
	if len(origins) != 2 || origins[0] != "http://a.test" || origins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", origins)
	}
}

func TestClassifyErrorPrefersTerminal(t *testing.T) {
	terminal := queue.WrapError("assign", "res-1", "already_terminal", queue.ErrAlreadyTerminal)
	status, code := classifyError(terminal)
	if status != http.StatusConflict || code != "already_terminal" {
		t.Fatalf("unexpected classification %d %s", status, code)
	}
	status, code = classifyError(queue.StorageError(context.Canceled))
	if status != http.StatusInternalServerError || code != "storage_failure" {
		t.Fatalf("unexpected storage classification %d %s", status, code)
	}
}

type testResponse struct {
	status int
	body   map[string]any
}

func testConfig(signingKey string) Config {
	cfg := Config{
		ListenAddr:        ":0",
		AllowedOrigins:    []string{"http://localhost:8000"},
		RequestTimeout:    2 * time.Second,
		SessionSigningKey: signingKey,
		SessionIssuer:     "tauth",
		SessionCookieName: "app_session",
	}
	return cfg
}

func startTestServer(t *testing.T, cfg Config) (*httptest.Server, *gormstore.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/httpapi.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}
	store := gormstore.New(db)
	catalog := []queue.Table{{Number: 1, Capacity: 2}, {Number: 3, Capacity: 4}, {Number: 5, Capacity: 4}, {Number: 7, Capacity: 6}}
	if err := store.UpsertTables(context.Background(), catalog); err != nil {
		t.Fatalf("seed tables failed: %v", err)
	}
	service, err := queue.NewService(store, func() time.Time { return time.Now().UTC() })
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate failed: %v", err)
	}
	validator, err := NewSessionValidator(cfg)
	if err != nil {
		t.Fatalf("validator init failed: %v", err)
	}
	server := httptest.NewServer(NewRouter(cfg, service, zap.NewNop(), validator))
	t.Cleanup(server.Close)
	return server, store
}

func registerReservation(t *testing.T, server *httptest.Server, cookie *http.Cookie, scheduledAt time.Time, partySize int) string {
	t.Helper()
	response := execRequest(t, server, http.MethodPost, "/api/reservations", cookie, map[string]any{
		"scheduled_at": scheduledAt,
		"party_size":   partySize,
		"contact_name": "Somchai",
	})
	if response.status != http.StatusCreated {
		t.Fatalf("register failed: %d %v", response.status, response.body)
	}
	reservation, _ := response.body["reservation"].(map[string]any)
	reservationID, _ := reservation["id"].(string)
	if reservationID == "" || reservation["status"] != "waiting" {
		t.Fatalf("unexpected registration payload: %v", response.body)
	}
	return reservationID
}

func execRequest(t *testing.T, server *httptest.Server, method string, path string, cookie *http.Cookie, payload map[string]any) testResponse {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, server.URL+path, &body)
	if err != nil {
		t.Fatalf("request init failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return testResponse{status: resp.StatusCode, body: decoded}
}

func assertError(t *testing.T, response testResponse, status int, code string) {
	t.Helper()
	if response.status != status {
		t.Fatalf("expected status %d, got %d (%v)", status, response.status, response.body)
	}
	errorBody, _ := response.body["error"].(map[string]any)
	if errorBody["code"] != code {
		t.Fatalf("expected code %s, got %v", code, response.body)
	}
}

func errorMessage(response testResponse) string {
	errorBody, _ := response.body["error"].(map[string]any)
	message, _ := errorBody["message"].(string)
	return message
}

func buildSessionCookie(t *testing.T, cfg Config) *http.Cookie {
	t.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          "demo-user",
		UserEmail:       "demo@example.com",
		UserDisplayName: "Demo",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: cfg.SessionCookieName, Value: signed}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testSigningKey = []byte("test-signing-key-with-32-bytes!!")

func signToken(t *testing.T, claims PatientClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func patientClaims(patient string, expires time.Duration) PatientClaims {
	return PatientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://auth.example.org",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expires)),
		},
		Patient: patient,
	}
}

func echoPatient(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetPatientID(r.Context())))
}

func TestPatientAuth(t *testing.T) {
	handler := PatientAuth(JWTConfig{SigningKey: testSigningKey, Issuer: "https://auth.example.org"})(http.HandlerFunc(echoPatient))

	otherKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, patientClaims("p1", time.Hour)).SignedString([]byte("another-key"))
	wrongIssuer := patientClaims("p1", time.Hour)
	wrongIssuer.Issuer = "https://evil.example.org"

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"valid token", "Bearer " + signToken(t, patientClaims("p1", time.Hour)), http.StatusOK, "p1"},
		{"lowercase scheme", "bearer " + signToken(t, patientClaims("p2", time.Hour)), http.StatusOK, "p2"},
		{"missing header", "", http.StatusUnauthorized, "missing bearer token"},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "missing bearer token"},
		{"expired", "Bearer " + signToken(t, patientClaims("p1", -time.Minute)), http.StatusUnauthorized, "token expired"},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized, "invalid token"},
		{"wrong issuer", "Bearer " + signToken(t, wrongIssuer), http.StatusUnauthorized, "invalid token"},
		{"no patient claim", "Bearer " + signToken(t, patientClaims("", time.Hour)), http.StatusForbidden, "no patient context"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/fhir/care-gaps", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestPatientAuthRejectsNoneAlgorithm(t *testing.T) {
	token, _ := jwt.NewWithClaims(jwt.SigningMethodNone, patientClaims("p1", time.Hour)).SignedString(jwt.UnsafeAllowNoneSignatureType)

	handler := PatientAuth(JWTConfig{SigningKey: testSigningKey})(http.HandlerFunc(echoPatient))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for alg none, got %d", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth(map[string]string{"k1": "portal"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetClientID(r.Context())))
	}))

	tests := []struct {
		key      string
		wantCode int
	}{
		{"k1", http.StatusOK},
		{"nope", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.key != "" {
			req.Header.Set("X-API-Key", tt.key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.wantCode {
			t.Errorf("key %q: expected %d, got %d", tt.key, tt.wantCode, rec.Code)
		}
		if tt.wantCode == http.StatusOK && rec.Body.String() != "portal" {
			t.Errorf("expected client portal in context, got %q", rec.Body.String())
		}
	}
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetRequestID(r.Context())))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Body.String() != "req-123" || rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("expected incoming request id to be kept, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Body.String()) != 36 {
		t.Errorf("expected a generated uuid, got %q", rec.Body.String())
	}
}

func TestLoggerRecordsIdentityAndLevel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	handler := Logger(logger)(APIKeyAuth(map[string]string{"k1": "portal"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/p1/care-gaps", nil)
	req.Header.Set("X-API-Key", "k1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zap.ErrorLevel {
		t.Errorf("expected error level for 502, got %s", entry.Level)
	}
	if entry.ContextMap()["client_id"] != "portal" {
		t.Errorf("expected client_id portal, got %v", entry.ContextMap())
	}
	if entry.ContextMap()["status"] != int64(http.StatusBadGateway) {
		t.Errorf("expected status 502, got %v", entry.ContextMap()["status"])
	}
}

func TestRecover(t *testing.T) {
	handler := Recover(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	handler := CORS("https://portal.example.org")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://portal.example.org" {
		t.Errorf("expected origin to be allowed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://other.example.org")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origins must not be allowed")
	}
}

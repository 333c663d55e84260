package webserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/config"
)

const (
	testKey    = "test-api-key"
	testSecret = "test-secret"
)

func newTestServer(t *testing.T, debug bool) *WebServer {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.Web.ApiKey = testKey
	cfg.Web.Secret = testSecret
	cfg.System.Debug = debug
	s, err := NewWebServer(&cfg)
	if err != nil {
		t.Fatalf("NewWebServer() error = %v", err)
	}
	s.ApiGET("/ping", func(c echo.Context) error {
		return Reply(c, http.StatusOK, "pong", Response{"n": 1})
	})
	s.ApiGET("/panic", func(c echo.Context) error {
		panic("database exploded")
	})
	s.RootGET("/health", func(c echo.Context) error {
		return Reply(c, http.StatusOK, "ok", nil)
	})
	return s
}

func do(s *WebServer, method, target string, header map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestAuthenticate(t *testing.T) {
	s := newTestServer(t, false)
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"no credentials", "/api/ping", nil, http.StatusUnauthorized},
		{"wrong api key", "/api/ping", map[string]string{"x-api-key": "nope"}, http.StatusUnauthorized},
		{"api key header", "/api/ping", map[string]string{"x-api-key": testKey}, http.StatusOK},
		{"api key query", "/api/ping?api_key=" + testKey, nil, http.StatusOK},
		{"valid token", "/api/ping", map[string]string{"Authorization": "Bearer " + signToken(t, testSecret, time.Now().Add(time.Hour))}, http.StatusOK},
		{"foreign token", "/api/ping", map[string]string{"Authorization": "Bearer " + signToken(t, "other", time.Now().Add(time.Hour))}, http.StatusForbidden},
		{"expired token", "/api/ping", map[string]string{"Authorization": "Bearer " + signToken(t, testSecret, time.Now().Add(-time.Hour))}, http.StatusForbidden},
		{"empty bearer", "/api/ping", map[string]string{"Authorization": "Bearer "}, http.StatusUnauthorized},
		{"health is public", "/health", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(s, http.MethodGet, tt.target, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if success, _ := body["success"].(bool); success != (tt.want == http.StatusOK) {
				t.Errorf("success = %v", body["success"])
			}
		})
	}
}

func TestEnvelope(t *testing.T) {
	s := newTestServer(t, false)
	rec, body := do(s, http.MethodGet, "/api/ping", map[string]string{"x-api-key": testKey})
	if rec.Code != http.StatusOK || body["message"] != "pong" || body["n"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("missing request id")
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, false)
	rec, body := do(s, http.MethodGet, "/nowhere", nil)
	if rec.Code != http.StatusNotFound || body["message"] != "Endpoint not found" || body["success"] != false {
		t.Errorf("404 = %d %v", rec.Code, body)
	}
}

func TestPanicBoundary(t *testing.T) {
	hidden := newTestServer(t, false)
	rec, body := do(hidden, http.MethodGet, "/api/panic", map[string]string{"x-api-key": testKey})
	if rec.Code != http.StatusInternalServerError || body["code"] != "INTERNAL_ERROR" {
		t.Fatalf("panic = %d %v", rec.Code, body)
	}
	if _, ok := body["error"]; ok {
		t.Errorf("production response leaks detail: %v", body)
	}

	verbose := newTestServer(t, true)
	_, body = do(verbose, http.MethodGet, "/api/panic", map[string]string{"x-api-key": testKey})
	if detail, _ := body["error"].(string); !strings.Contains(detail, "database exploded") {
		t.Errorf("debug response detail = %v", body["error"])
	}
}

type sample struct {
	PhoneNumber string   `json:"phoneNumber" validate:"required"`
	Type        string   `json:"type" validate:"omitempty,oneof=image video"`
	Members     []string `json:"participants" validate:"min=1"`
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		in   sample
		want string
	}{
		{sample{Members: []string{"a"}}, "phoneNumber is required"},
		{sample{PhoneNumber: "1", Type: "gif", Members: []string{"a"}}, "type must be one of: image, video"},
		{sample{PhoneNumber: "1"}, "participants must have at least 1 entries"},
		{sample{PhoneNumber: "1", Type: "image", Members: []string{"a"}}, ""},
	}
	for _, tt := range tests {
		err := v.Validate(&tt.in)
		got := ""
		if err != nil {
			got = err.Error()
		}
		if got != tt.want {
			t.Errorf("Validate(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

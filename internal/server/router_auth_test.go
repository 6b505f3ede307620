package server

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestHealthOK(t *testing.T) {
	app := newTestApp(t)
	rec := performRequest(t, app.router, http.MethodGet, "/health", "", nil)
	expectStatus(t, rec, http.StatusOK)

	body := decodeJSONMap(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}
	if body["service"] != "matti-api" {
		t.Fatalf("expected service=matti-api, got %v", body["service"])
	}
	if version, _ := body["keywords_version"].(string); version == "" {
		t.Fatalf("expected keywords_version to be reported")
	}
}

func TestMetricsEndpointExposesRequestCounter(t *testing.T) {
	app := newTestApp(t)
	performRequest(t, app.router, http.MethodGet, "/health", "", nil)

	rec := performRequest(t, app.router, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `matti_http_requests_total{method="GET",path="/health",status_code="200"} 1`) {
		t.Fatalf("expected health request to be counted, body=%s", rec.Body.String())
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	cfg := newTestConfig()
	cfg.MetricsEnabled = false
	app := newTestAppWithConfig(t, cfg)

	rec := performRequest(t, app.router, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestProtectedEndpointRejectsMissingBearerToken(t *testing.T) {
	app := newTestApp(t)
	rec := performRequest(t, app.router, http.MethodGet, "/api/v1/actions", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if detail := responseDetail(t, rec); detail != "Bearer token required" {
		t.Fatalf("expected Bearer token required, got %q", detail)
	}
}

func TestProtectedEndpointRejectsMalformedToken(t *testing.T) {
	app := newTestApp(t)
	rec := performRequest(t, app.router, http.MethodGet, "/api/v1/actions", "not-a-jwt", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if detail := responseDetail(t, rec); detail != "Invalid bearer token" {
		t.Fatalf("expected invalid bearer token detail, got %q", detail)
	}
}

func TestProtectedEndpointRejectsTokenWithoutSub(t *testing.T) {
	app := newTestApp(t)
	token := signToken(t, "", nil)

	rec := performRequest(t, app.router, http.MethodGet, "/api/v1/actions", token, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if detail := responseDetail(t, rec); detail != "Token subject missing" {
		t.Fatalf("expected token subject missing detail, got %q", detail)
	}
}

func TestProtectedEndpointRejectsExpiredToken(t *testing.T) {
	app := newTestApp(t)
	token := signToken(t, testID(), map[string]any{
		"exp": time.Now().UTC().Add(-1 * time.Minute).Unix(),
	})

	rec := performRequest(t, app.router, http.MethodGet, "/api/v1/actions", token, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if detail := responseDetail(t, rec); detail != "Invalid bearer token" {
		t.Fatalf("expected invalid bearer token detail, got %q", detail)
	}
}

func TestProtectedEndpointRejectsWrongSecret(t *testing.T) {
	app := newTestApp(t)
	cfg := newTestConfig()
	cfg.JWTSecret = "another-secret-0987654321"
	token := signTokenWithConfig(t, cfg, testID(), nil)

	rec := performRequest(t, app.router, http.MethodGet, "/api/v1/actions", token, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestProtectedEndpointChecksAudienceAndIssuer(t *testing.T) {
	cfg := newTestConfig()
	cfg.JWTAudience = "matti-app"
	cfg.JWTIssuer = "matti-auth"
	app := newTestAppWithConfig(t, cfg)
	userID := testID()

	rec := performRequest(t, app.router, http.MethodGet, "/api/v1/actions",
		signTokenWithConfig(t, cfg, userID, map[string]any{"aud": "other-app"}), nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if detail := responseDetail(t, rec); detail != "Invalid token audience" {
		t.Fatalf("expected audience detail, got %q", detail)
	}

	rec = performRequest(t, app.router, http.MethodGet, "/api/v1/actions",
		signTokenWithConfig(t, cfg, userID, map[string]any{"iss": "someone-else"}), nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if detail := responseDetail(t, rec); detail != "Invalid token issuer" {
		t.Fatalf("expected issuer detail, got %q", detail)
	}

	rec = performRequest(t, app.router, http.MethodGet, "/api/v1/actions",
		signTokenWithConfig(t, cfg, userID, map[string]any{"aud": []string{"x", "matti-app"}}), nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestInvalidJSONPayload(t *testing.T) {
	app := newTestApp(t)
	token := signToken(t, testID(), nil)

	rec := performRequest(t, app.router, http.MethodPost, "/api/v1/actions", token, "not-an-object")
	expectStatus(t, rec, http.StatusBadRequest)
	if detail := responseDetail(t, rec); detail != "Invalid request payload" {
		t.Fatalf("expected invalid payload detail, got %q", detail)
	}
}

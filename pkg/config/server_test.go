package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/pkg/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, b *builder.Builder) *Server {
	t.Helper()
	b.WithDatabase(models.DatabaseConfig{
		Type:     models.SQLite,
		FilePath: filepath.Join(t.TempDir(), "server.db"),
	}).Environment("production").LogLevel("error")

	srv := NewServerWithBuilder(b)
	require.NoError(t, srv.Setup(context.Background()))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestServerSetupServesPublicRoutes(t *testing.T) {
	srv := newTestServer(t, builder.New().
		WithAuth(models.AuthConfig{JWTSecret: "server-test"}).
		WithStripe("sk_test_x", "whsec_x").
		WithVoiceWebhook("whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"))

	status, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, body = get(t, srv, "/v1/pricing")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["tiers"], 5)

	status, _ = get(t, srv, "/v1/balance")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
}

func TestServerWithoutAuthHidesUserRoutes(t *testing.T) {
	srv := newTestServer(t, builder.New())

	status, _ := get(t, srv, "/v1/balance")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, srv, "/v1/pricing")
	assert.Equal(t, http.StatusOK, status)
}

func TestServerSetupRejectsInvalidConfig(t *testing.T) {
	srv := NewServerWithBuilder(builder.New().ValidityPeriodDays(-1))
	assert.Error(t, srv.Setup(context.Background()))
}

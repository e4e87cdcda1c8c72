package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"fieldops/internal/config"

	"github.com/stretchr/testify/assert"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "reader", Extra: "r-secret", Name: "dashboard", Permissions: []string{permReadJobs}},
				{Key: "admin", Extra: "a-secret", Name: "ops"},
			},
		},
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, authConfig())

	reader := map[string]string{"X-API-Key": "reader", "X-API-Extra": "r-secret"}
	admin := map[string]string{"X-API-Key": "admin", "X-API-Extra": "a-secret"}

	t.Run("MissingHeaders", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/jobs", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"X-API-Key": "nope", "X-API-Extra": "x"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongExtra", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"X-API-Key": "reader", "X-API-Extra": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ReaderCanList", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/jobs", nil, reader)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("ReaderCannotWrite", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"category": "Instalasi"}, reader)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("ReaderCannotSync", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/sheets/sync", nil, reader)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("EmptyPermissionsAllowAll", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/sheets/sync", nil, admin)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("HealthzIsPublic", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/healthz", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}}
	env := newTestEnv(t, cfg)

	resp := env.do(t, http.MethodGet, "/api/v1/jobs", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/v1/jobs", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// other clients have their own bucket
	resp = env.do(t, http.MethodGet, "/api/v1/jobs", nil, map[string]string{"X-API-Key": "someone-else"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiredPermission(t *testing.T) {
	cases := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v1/jobs", permReadJobs},
		{http.MethodGet, "/api/v1/jobs/export", permReadJobs},
		{http.MethodDelete, "/api/v1/jobs/3", permWriteJobs},
		{http.MethodPut, "/api/v1/jobs/3", permWriteJobs},
		{http.MethodGet, "/api/v1/sheets/status", permSyncSheets},
		{http.MethodGet, "/api/v1/categories", permReadJobs},
		{http.MethodGet, "/api/v1/other", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		assert.Equal(t, tc.want, requiredPermission(r), tc.method+" "+tc.path)
	}
}

package router

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/snowflake-id/app/handlers"
	"github.com/amirphl/snowflake-id/app/middleware"
	"github.com/amirphl/snowflake-id/app/services"
	businessflow "github.com/amirphl/snowflake-id/business_flow"
	"github.com/amirphl/snowflake-id/config"
	"github.com/amirphl/snowflake-id/repository"
	testingutil "github.com/amirphl/snowflake-id/testing"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testServer struct {
	app    *fiber.App
	store  *testingutil.MemoryCounterStore
	clock  *testingutil.Clock
	tokens services.TokenService
}

func newTestServer(t *testing.T, adminAPI bool) *testServer {
	t.Helper()

	store := testingutil.NewMemoryCounterStore()
	clock := testingutil.NewClock(utils.DefaultEpoch.Add(time.Second))
	tokens, err := services.NewTokenService(time.Hour, "snowflake-id", "snowflake-id-admin", false, "", "", "router-test-secret")
	require.NoError(t, err)

	snowflake := businessflow.NewSnowflakeFlow(store, businessflow.SnowflakeOptions{Now: clock.Now})
	provisioning := businessflow.NewProvisioningFlow(store, 2, log.New(io.Discard, "", 0))

	r := NewFiberRouter(
		Options{
			Server: config.ServerConfig{
				EnableAdminAPI: adminAPI,
				AllowedOrigins: []string{"*"},
			},
			Version:    "test",
			Deployment: "test",
		},
		handlers.NewSnowflakeHandler(snowflake),
		handlers.NewProvisioningHandler(provisioning, []string{"orders", "users"}, store.Backend()),
		middleware.NewAuthMiddleware(tokens),
	)
	r.SetupRoutes()

	return &testServer{app: r.GetApp(), store: store, clock: clock, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) (int, apiEnvelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	token, _, err := s.tokens.GenerateAdminToken(1)
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	status, env := s.do(t, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestGenerateIDs(t *testing.T) {
	s := newTestServer(t, false)
	s.store.Seed("orders", 4)

	status, env := s.do(t, http.MethodPost, "/api/v1/entities/orders/ids", "", "")
	require.Equal(t, http.StatusCreated, status)

	var data struct {
		Entity    string   `json:"entity"`
		IDs       []int64  `json:"ids"`
		IDStrings []string `json:"id_strings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "orders", data.Entity)
	require.Len(t, data.IDs, 1)
	assert.Equal(t, int64(1000)<<utils.TimestampShift|5, data.IDs[0])
	assert.Equal(t, strconv.FormatInt(data.IDs[0], 10), data.IDStrings[0])
}

func TestGenerateIDsBatch(t *testing.T) {
	s := newTestServer(t, false)
	s.store.Seed("orders", 0)

	status, env := s.do(t, http.MethodPost, "/api/v1/entities/orders/ids", `{"count":3}`, "")
	require.Equal(t, http.StatusCreated, status)

	var data struct {
		IDs []int64 `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.IDs, 3)
	assert.Less(t, data.IDs[0], data.IDs[1])
	assert.Less(t, data.IDs[1], data.IDs[2])
}

func TestGenerateIDsErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		setup  func(s *testServer)
		status int
		code   string
	}{
		{
			name:   "not provisioned",
			path:   "/api/v1/entities/orders/ids",
			status: http.StatusNotFound,
			code:   businessflow.CodeNotProvisioned,
		},
		{
			name:   "invalid entity",
			path:   "/api/v1/entities/1orders/ids",
			status: http.StatusBadRequest,
			code:   businessflow.CodeInvalidEntityName,
		},
		{
			name:   "count too large",
			path:   "/api/v1/entities/orders/ids",
			body:   `{"count":1001}`,
			status: http.StatusBadRequest,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "malformed body",
			path:   "/api/v1/entities/orders/ids",
			body:   `{"count":`,
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name: "storage unavailable",
			path: "/api/v1/entities/orders/ids",
			setup: func(s *testServer) {
				s.store.Seed("orders", 0)
				s.store.FailNext("orders", repository.ErrStorageUnavailable)
			},
			status: http.StatusServiceUnavailable,
			code:   businessflow.CodeStorageUnavailable,
		},
		{
			name: "clock before epoch",
			path: "/api/v1/entities/orders/ids",
			setup: func(s *testServer) {
				s.store.Seed("orders", 0)
				s.clock.Set(utils.DefaultEpoch.Add(-time.Millisecond))
			},
			status: http.StatusInternalServerError,
			code:   businessflow.CodeClockBeforeEpoch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			if tt.setup != nil {
				tt.setup(s)
			}
			status, env := s.do(t, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestDecodeID(t *testing.T) {
	s := newTestServer(t, false)
	id := int64(1000)<<utils.TimestampShift | 5

	status, env := s.do(t, http.MethodGet, "/api/v1/ids/"+strconv.FormatInt(id, 10), "", "")
	require.Equal(t, http.StatusOK, status)

	var data struct {
		ElapsedMs  int64 `json:"elapsed_ms"`
		Sequence   int64 `json:"sequence"`
		UnixMillis int64 `json:"unix_millis"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(1000), data.ElapsedMs)
	assert.Equal(t, int64(5), data.Sequence)
	assert.Equal(t, utils.DefaultEpoch.UnixMilli()+1000, data.UnixMillis)
}

func TestDecodeIDRejectsGarbage(t *testing.T) {
	s := newTestServer(t, false)
	for _, raw := range []string{"abc", "-5", "99999999999999999999"} {
		status, env := s.do(t, http.MethodGet, "/api/v1/ids/"+raw, "", "")
		assert.Equal(t, http.StatusBadRequest, status, raw)
		assert.Equal(t, businessflow.CodeInvalidID, env.Error.Code, raw)
	}
}

func TestReady(t *testing.T) {
	s := newTestServer(t, false)

	status, _ := s.do(t, http.MethodGet, "/api/v1/ready", "", "")
	assert.Equal(t, http.StatusOK, status)

	s.store.SetPingError(errors.New("connection refused"))
	status, env := s.do(t, http.MethodGet, "/api/v1/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, businessflow.CodeStorageUnavailable, env.Error.Code)
}

func TestProvisionRequiresAdminToken(t *testing.T) {
	s := newTestServer(t, true)

	status, env := s.do(t, http.MethodPost, "/api/v1/admin/provision", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "MISSING_AUTHORIZATION_HEADER", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/v1/admin/provision", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_INVALID", env.Error.Code)
}

func TestProvisionTokenIsStatelessUntilExpiry(t *testing.T) {
	s := newTestServer(t, true)
	token := s.adminToken(t)

	for i := 0; i < 3; i++ {
		status, _ := s.do(t, http.MethodPost, "/api/v1/admin/provision", `{"entities":["orders"]}`, token)
		assert.Equal(t, http.StatusOK, status)
	}

	foreign, err := services.NewTokenService(time.Hour, "snowflake-id", "snowflake-id-admin", false, "", "", "another-secret")
	require.NoError(t, err)
	other, _, err := foreign.GenerateAdminToken(1)
	require.NoError(t, err)

	status, env := s.do(t, http.MethodPost, "/api/v1/admin/provision", "", other)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_INVALID", env.Error.Code)
}

func TestProvisionConfiguredEntities(t *testing.T) {
	s := newTestServer(t, true)
	token := s.adminToken(t)

	status, env := s.do(t, http.MethodPost, "/api/v1/admin/provision", "", token)
	require.Equal(t, http.StatusOK, status)

	var data struct {
		RunID    string         `json:"run_id"`
		Counts   map[string]int `json:"counts"`
		Outcomes []struct {
			Entity string `json:"entity"`
			Status string `json:"status"`
		} `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.RunID)
	assert.Equal(t, 2, data.Counts["created"])
	require.Len(t, data.Outcomes, 2)
	assert.Equal(t, "orders", data.Outcomes[0].Entity)
	assert.Equal(t, "users", data.Outcomes[1].Entity)

	// provisioned entities can now generate
	status, _ = s.do(t, http.MethodPost, "/api/v1/entities/orders/ids", "", "")
	assert.Equal(t, http.StatusCreated, status)
}

func TestProvisionReportsPerEntityFailures(t *testing.T) {
	s := newTestServer(t, true)
	s.store.FailEnsure("e2", errors.New("permission denied"))

	status, env := s.do(t, http.MethodPost, "/api/v1/admin/provision", `{"entities":["e1","e2","e3"]}`, s.adminToken(t))
	require.Equal(t, http.StatusOK, status)

	var data struct {
		Counts map[string]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 2, data.Counts["created"])
	assert.Equal(t, 1, data.Counts["failed"])
}

func TestProvisionRejectsInvalidEntities(t *testing.T) {
	s := newTestServer(t, true)
	status, env := s.do(t, http.MethodPost, "/api/v1/admin/provision", `{"entities":["orders","drop table"]}`, s.adminToken(t))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestAdminRoutesDisabled(t *testing.T) {
	s := newTestServer(t, false)
	status, env := s.do(t, http.MethodPost, "/api/v1/admin/provision", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

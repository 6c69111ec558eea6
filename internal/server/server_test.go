package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nucleus/metadata-extractor/internal/config"
	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
	"github.com/nucleus/metadata-extractor/internal/preflight"
	"github.com/nucleus/metadata-extractor/internal/source/sourcetest"
	"github.com/nucleus/metadata-extractor/internal/workflows"
)

type fakeStarter struct {
	started []workflows.WorkflowConfig
	err     error
}

func (f *fakeStarter) Start(_ context.Context, _ string, cfg workflows.WorkflowConfig) (workflows.RunRef, error) {
	if f.err != nil {
		return workflows.RunRef{}, f.err
	}
	f.started = append(f.started, cfg)
	return workflows.RunRef{WorkflowID: "wf-1", RunID: "run-1"}, nil
}

type harness struct {
	handler http.Handler
	starter *fakeStarter
	creds   *credentials.MemoryStore
	engine  *sourcetest.Engine
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SourceDialect = sourcetest.DialectName
	cfg.OutputPrefix = "/tmp/metadata"
	cfg.BatchSize = 500
	cfg.TeardownOutput = true

	logger := zaptest.NewLogger(t)
	engine := sourcetest.NewEngine().
		AddSchema("mydb", "public").
		AddTable("mydb", "public", "orders")
	h := &harness{
		starter: &fakeStarter{},
		creds:   credentials.NewMemoryStore(),
		engine:  engine,
	}
	checker := preflight.NewChecker(engine, sourcetest.Catalog(), sourcetest.DialectName, logger)
	h.handler = New(cfg, h.creds, h.starter, checker, logger).Handler()
	return h
}

func (h *harness) post(t *testing.T, path string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

var credentialBody = map[string]any{
	"url":      "localhost",
	"port":     "5432",
	"userName": "test_user",
	"password": "test_pass",
	"database": "mydb",
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartWorkflow(t *testing.T) {
	h := newHarness(t, nil)

	rec, out := h.post(t, "/workflow/start", map[string]any{
		"credentials": credentialBody,
		"connection":  map[string]any{"connection": "prod-pg"},
		"metadata": map[string]any{
			"include-filter":   `{"mydb": ["public"]}`,
			"exclude-filter":   "{}",
			"temp-table-regex": "^tmp_",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "wf-1", out["workflow_id"])
	assert.Equal(t, "run-1", out["run_id"])

	require.Len(t, h.starter.started, 1)
	cfg := h.starter.started[0]
	assert.Equal(t, `{"mydb": ["public"]}`, cfg.IncludeFilter)
	assert.Equal(t, "^tmp_", cfg.TempTableRegex)
	assert.Equal(t, sourcetest.DialectName, cfg.Dialect)
	assert.Equal(t, "/tmp/metadata", cfg.OutputPrefix)
	assert.False(t, cfg.KeepOutput)

	stored, err := h.creds.Get(context.Background(), cfg.CredentialGUID)
	require.NoError(t, err)
	assert.Equal(t, "test_user", stored.Username)
	assert.Equal(t, 5432, stored.Port)
}

func TestStartWorkflowRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		err    error
		status int
		code   string
	}{
		{
			name:   "malformed filter",
			body:   map[string]any{"credentials": credentialBody, "metadata": map[string]any{"include-filter": "[1]"}},
			status: http.StatusBadRequest,
			code:   "INVALID_FILTER",
		},
		{
			name:   "missing credential fields",
			body:   map[string]any{"credentials": map[string]any{"url": "localhost"}},
			status: http.StatusBadRequest,
			code:   "INVALID_CREDENTIALS",
		},
		{
			name:   "already started",
			body:   map[string]any{"credentials": credentialBody},
			err:    workflows.ErrAlreadyStarted,
			status: http.StatusConflict,
			code:   "WORKFLOW_START_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.starter.err = tt.err

			rec, out := h.post(t, "/workflow/start", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.code, out["errorCode"])
		})
	}
}

func TestPreflightCheck(t *testing.T) {
	h := newHarness(t, nil)

	rec, out := h.post(t, "/preflight/check", map[string]any{
		"credentials": credentialBody,
		"metadata":    map[string]any{"include-filter": `{"mydb": ["public"]}`},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	tables := data["tablesCheck"].(map[string]any)
	assert.Equal(t, "Tables check successful. Table count: 1", tables["successMessage"])

	_, out = h.post(t, "/preflight/check", map[string]any{
		"credentials": credentialBody,
		"form_data":   map[string]any{"include-filter": `{"otherdb": []}`},
	})
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Schemas and Databases check failed for otherdb database", out["message"])
}

func TestTestAuthentication(t *testing.T) {
	h := newHarness(t, nil)

	rec, out := h.post(t, "/preflight/test-authentication", credentialBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(1), out["results"])

	h.engine.ConnectErr = errkind.Connectivity.New("password authentication failed")
	rec, out = h.post(t, "/preflight/test-authentication", credentialBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DATABASE_CONNECTION_ERROR", out["errorCode"])
	assert.Contains(t, out["error"], "password authentication failed")

	h.engine.ConnectErr = errors.New("boom")
	rec, out = h.post(t, "/preflight/test-authentication", credentialBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", out["errorCode"])
}

func TestFilterMetadata(t *testing.T) {
	h := newHarness(t, nil)

	rec, out := h.post(t, "/preflight/filter-metadata", credentialBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"mydb": []any{"public"}}, out["results"])
}

type keyRing struct {
	mu      sync.Mutex
	set     jwk.Set
	fetches int
}

func jwksServer(t *testing.T) (*keyRing, *httptest.Server) {
	t.Helper()
	ring := &keyRing{set: jwk.NewSet()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ring.mu.Lock()
		defer ring.mu.Unlock()
		ring.fetches++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ring.set)
	}))
	t.Cleanup(srv.Close)
	return ring, srv
}

func (r *keyRing) add(t *testing.T, kid string, pub any) {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NoError(t, r.set.AddKey(key))
}

func (r *keyRing) fetched() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ring, jwks := jwksServer(t)
	ring.add(t, "k1", &key.PublicKey)

	h := newHarness(t, &config.Config{
		JWKSUrl:      jwks.URL,
		AuthIssuer:   "https://issuer.example.com",
		AuthAudience: "metadata",
	})
	valid := jwt.MapClaims{
		"sub": "svc-extractor",
		"iss": "https://issuer.example.com",
		"aud": "metadata",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	t.Run("health is public", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec, out := h.post(t, "/preflight/test-authentication", credentialBody)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", out["errorCode"])
	})

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, key, "k1", valid)
		rec, _ := h.post(t, "/preflight/test-authentication", credentialBody, "Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := jwt.MapClaims{}
		for k, v := range valid {
			claims[k] = v
		}
		claims["aud"] = "someone-else"
		rec, _ := h.post(t, "/preflight/test-authentication", credentialBody, "Authorization", "Bearer "+signToken(t, key, "k1", claims))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		rec, _ := h.post(t, "/preflight/test-authentication", credentialBody, "Authorization", "Bearer "+signToken(t, other, "k2", valid))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestJWKSKeysRefreshOnUnknownKid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	first, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ring, srv := jwksServer(t)
	ring.add(t, "k1", &first.PublicKey)

	keys, err := newJWKSKeys(ctx, srv.URL, srv.Client())
	require.NoError(t, err)

	got, err := keys.GetKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first.PublicKey.Equal(got))
	fetches := ring.fetched()

	rotated, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ring.add(t, "k2", &rotated.PublicKey)

	got, err = keys.GetKey(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, rotated.PublicKey.Equal(got))
	assert.Greater(t, ring.fetched(), fetches)

	_, err = keys.GetKey(ctx, "k3")
	assert.ErrorContains(t, err, "key k3 not found")

	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ring.add(t, "ec1", &ec.PublicKey)
	_, err = keys.GetKey(ctx, "ec1")
	assert.ErrorContains(t, err, "not an RSA public key")
}

package server_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrentheai/trust-infra/internal/auth"
	"github.com/wrentheai/trust-infra/internal/capability"
	"github.com/wrentheai/trust-infra/internal/integrity"
	"github.com/wrentheai/trust-infra/internal/ledger"
	"github.com/wrentheai/trust-infra/internal/model"
	"github.com/wrentheai/trust-infra/internal/reputation"
	"github.com/wrentheai/trust-infra/internal/server"
	"github.com/wrentheai/trust-infra/internal/storage"
	"github.com/wrentheai/trust-infra/internal/testutil"
)

const testServiceKey = "test-service-key"

var (
	testDB      *storage.DB
	testHandler http.Handler
)

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		os.Exit(1)
	}

	logger := testutil.TestLogger()
	authn := auth.New(testDB, testServiceKey, 300*time.Second)
	handlers := server.NewHandlers(server.HandlersDeps{
		DB:                  testDB,
		Authn:               authn,
		LedgerSvc:           ledger.New(testDB, logger),
		CapabilitySvc:       capability.New(testDB, logger),
		ReputationSvc:       reputation.New(testDB, logger),
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	srv := server.New(server.Config{
		Handlers: handlers,
		Authn:    authn,
		Logger:   logger,
		Port:     0,
	})
	testHandler = srv.Handler()

	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

type testClient struct {
	t *testing.T
}

func (c testClient) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	rr := httptest.NewRecorder()
	testHandler.ServeHTTP(rr, req)
	return rr
}

func (c testClient) adminPost(path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	b, err := json.Marshal(body)
	require.NoError(c.t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	req.Header.Set(auth.HeaderServiceKey, testServiceKey)
	return c.do(req)
}

func (c testClient) post(path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	b, err := json.Marshal(body)
	require.NoError(c.t, err)
	return c.do(httptest.NewRequest("POST", path, bytes.NewReader(b)))
}

func (c testClient) get(path string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(httptest.NewRequest("GET", path, nil))
}

// decodeData unmarshals the data field of the standard envelope.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

// registerAgent registers a fresh agent over HTTP and returns it with its key.
func registerAgent(t *testing.T, c testClient) (model.Agent, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	rr := c.adminPost("/api/agents", model.RegisterAgentRequest{
		PublicKey: hex.EncodeToString(pub),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var agent model.Agent
	decodeData(t, rr, &agent)
	return agent, priv
}

// signedAppend submits a signed event over HTTP with agent-signature headers.
func signedAppend(t *testing.T, c testClient, agent model.Agent, priv ed25519.PrivateKey, eventType model.EventType, payload map[string]any, prevHash *string) *httptest.ResponseRecorder {
	t.Helper()
	ts := model.CanonicalTimestamp(time.Now())
	unsigned := integrity.UnsignedEvent{
		AgentID:   agent.AgentID,
		EventType: eventType,
		Timestamp: ts,
		PrevHash:  prevHash,
		Payload:   payload,
	}
	canonicalBytes, err := unsigned.CanonicalBytes()
	require.NoError(t, err)
	eventSig, err := integrity.Sign(canonicalBytes, priv)
	require.NoError(t, err)

	body, err := json.Marshal(model.AppendEventRequest{
		AgentID:   agent.AgentID,
		EventType: eventType,
		Timestamp: ts,
		PrevHash:  prevHash,
		Payload:   payload,
		Hash:      integrity.SHA256Hex(canonicalBytes),
		Signature: hex.EncodeToString(eventSig),
	})
	require.NoError(t, err)

	now := time.Now().Unix()
	signingString, err := auth.SigningString("POST", "/api/events", body, now)
	require.NoError(t, err)
	reqSig, err := integrity.Sign([]byte(signingString), priv)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/events", bytes.NewReader(body))
	req.Header.Set(auth.HeaderAgentID, agent.AgentID)
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(now, 10))
	req.Header.Set(auth.HeaderSignature, hex.EncodeToString(reqSig))
	return c.do(req)
}

func TestHealth(t *testing.T) {
	c := testClient{t}
	rr := c.get("/api/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var health model.HealthResponse
	decodeData(t, rr, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Database)
}

func TestRegisterAgent_RequiresServiceKey(t *testing.T) {
	c := testClient{t}
	rr := c.post("/api/agents", model.RegisterAgentRequest{PublicKey: "ab"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRegisterAgent_RejectsBadKeyAndDuplicate(t *testing.T) {
	c := testClient{t}

	rr := c.adminPost("/api/agents", model.RegisterAgentRequest{PublicKey: "zz"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	agent, _ := registerAgent(t, c)
	rr = c.adminPost("/api/agents", model.RegisterAgentRequest{PublicKey: agent.PublicKey})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestEventFlow_HappyChainOfThree(t *testing.T) {
	c := testClient{t}
	agent, priv := registerAgent(t, c)

	payloads := []map[string]any{{"i": 1}, {"i": 2}, {"i": 3}}
	types := []model.EventType{model.EventInputReceived, model.EventDecisionMade, model.EventResponseEmitted}

	var prev *string
	var lastHash string
	for i := range payloads {
		rr := signedAppend(t, c, agent, priv, types[i], payloads[i], prev)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var event model.Event
		decodeData(t, rr, &event)
		h := event.Hash
		prev = &h
		lastHash = h
	}

	rr := c.get("/api/events/last-hash/" + agent.AgentID)
	require.Equal(t, http.StatusOK, rr.Code)
	var lh model.LastHashResponse
	decodeData(t, rr, &lh)
	require.NotNil(t, lh.LastHash)
	assert.Equal(t, lastHash, *lh.LastHash)

	rr = c.post("/api/events/verify-chain", model.VerifyChainRequest{AgentID: agent.AgentID})
	require.Equal(t, http.StatusOK, rr.Code)
	var verify model.VerifyChainResponse
	decodeData(t, rr, &verify)
	assert.True(t, verify.Valid)
	assert.Equal(t, 3, verify.TotalEvents)
}

func TestEventAppend_WrongKeyIsUnauthorized(t *testing.T) {
	c := testClient{t}
	agentA, _ := registerAgent(t, c)
	_, privB := ed25519GenerateKey(t)

	rr := signedAppend(t, c, agentA, privB, model.EventInputReceived, map[string]any{"i": 1}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func ed25519GenerateKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestEventAppend_MissingHeadersUnauthorized(t *testing.T) {
	c := testClient{t}
	rr := c.post("/api/events", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCapabilityEnforcement(t *testing.T) {
	c := testClient{t}
	agent, _ := registerAgent(t, c)

	rr := c.adminPost("/api/capabilities", model.MintCapabilityRequest{
		AgentID: agent.AgentID,
		Scope: model.Scope{
			"tool:web.read":    true,
			"tool:wallet.send": map[string]any{"max_value": 100},
		},
		IssuedBy:  "admin",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var minted model.MintCapabilityResponse
	decodeData(t, rr, &minted)
	require.NotEmpty(t, minted.Token)
	assert.Equal(t, model.CapabilityActive, minted.Capability.Status)

	// The token validates.
	rr = c.post("/api/capabilities/validate", model.ValidateTokenRequest{Token: minted.Token})
	require.Equal(t, http.StatusOK, rr.Code)
	var validated model.ValidateTokenResponse
	decodeData(t, rr, &validated)
	assert.True(t, validated.Valid)

	// Constrained action is allowed with its constraint object.
	rr = c.post("/api/capabilities/check-permission", model.CheckPermissionRequest{
		AgentID: agent.AgentID, Action: "tool:wallet.send",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var check model.CheckPermissionResponse
	decodeData(t, rr, &check)
	require.True(t, check.Allowed)
	scope, ok := check.Scope.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(100), scope["max_value"])

	// Ungranted action is denied.
	rr = c.post("/api/capabilities/check-permission", model.CheckPermissionRequest{
		AgentID: agent.AgentID, Action: "tool:x.post",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	decodeData(t, rr, &check)
	assert.False(t, check.Allowed)

	// Revoke, then both checks deny and the token no longer validates.
	rr = c.adminPost(fmt.Sprintf("/api/capabilities/%s/revoke", minted.Capability.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = c.post("/api/capabilities/check-permission", model.CheckPermissionRequest{
		AgentID: agent.AgentID, Action: "tool:wallet.send",
	})
	decodeData(t, rr, &check)
	assert.False(t, check.Allowed)

	rr = c.post("/api/capabilities/validate", model.ValidateTokenRequest{Token: minted.Token})
	decodeData(t, rr, &validated)
	assert.False(t, validated.Valid)
	assert.Equal(t, "capability revoked", validated.Reason)

	// Double revoke conflicts.
	rr = c.adminPost(fmt.Sprintf("/api/capabilities/%s/revoke", minted.Capability.ID), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestReputationFlow(t *testing.T) {
	c := testClient{t}
	agent, priv := registerAgent(t, c)

	// Fresh agent starts at 50 with no actions.
	rr := c.get("/api/reputation/" + agent.AgentID)
	require.Equal(t, http.StatusOK, rr.Code)
	var rep model.Reputation
	decodeData(t, rr, &rep)
	assert.Equal(t, 50.0, rep.OverallScore)
	assert.Equal(t, int64(0), rep.TotalActions)

	// Outcomes reference a persisted event.
	rrEv := signedAppend(t, c, agent, priv, model.EventToolCallResult, map[string]any{"ok": true}, nil)
	require.Equal(t, http.StatusCreated, rrEv.Code)
	var event model.Event
	decodeData(t, rrEv, &event)

	record := func(outcome model.OutcomeType) model.Reputation {
		rr := c.adminPost("/api/outcomes", model.RecordOutcomeRequest{
			AgentID:     agent.AgentID,
			EventID:     event.ID,
			OutcomeType: outcome,
			Reporter:    "evaluator",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		var resp struct {
			Reputation model.Reputation `json:"reputation"`
		}
		decodeData(t, rr, &resp)
		return resp.Reputation
	}

	rep = record(model.OutcomeSuccess)
	assert.Equal(t, 50.5, rep.OverallScore)
	assert.Equal(t, int64(1), rep.TotalActions)
	assert.Equal(t, float64(1), rep.SuccessRate)

	rep = record(model.OutcomeHarmful)
	assert.Equal(t, 48.5, rep.OverallScore)
	assert.Equal(t, int64(2), rep.TotalActions)
	assert.Equal(t, 0.5, rep.SuccessRate)
	assert.Equal(t, 0.5, rep.FailureRate)
	assert.Equal(t, int64(1), rep.HarmfulActions)

	for i := 0; i < 3; i++ {
		rep = record(model.OutcomeHarmful)
	}
	assert.Equal(t, int64(4), rep.HarmfulActions)

	record(model.OutcomeHarmful)
	rr = c.get("/api/reputation/" + agent.AgentID + "/should-downgrade")
	require.Equal(t, http.StatusOK, rr.Code)
	var down model.DowngradeResponse
	decodeData(t, rr, &down)
	assert.True(t, down.ShouldDowngrade)
	assert.Equal(t, "Too many harmful actions: 5", down.Reason)

	// Domain scores.
	rr = c.adminPost("/api/reputation/"+agent.AgentID+"/domain", model.DomainScoreRequest{
		Domain: "finance", Score: 0.8,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	decodeData(t, rr, &rep)
	assert.Equal(t, 0.8, rep.Breakdown["finance"])
}

func TestTimestampWindowBoundary(t *testing.T) {
	c := testClient{t}
	agent, priv := registerAgent(t, c)

	submit := func(offset time.Duration) *httptest.ResponseRecorder {
		ts := model.CanonicalTimestamp(time.Now())
		unsigned := integrity.UnsignedEvent{
			AgentID:   agent.AgentID,
			EventType: model.EventSystemEvent,
			Timestamp: ts,
			Payload:   map[string]any{"probe": true},
		}
		canonicalBytes, err := unsigned.CanonicalBytes()
		require.NoError(t, err)
		eventSig, err := integrity.Sign(canonicalBytes, priv)
		require.NoError(t, err)
		body, err := json.Marshal(model.AppendEventRequest{
			AgentID:   agent.AgentID,
			EventType: model.EventSystemEvent,
			Timestamp: ts,
			Payload:   map[string]any{"probe": true},
			Hash:      integrity.SHA256Hex(canonicalBytes),
			Signature: hex.EncodeToString(eventSig),
		})
		require.NoError(t, err)

		reqTS := time.Now().Add(offset).Unix()
		signingString, err := auth.SigningString("POST", "/api/events", body, reqTS)
		require.NoError(t, err)
		reqSig, err := integrity.Sign([]byte(signingString), priv)
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/api/events", bytes.NewReader(body))
		req.Header.Set(auth.HeaderAgentID, agent.AgentID)
		req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(reqTS, 10))
		req.Header.Set(auth.HeaderSignature, hex.EncodeToString(reqSig))
		return c.do(req)
	}

	// Outside the window: rejected before any verification.
	rr := submit(-302 * time.Second)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Inside the window: passes authentication and persists.
	rr = submit(-299 * time.Second)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestQueryEvents_Pagination(t *testing.T) {
	c := testClient{t}
	agent, priv := registerAgent(t, c)

	var prev *string
	for i := 1; i <= 5; i++ {
		rr := signedAppend(t, c, agent, priv, model.EventSystemEvent, map[string]any{"n": i}, prev)
		require.Equal(t, http.StatusCreated, rr.Code)
		var event model.Event
		decodeData(t, rr, &event)
		h := event.Hash
		prev = &h
	}

	rr := c.get("/api/events?agentId=" + agent.AgentID + "&limit=2&offset=0")
	require.Equal(t, http.StatusOK, rr.Code)
	var list model.ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 5, list.Total)
	assert.True(t, list.HasMore)

	rr = c.get("/api/events?agentId=" + agent.AgentID + "&limit=100")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.False(t, list.HasMore)
}

func TestGetEvent_NotFound(t *testing.T) {
	c := testClient{t}
	rr := c.get("/api/events/999999999")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

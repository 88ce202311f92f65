package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"envelope.lock/config"
	"envelope.lock/internal/engine"
	"envelope.lock/internal/hashlock"
	"envelope.lock/internal/ledger"
	"envelope.lock/internal/models"
	"envelope.lock/internal/relay"
	"envelope.lock/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testServer struct {
	server *httptest.Server
	clock  *fakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit.Enabled = false

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	lg := ledger.New()
	lg.Seed(map[string]uint64{"alice": 1000})

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng := engine.NewWithClock(st, lg, engine.FeePolicy{}, clock)

	rel := relay.New(eng, cfg.Protocol.QueueSize, cfg.Protocol.SubmissionTimeout)
	t.Cleanup(rel.Close)

	srv := httptest.NewServer(SetupRouter(eng, rel, cfg))
	t.Cleanup(srv.Close)

	return &testServer{server: srv, clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body ErrorResponse
	decodeInto(t, resp, &body)
	return body.Code
}

func (ts *testServer) createEnvelope(t *testing.T, secret string) uint64 {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/envelopes", CreateRequest{
		Owner:       "alice",
		Beneficiary: "bob",
		Amount:      100,
		SecretHash:  hashlock.HashPhrase(secret),
		UnlockTime:  ts.clock.now.Add(time.Minute).Unix(),
		ExpiryTime:  ts.clock.now.Add(time.Hour).Unix(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	var created CreateResponse
	decodeInto(t, resp, &created)
	return created.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
	var health HealthResponse
	decodeInto(t, resp, &health)
	if health.Status != "ok" {
		t.Fatalf("health status = %q, want ok", health.Status)
	}
	if health.Store != "memory" {
		t.Fatalf("health store = %q, want memory", health.Store)
	}
	if health.SubmissionTimeout != 30 {
		t.Fatalf("health submission timeout = %d, want 30", health.SubmissionTimeout)
	}
}

func TestCreateAndGetEnvelope(t *testing.T) {
	ts := newTestServer(t)

	id := ts.createEnvelope(t, "open sesame")
	if id != 0 {
		t.Fatalf("first envelope id = %d, want 0", id)
	}

	resp := ts.do(t, http.MethodGet, "/api/envelopes/0", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get returned %d", resp.StatusCode)
	}
	var env EnvelopeResponse
	decodeInto(t, resp, &env)
	if env.Owner != "alice" || env.Beneficiary != "bob" || env.Amount != 100 {
		t.Fatalf("envelope mismatch: %+v", env)
	}
	if env.Status != models.StatusLocked {
		t.Fatalf("status = %s, want %s", env.Status, models.StatusLocked)
	}
	if env.SecretHash != hashlock.HashPhrase("open sesame") {
		t.Fatal("secret hash not round-tripped")
	}

	var next NextIDResponse
	resp = ts.do(t, http.MethodGet, "/api/next-id", nil)
	decodeInto(t, resp, &next)
	if next.NextID != 1 {
		t.Fatalf("next id = %d, want 1", next.NextID)
	}

	var balance BalanceResponse
	resp = ts.do(t, http.MethodGet, "/api/accounts/alice/balance", nil)
	decodeInto(t, resp, &balance)
	if balance.Balance != 900 {
		t.Fatalf("alice balance = %d, want 900", balance.Balance)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	base := CreateRequest{
		Owner:       "alice",
		Beneficiary: "bob",
		Amount:      100,
		SecretHash:  hashlock.HashPhrase("s"),
		UnlockTime:  ts.clock.now.Add(time.Minute).Unix(),
		ExpiryTime:  ts.clock.now.Add(time.Hour).Unix(),
	}

	cases := []struct {
		name       string
		mutate     func(*CreateRequest)
		wantStatus int
		wantCode   string
	}{
		{"bad hash", func(r *CreateRequest) { r.SecretHash = "zz" }, http.StatusBadRequest, "invalid_hash_lock"},
		{"short hash", func(r *CreateRequest) { r.SecretHash = "abcd" }, http.StatusBadRequest, "invalid_hash_lock"},
		{"zero amount", func(r *CreateRequest) { r.Amount = 0 }, http.StatusBadRequest, "invalid_amount"},
		{"past unlock", func(r *CreateRequest) { r.UnlockTime = ts.clock.now.Add(-time.Minute).Unix() }, http.StatusBadRequest, "invalid_timing"},
		{"expiry before unlock", func(r *CreateRequest) { r.ExpiryTime = r.UnlockTime - 1 }, http.StatusBadRequest, "invalid_timing"},
		{"poor owner", func(r *CreateRequest) { r.Amount = 5000 }, http.StatusPaymentRequired, "insufficient_funds"},
		{"missing owner", func(r *CreateRequest) { r.Owner = "" }, http.StatusBadRequest, "missing_identity"},
	}
	for _, tc := range cases {
		req := base
		tc.mutate(&req)
		resp := ts.do(t, http.MethodPost, "/api/envelopes", req)
		if resp.StatusCode != tc.wantStatus {
			t.Fatalf("%s: status %d, want %d", tc.name, resp.StatusCode, tc.wantStatus)
		}
		if code := errorCode(t, resp); code != tc.wantCode {
			t.Fatalf("%s: code %s, want %s", tc.name, code, tc.wantCode)
		}
	}
}

func TestClaimFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createEnvelope(t, "open sesame")
	path := fmt.Sprintf("/api/envelopes/%d/claim", id)

	// Too early.
	resp := ts.do(t, http.MethodPost, path, ClaimRequest{Caller: "bob", Secret: "open sesame"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("early claim status = %d, want 409", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "not_yet_unlocked" {
		t.Fatalf("early claim code = %s", code)
	}

	ts.clock.now = ts.clock.now.Add(2 * time.Minute)

	// Wrong caller.
	resp = ts.do(t, http.MethodPost, path, ClaimRequest{Caller: "mallory", Secret: "open sesame"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong caller status = %d, want 403", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "unauthorized" {
		t.Fatalf("wrong caller code = %s", code)
	}

	// Wrong secret.
	resp = ts.do(t, http.MethodPost, path, ClaimRequest{Caller: "bob", Secret: "guess"})
	if code := errorCode(t, resp); code != "invalid_secret" {
		t.Fatalf("wrong secret code = %s", code)
	}

	// Success.
	resp = ts.do(t, http.MethodPost, path, ClaimRequest{Caller: "bob", Secret: "open sesame"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	var balance BalanceResponse
	resp = ts.do(t, http.MethodGet, "/api/accounts/bob/balance", nil)
	decodeInto(t, resp, &balance)
	if balance.Balance != 100 {
		t.Fatalf("bob balance = %d, want 100", balance.Balance)
	}

	// Replay.
	resp = ts.do(t, http.MethodPost, path, ClaimRequest{Caller: "bob", Secret: "open sesame"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("replay status = %d, want 409", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "already_finalized" {
		t.Fatalf("replay code = %s", code)
	}
}

func TestReclaimFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createEnvelope(t, "open sesame")
	path := fmt.Sprintf("/api/envelopes/%d/reclaim", id)

	resp := ts.do(t, http.MethodPost, path, ReclaimRequest{Caller: "alice"})
	if code := errorCode(t, resp); code != "not_yet_expired" {
		t.Fatalf("early reclaim code = %s", code)
	}

	ts.clock.now = ts.clock.now.Add(2 * time.Hour)

	resp = ts.do(t, http.MethodPost, path, ReclaimRequest{Caller: "bob"})
	if code := errorCode(t, resp); code != "unauthorized" {
		t.Fatalf("non-owner reclaim code = %s", code)
	}

	resp = ts.do(t, http.MethodPost, path, ReclaimRequest{Caller: "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reclaim status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	var env EnvelopeResponse
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/envelopes/%d", id), nil)
	decodeInto(t, resp, &env)
	if env.Status != models.StatusReclaimed {
		t.Fatalf("status = %s, want %s", env.Status, models.StatusReclaimed)
	}
}

func TestGetEnvelopeErrors(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/envelopes/99", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing envelope status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "not_found" {
		t.Fatalf("missing envelope code = %s", code)
	}

	resp = ts.do(t, http.MethodGet, "/api/envelopes/abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "invalid_id" {
		t.Fatalf("bad id code = %s", code)
	}
}

func TestListEnvelopesFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.createEnvelope(t, "a")
	id := ts.createEnvelope(t, "b")

	ts.clock.now = ts.clock.now.Add(2 * time.Minute)
	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/envelopes/%d/claim", id), ClaimRequest{Caller: "bob", Secret: "b"})
	resp.Body.Close()

	var locked []EnvelopeResponse
	resp = ts.do(t, http.MethodGet, "/api/envelopes?status=LOCKED", nil)
	decodeInto(t, resp, &locked)
	if len(locked) != 1 || locked[0].ID != 0 {
		t.Fatalf("locked list = %+v", locked)
	}

	resp = ts.do(t, http.MethodGet, "/api/envelopes?status=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAsyncSubmission(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/submissions", SubmitRequest{
		Kind:        string(relay.KindCreate),
		Caller:      "alice",
		Beneficiary: "bob",
		Amount:      100,
		SecretHash:  hashlock.HashPhrase("open sesame"),
		UnlockTime:  ts.clock.now.Add(time.Minute).Unix(),
		ExpiryTime:  ts.clock.now.Add(time.Hour).Unix(),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	var submitted SubmitResponse
	decodeInto(t, resp, &submitted)
	if submitted.Handle == "" {
		t.Fatal("no handle returned")
	}

	var result relay.Result
	resp = ts.do(t, http.MethodGet, "/api/submissions/"+submitted.Handle+"?wait=1", nil)
	decodeInto(t, resp, &result)
	if result.Outcome != relay.OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s (err %s)", result.Outcome, relay.OutcomeSuccess, result.Error)
	}
	if result.EnvelopeID == nil || *result.EnvelopeID != 0 {
		t.Fatalf("envelope id = %v, want 0", result.EnvelopeID)
	}

	resp = ts.do(t, http.MethodGet, "/api/submissions/not-a-handle", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown handle status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/api/submissions", SubmitRequest{Kind: "transmogrify", Caller: "alice"})
	if code := errorCode(t, resp); code != "invalid_kind" {
		t.Fatalf("bad kind code = %s", code)
	}
}

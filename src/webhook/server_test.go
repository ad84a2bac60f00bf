package webhook

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relayci/src/broker"
	"relayci/src/contracts"
	"relayci/src/store"
	"relayci/src/trigger"
	"relayci/src/workflow"
)

const testSecret = "It's a Secret to Everybody"

type testServer struct {
	server   *Server
	broker   *broker.InMemoryBroker
	store    *store.MemoryStore
	requests <-chan broker.Message
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	evaluator, err := trigger.NewEvaluator(workflow.Default())
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	brk := broker.NewInMemoryBroker()
	t.Cleanup(func() { brk.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	requests, err := brk.Subscribe(ctx, contracts.TopicRunRequests, "test")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	st := store.NewMemoryStore()
	return &testServer{
		server:   New(evaluator, brk, st, secret, nil),
		broker:   brk,
		store:    st,
		requests: requests,
	}
}

func (ts *testServer) deliver(t *testing.T, event, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/github", bytes.NewBufferString(payload))
	req.Header.Set(headerEvent, event)
	req.Header.Set(headerDelivery, "delivery-1")
	if signature != "" {
		req.Header.Set(headerSignature, signature)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func sign(payload string) string {
	return "sha256=" + hex.EncodeToString(Sign([]byte(testSecret), []byte(payload)))
}

func decodeQueue(t *testing.T, rec *httptest.ResponseRecorder) QueueResponse {
	t.Helper()
	var resp QueueResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestGitHubWebhook_QueuesRelease(t *testing.T) {
	ts := newTestServer(t, "")
	payload := `{"action":"published","release":{"tag_name":"v1.2.0"}}`

	rec := ts.deliver(t, "release", payload, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decodeQueue(t, rec)
	if !resp.Queued || resp.RunID == "" {
		t.Fatalf("response = %+v, want queued run", resp)
	}
	if len(resp.Eligible) != 2 || resp.Eligible[1] != "publish" {
		t.Errorf("eligible = %v, want [build publish]", resp.Eligible)
	}

	select {
	case msg := <-ts.requests:
		var req contracts.RunRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if req.RunID != resp.RunID || msg.Key != resp.RunID {
			t.Errorf("queued run id = %s (key %s), want %s", req.RunID, msg.Key, resp.RunID)
		}
		if req.Event.Ref != "refs/tags/v1.2.0" {
			t.Errorf("queued ref = %s", req.Event.Ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no run request published")
	}

	run, err := ts.store.GetRun(context.Background(), resp.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != contracts.StatePending {
		t.Errorf("status = %s, want pending", run.Status)
	}
}

func TestGitHubWebhook_NotTriggered(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
	}{
		{name: "feature branch push", event: "push", payload: `{"ref":"refs/heads/feature","after":"abc"}`},
		{name: "release edited", event: "release", payload: `{"action":"edited","release":{"tag_name":"v1.2.0"}}`},
		{name: "unhandled event", event: "issues", payload: `{"action":"opened"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, "")
			rec := ts.deliver(t, tt.event, tt.payload, "")
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202", rec.Code)
			}
			resp := decodeQueue(t, rec)
			if resp.Queued {
				t.Errorf("response = %+v, want queued=false", resp)
			}
			if resp.Reason == "" {
				t.Error("reason should explain why nothing was queued")
			}
			select {
			case msg := <-ts.requests:
				t.Errorf("unexpected run request: %s", msg.Value)
			default:
			}
		})
	}
}

func TestGitHubWebhook_Signature(t *testing.T) {
	payload := `{"ref":"refs/heads/main","after":"abc"}`

	tests := []struct {
		name      string
		signature string
		wantCode  int
	}{
		{name: "valid", signature: sign(payload), wantCode: http.StatusAccepted},
		{name: "missing", signature: "", wantCode: http.StatusUnauthorized},
		{name: "wrong", signature: sign(payload + " "), wantCode: http.StatusUnauthorized},
		{name: "not hex", signature: "sha256=zz", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, testSecret)
			rec := ts.deliver(t, "push", payload, tt.signature)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}
}

func TestGitHubWebhook_BadPayload(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.deliver(t, "release", `{"action":"published","release":{}}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGitHubWebhook_Ping(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.deliver(t, "ping", `{"zen":"Keep it logically awesome."}`, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGetRun(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()
	ts.store.CreateRun(ctx, &contracts.RunStatus{RunID: "run-1", Status: contracts.StateRunning, FailedStep: -1, CreatedAt: time.Now()})
	ts.store.SaveStepResult(ctx, &contracts.StepResult{RunID: "run-1", Stage: "build", Index: 0, Name: "Install dependencies", Status: contracts.StateSucceeded})

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/runs/run-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RunResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Run.RunID != "run-1" || len(resp.Steps) != 1 {
		t.Errorf("response = %+v", resp)
	}

	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}
}

func TestListRunsAndHealth(t *testing.T) {
	ts := newTestServer(t, "")
	ts.store.CreateRun(context.Background(), &contracts.RunStatus{RunID: "run-1", CreatedAt: time.Now()})

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/runs?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("list status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/runs?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

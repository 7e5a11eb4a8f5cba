package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toolgate/toolgate/internal/adapter/memory"
	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/domain/permission"
	"github.com/toolgate/toolgate/internal/resilience"
	"github.com/toolgate/toolgate/internal/service"
)

const testPolicyYAML = `enabled: true
default_level: require_approval
approval_timeout_secs: 30
approval:
  kind: any
rules:
  - pattern: "ls*"
    level: allow
  - pattern: "rm -rf*"
    level: deny
`

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store, *service.Orchestrator) {
	t.Helper()

	policyFile := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(policyFile, []byte(testPolicyYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	pol, err := permission.LoadFromFile(policyFile)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	store := memory.NewStore()
	sink := memory.NewAuditLog(0)
	orch := service.NewOrchestrator(store, sink, nil, resilience.BreakerConfig{MaxFailures: 3, Timeout: time.Second}, nil)
	auth := service.NewAuthorizeService(orch, sink, nil, nil)
	if err := auth.ReplacePolicy(*pol); err != nil {
		t.Fatal(err)
	}

	h := NewHandlers(auth, orch, store, sink, policyFile)
	r := chi.NewRouter()
	MountRoutes(r, h, nil)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, orch
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAuthorizeEndpointAllow(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/authorize", `{"command":"ls -la"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[authorizeResponse](t, resp)
	if body.Outcome != service.OutcomeAllow || !body.Permitted {
		t.Errorf("unexpected body %+v", body)
	}
	if body.MatchedRule != "ls*" {
		t.Errorf("matched_rule = %q", body.MatchedRule)
	}
}

func TestAuthorizeEndpointDeny(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/authorize", `{"command":"rm -rf /tmp/x"}`)
	body := decodeBody[authorizeResponse](t, resp)
	if body.Outcome != service.OutcomeDeny || body.Permitted {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestAuthorizeEndpointValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	for name, body := range map[string]string{
		"missing command": `{}`,
		"malformed JSON":  `{"command":`,
	} {
		resp := postJSON(t, srv.URL+"/api/v1/authorize", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestAuthorizeApprovalOverHTTP(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)

	type result struct {
		body authorizeResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/v1/authorize", "application/json",
			strings.NewReader(`{"command":"git push origin main"}`))
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var body authorizeResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		done <- result{body: body, err: err}
	}()

	// Wait for the pending request to surface, then vote through the API.
	var id string
	deadline := time.Now().Add(5 * time.Second)
	for id == "" {
		if time.Now().After(deadline) {
			t.Fatal("approval request never appeared")
		}
		pending, err := store.ListPending(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) > 0 {
			id = pending[0].ID
		} else {
			time.Sleep(10 * time.Millisecond)
		}
	}

	resp := postJSON(t, srv.URL+"/api/v1/approvals/"+id+"/decisions",
		`{"approver_id":"alice","approved":true,"comment":"lgtm"}`)
	dec := decodeBody[decisionResponse](t, resp)
	if dec.Status != approval.StatusApproved || dec.Ignored {
		t.Errorf("unexpected decision response %+v", dec)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("authorize: %v", res.err)
		}
		if res.body.Outcome != service.OutcomeApproved || res.body.RequestID != id {
			t.Errorf("unexpected authorize response %+v", res.body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("authorize call never returned")
	}
}

func TestDecisionUnknownRequest(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/approvals/nope/decisions",
		`{"approver_id":"alice","approved":true}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetApprovalAndHistory(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	req := approval.Request{
		ID:          "req-hist",
		Command:     "deploy prod",
		CreatedAt:   time.Now(),
		TimeoutSecs: 60,
		Policy:      approval.ApproverPolicy{Kind: approval.PolicyAny},
		Status:      approval.StatusPending,
	}
	if err := store.Create(ctx, &req); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/approvals/req-hist")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[approval.Request](t, resp)
	if body.ID != "req-hist" || body.Command != "deploy prod" {
		t.Errorf("unexpected request %+v", body)
	}

	resp, err = http.Get(srv.URL + "/api/v1/approvals/missing")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListPendingEmpty(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/approvals/pending")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	reqs := decodeBody[[]approval.Request](t, resp)
	if reqs == nil || len(reqs) != 0 {
		t.Errorf("expected empty array, got %v", reqs)
	}
}

func TestListApprovalsFilters(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	for _, r := range []approval.Request{
		{ID: "a", Command: "git push", CreatedAt: time.Now(), TimeoutSecs: 30, Status: approval.StatusApproved},
		{ID: "b", Command: "git pull", CreatedAt: time.Now(), TimeoutSecs: 30, Status: approval.StatusPending},
	} {
		if err := store.Create(ctx, &r); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(srv.URL + "/api/v1/approvals?status=approved")
	if err != nil {
		t.Fatal(err)
	}
	reqs := decodeBody[[]approval.Request](t, resp)
	if len(reqs) != 1 || reqs[0].ID != "a" {
		t.Errorf("unexpected filter result %+v", reqs)
	}

	resp, err = http.Get(srv.URL + "/api/v1/approvals?limit=zero")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	// An authorize call leaves a permission.check entry behind.
	postJSON(t, srv.URL+"/api/v1/authorize", `{"command":"ls"}`).Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/audit?kind=permission.check")
	if err != nil {
		t.Fatal(err)
	}
	entries := decodeBody[[]map[string]any](t, resp)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0]["command"] != "ls" {
		t.Errorf("unexpected entry %+v", entries[0])
	}

	resp, err = http.Get(srv.URL + "/api/v1/audit?after=yesterday")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPolicyEndpoints(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/policy")
	if err != nil {
		t.Fatal(err)
	}
	pol := decodeBody[permission.Policy](t, resp)
	if !pol.Enabled || len(pol.Rules) != 2 {
		t.Errorf("unexpected policy %+v", pol)
	}

	resp = postJSON(t, srv.URL+"/api/v1/policy/reload", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reload status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

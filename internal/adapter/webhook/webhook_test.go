package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/port/dispatch"
)

// Compile-time interface check.
var _ dispatch.Dispatcher = (*Dispatcher)(nil)

func TestName(t *testing.T) {
	d := New("", "")
	if d.Name() != "webhook" {
		t.Fatalf("expected 'webhook', got %q", d.Name())
	}
}

func TestNotifyNotConfigured(t *testing.T) {
	d := New("", "")
	err := d.Notify(context.Background(), approval.Request{ID: "r1"})
	if err != dispatch.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNotifyPostsPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Toolgate-Signature")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := New(srv.URL, "s3cret")
	req := approval.Request{
		ID:          "req-1",
		Command:     "git push origin main",
		CreatedAt:   time.Now().UTC(),
		TimeoutSecs: 300,
	}
	if err := d.Notify(context.Background(), req); err != nil {
		t.Fatalf("notify: %v", err)
	}

	var p payload
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if p.RequestID != "req-1" || p.Command != "git push origin main" {
		t.Errorf("unexpected payload %+v", p)
	}
	if gotSig != sign("s3cret", gotBody) {
		t.Error("signature mismatch")
	}
}

func TestNotifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(srv.URL, "")
	err := d.Notify(context.Background(), approval.Request{ID: "r1"})
	if err == nil {
		t.Fatal("expected error on 500")
	}
}

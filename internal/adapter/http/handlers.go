package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/permission"
	"github.com/toolgate/toolgate/internal/port/approvalstore"
	"github.com/toolgate/toolgate/internal/port/auditlog"
	"github.com/toolgate/toolgate/internal/service"
)

// maxBodySize caps JSON request bodies at 1 MiB.
const maxBodySize = 1 << 20

// Handlers holds the dependencies for all HTTP endpoints.
type Handlers struct {
	auth       *service.AuthorizeService
	orch       *service.Orchestrator
	store      approvalstore.Store
	audit      auditlog.Log
	policyFile string
}

// NewHandlers creates the handler set. audit may be nil when the audit
// trail has no queryable backend.
func NewHandlers(auth *service.AuthorizeService, orch *service.Orchestrator, store approvalstore.Store, auditLog auditlog.Log, policyFile string) *Handlers {
	return &Handlers{
		auth:       auth,
		orch:       orch,
		store:      store,
		audit:      auditLog,
		policyFile: policyFile,
	}
}

// --- Authorization ---

type authorizeRequest struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
	Context    string `json:"context,omitempty"`
}

type authorizeResponse struct {
	Outcome     service.Outcome `json:"outcome"`
	Permitted   bool            `json:"permitted"`
	MatchedRule string          `json:"matched_rule,omitempty"`
	RuleIndex   int             `json:"rule_index"`
	RequestID   string          `json:"request_id,omitempty"`
}

// Authorize evaluates a command against the active policy and, when
// approval is required, blocks until the request resolves or times out.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[authorizeRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Command, "command") {
		return
	}

	v, err := h.auth.Authorize(r.Context(), req.Command, req.WorkingDir, req.Context)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponse{
		Outcome:     v.Outcome,
		Permitted:   v.Permitted(),
		MatchedRule: v.MatchedRule,
		RuleIndex:   v.RuleIndex,
		RequestID:   v.RequestID,
	})
}

// Evaluate returns the policy verdict for a command without creating an
// approval request. Dry-run counterpart of Authorize.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[authorizeRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Command, "command") {
		return
	}

	v, err := h.auth.Evaluate(r.Context(), req.Command)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"level":      v.Level,
		"rule_index": v.RuleIndex,
	}
	if v.Rule != nil {
		resp["matched_rule"] = v.Rule.Pattern
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Approvals ---

type decisionRequest struct {
	ApproverID string `json:"approver_id"`
	Approved   bool   `json:"approved"`
	Comment    string `json:"comment,omitempty"`
}

type decisionResponse struct {
	Status  approval.Status `json:"status"`
	Ignored bool            `json:"ignored"`
}

// SubmitDecision records an approver's vote on a pending request.
func (h *Handlers) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[decisionRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.ApproverID, "approver_id") {
		return
	}

	res, err := h.orch.SubmitDecision(r.Context(), id, req.ApproverID, req.Approved, req.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse{Status: res.Status, Ignored: res.Ignored})
}

// GetApproval returns a single request with its decision history.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.store.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListPending returns all requests awaiting resolution.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.store.ListPending(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if reqs == nil {
		reqs = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ListApprovals queries the request archive with optional status, command
// substring, and limit filters.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	f := approvalstore.Filter{
		Status:  approval.Status(r.URL.Query().Get("status")),
		Command: r.URL.Query().Get("command"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	reqs, err := h.store.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if reqs == nil {
		reqs = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// --- Audit ---

// QueryAudit returns audit trail entries matching the query parameters.
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit trail is not queryable on this backend")
		return
	}

	f := auditlog.Filter{
		Kind:      audit.Kind(r.URL.Query().Get("kind")),
		RequestID: r.URL.Query().Get("request_id"),
	}
	if v := r.URL.Query().Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be RFC 3339")
			return
		}
		f.After = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := h.audit.Query(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Policy ---

// GetPolicy returns the active policy snapshot.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.auth.Policy()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ReloadPolicy re-reads the policy file and swaps the active snapshot.
// In-flight evaluations finish against the snapshot they started with.
func (h *Handlers) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := permission.LoadFromFile(h.policyFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.auth.ReplacePolicy(*p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": len(p.Rules), "enabled": p.Enabled})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

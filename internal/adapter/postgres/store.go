package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/port/approvalstore"
)

// uniqueViolation is the Postgres error code for duplicate primary keys.
const uniqueViolation = "23505"

// Store implements approvalstore.Store using PostgreSQL. The decision and
// expiry paths serialize on a row lock, so the Pending to terminal
// transition happens exactly once regardless of which path gets there
// first.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Create inserts a new Pending request.
func (s *Store) Create(ctx context.Context, req *approval.Request) error {
	policyJSON, err := json.Marshal(req.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO approval_requests (id, command, working_dir, context, created_at, timeout_secs, policy, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.Command, req.WorkingDir, req.Context, req.CreatedAt, req.TimeoutSecs, policyJSON, string(approval.StatusPending))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create request %s: %w", req.ID, approvalstore.ErrDuplicateID)
		}
		return fmt.Errorf("create request %s: %w", req.ID, err)
	}
	return nil
}

// RecordDecision appends a decision under a row lock and evaluates the
// approver policy against the decisions on record. Late decisions are
// archived with ignored=true and leave the status untouched.
func (s *Store) RecordDecision(ctx context.Context, id string, d approval.Decision) (approvalstore.RecordResult, error) {
	var res approvalstore.RecordResult

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	var policyJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT status, policy FROM approval_requests WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &policyJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, fmt.Errorf("record decision %s: %w", id, approvalstore.ErrNotFound)
		}
		return res, fmt.Errorf("record decision %s: %w", id, err)
	}

	cur := approval.Status(status)
	ignored := cur.Terminal()

	_, err = tx.Exec(ctx,
		`INSERT INTO approval_decisions (request_id, approver_id, approved, comment, decided_at, ignored)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, d.ApproverID, d.Approved, d.Comment, d.DecidedAt, ignored)
	if err != nil {
		return res, fmt.Errorf("insert decision %s: %w", id, err)
	}

	if ignored {
		if err := tx.Commit(ctx); err != nil {
			return res, fmt.Errorf("commit decision %s: %w", id, err)
		}
		return approvalstore.RecordResult{Status: cur, Ignored: true}, nil
	}

	var pol approval.ApproverPolicy
	if err := json.Unmarshal(policyJSON, &pol); err != nil {
		return res, fmt.Errorf("decode policy %s: %w", id, err)
	}

	decisions, err := loadDecisions(ctx, tx, id, false)
	if err != nil {
		return res, err
	}

	next := pol.Resolve(decisions)
	if next.Terminal() {
		tag, err := tx.Exec(ctx,
			`UPDATE approval_requests SET status = $2, resolved_at = $3 WHERE id = $1 AND status = 'pending'`,
			id, string(next), s.now().UTC())
		if err != nil {
			return res, fmt.Errorf("resolve request %s: %w", id, err)
		}
		if tag.RowsAffected() != 1 {
			return res, fmt.Errorf("resolve request %s: row not pending", id)
		}
		cur = next
		res.Transitioned = true
	}

	if err := tx.Commit(ctx); err != nil {
		return approvalstore.RecordResult{}, fmt.Errorf("commit decision %s: %w", id, err)
	}
	res.Status = cur
	return res, nil
}

// Expire transitions a Pending request to Expired. The conditional UPDATE
// makes concurrent expiry and decision racing safe: only one path sees
// status='pending'.
func (s *Store) Expire(ctx context.Context, id string) (approvalstore.RecordResult, error) {
	var res approvalstore.RecordResult

	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET status = $2, resolved_at = $3 WHERE id = $1 AND status = 'pending'`,
		id, string(approval.StatusExpired), s.now().UTC())
	if err != nil {
		return res, fmt.Errorf("expire request %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return approvalstore.RecordResult{Transitioned: true, Status: approval.StatusExpired}, nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM approval_requests WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, fmt.Errorf("expire request %s: %w", id, approvalstore.ErrNotFound)
		}
		return res, fmt.Errorf("expire request %s: %w", id, err)
	}
	res.Status = approval.Status(status)
	return res, nil
}

const requestColumns = `id, command, working_dir, context, created_at, timeout_secs, policy, status, resolved_at`

// Get returns the request with the given id, decisions included.
func (s *Store) Get(ctx context.Context, id string) (*approval.Request, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM approval_requests WHERE id = $1`, requestColumns), id)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get request %s: %w", id, approvalstore.ErrNotFound)
		}
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}

	req.Decisions, err = loadAllDecisions(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListPending returns requests still awaiting resolution, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]approval.Request, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM approval_requests WHERE status = 'pending' ORDER BY created_at ASC`, requestColumns))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// List queries pending and archived requests, newest first.
func (s *Store) List(ctx context.Context, f approvalstore.Filter) ([]approval.Request, error) {
	args := []any{}
	conditions := []string{}
	argIdx := 1

	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.Command != "" {
		conditions = append(conditions, fmt.Sprintf("command LIKE '%%' || $%d || '%%'", argIdx))
		args = append(args, f.Command)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM approval_requests%s ORDER BY created_at DESC`, requestColumns, where)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*approval.Request, error) {
	var req approval.Request
	var policyJSON []byte
	var status string
	var resolvedAt *time.Time

	err := row.Scan(&req.ID, &req.Command, &req.WorkingDir, &req.Context,
		&req.CreatedAt, &req.TimeoutSecs, &policyJSON, &status, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(policyJSON, &req.Policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	req.Status = approval.Status(status)
	req.ResolvedAt = resolvedAt
	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]approval.Request, error) {
	var out []approval.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// querier abstracts pool and tx for decision loads.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadDecisions returns the decisions on record for a request, insertion
// order. When includeIgnored is false, late decisions are excluded so
// policy evaluation only sees votes cast before resolution.
func loadDecisions(ctx context.Context, q querier, id string, includeIgnored bool) ([]approval.Decision, error) {
	query := `SELECT approver_id, approved, comment, decided_at, ignored
		 FROM approval_decisions WHERE request_id = $1`
	if !includeIgnored {
		query += ` AND NOT ignored`
	}
	query += ` ORDER BY id ASC`

	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load decisions %s: %w", id, err)
	}
	defer rows.Close()

	var out []approval.Decision
	for rows.Next() {
		var d approval.Decision
		if err := rows.Scan(&d.ApproverID, &d.Approved, &d.Comment, &d.DecidedAt, &d.Ignored); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func loadAllDecisions(ctx context.Context, q querier, id string) ([]approval.Decision, error) {
	return loadDecisions(ctx, q, id, true)
}

// Package webhook implements a dispatch.Dispatcher that POSTs pending
// approval requests to an HTTP endpoint. Payloads are optionally signed
// with an HMAC-SHA256 header so receivers can authenticate them.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/port/dispatch"
)

const channelName = "webhook"

// signatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const signatureHeader = "X-Toolgate-Signature"

// Dispatcher POSTs approval requests to a configured URL.
type Dispatcher struct {
	url        string
	secret     string
	httpClient *http.Client
}

// New creates a webhook dispatcher. secret may be empty, in which case
// payloads are unsigned.
func New(url, secret string) *Dispatcher {
	return &Dispatcher{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Dispatcher) Name() string { return channelName }

// payload is the webhook body for a pending approval request.
type payload struct {
	RequestID   string    `json:"request_id"`
	Command     string    `json:"command"`
	WorkingDir  string    `json:"working_dir,omitempty"`
	Context     string    `json:"context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	TimeoutSecs int       `json:"timeout_secs"`
	Approvers   []string  `json:"approvers,omitempty"`
}

// Notify delivers the pending request to the configured endpoint.
func (d *Dispatcher) Notify(ctx context.Context, r approval.Request) error {
	if d.url == "" {
		return dispatch.ErrNotConfigured
	}

	body, err := json.Marshal(payload{
		RequestID:   r.ID,
		Command:     r.Command,
		WorkingDir:  r.WorkingDir,
		Context:     r.Context,
		CreatedAt:   r.CreatedAt,
		TimeoutSecs: r.TimeoutSecs,
		Approvers:   r.Policy.Approvers,
	})
	if err != nil {
		return fmt.Errorf("webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set(signatureHeader, sign(d.secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook endpoint %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func init() {
	dispatch.Register(channelName, func(config map[string]string) (dispatch.Dispatcher, error) {
		return New(config["url"], config["secret"]), nil
	})
}

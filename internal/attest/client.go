// Package attest records actions with an external attestation service and
// returns the opaque transaction id the service mints for each record. The
// service is an external collaborator; this package only carries the memo
// hash over the wire and never interprets the returned id.
package attest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrNoSignature is returned when the service responds without a
// transaction signature.
var ErrNoSignature = errors.New("attestation response contained no signature")

// DefaultTimeout bounds a single attestation call.
const DefaultTimeout = 10 * time.Second

// Client mints a durable record reference for an action memo.
type Client interface {
	// RecordAction submits the memo and returns the transaction id minted by
	// the attestation service, or an error if the record was not durably
	// written.
	RecordAction(ctx context.Context, memo string) (string, error)
}

// HashPayload derives the memo hash for an action: the sha256 hex digest of
// the parts joined with "|". Part formatting is stable across processes so
// the same action always hashes identically.
func HashPayload(parts ...any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	sum := sha256.Sum256([]byte(strings.Join(strs, "|")))
	return hex.EncodeToString(sum[:])
}

// Unconfigured is the client used when no attestation service is configured.
// Every call fails, which means mutations proceed without a reference when
// attestation is optional and are rejected when it is required.
type Unconfigured struct{}

// RecordAction always reports the service as unconfigured.
func (Unconfigured) RecordAction(ctx context.Context, memo string) (string, error) {
	return "", errors.New("attestation service is not configured")
}

// HTTPClient talks to the attestation service over HTTP. The credential is
// loaded once from the configured keypair file at construction time.
type HTTPClient struct {
	endpoint   string
	credential string
	httpClient *http.Client
}

// NewHTTPClient creates an attestation client for the given endpoint,
// reading the signing credential from keypairPath. A non-positive timeout
// falls back to DefaultTimeout.
func NewHTTPClient(endpoint, keypairPath string, timeout time.Duration) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, errors.New("attestation endpoint is not configured")
	}
	if keypairPath == "" {
		return nil, errors.New("attestation keypair path is not configured")
	}
	raw, err := os.ReadFile(keypairPath)
	if err != nil {
		return nil, fmt.Errorf("read attestation keypair: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		credential: strings.TrimSpace(string(raw)),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// memoRequest is the wire format for a record submission.
type memoRequest struct {
	Memo string `json:"memo"`
}

// memoResponse is the wire format of the service reply. The transaction id
// is reported as "signature"; "result" is accepted as a fallback name.
type memoResponse struct {
	Signature string `json:"signature"`
	Result    string `json:"result"`
	Error     string `json:"error"`
}

// RecordAction submits the memo and returns the minted transaction id.
func (c *HTTPClient) RecordAction(ctx context.Context, memo string) (string, error) {
	body, err := json.Marshal(memoRequest{Memo: memo})
	if err != nil {
		return "", fmt.Errorf("marshal attestation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/memo", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("attestation request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("read attestation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("attestation service returned status %d", resp.StatusCode)
	}

	var parsed memoResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode attestation response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("attestation failed: %s", parsed.Error)
	}
	txID := parsed.Signature
	if txID == "" {
		txID = parsed.Result
	}
	if txID == "" {
		return "", ErrNoSignature
	}
	return txID, nil
}

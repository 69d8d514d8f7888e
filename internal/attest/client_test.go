package attest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeKeypair writes a throwaway credential file and returns its path.
func writeKeypair(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keypair")
	if err := os.WriteFile(path, []byte("test-credential\n"), 0o600); err != nil {
		t.Fatalf("failed to write keypair: %v", err)
	}
	return path
}

// TestHashPayload tests that the memo hash is stable and part-sensitive.
func TestHashPayload(t *testing.T) {
	a := HashPayload("submit", "fp", "Name", 40.73, -73.98, int64(1700000000))
	b := HashPayload("submit", "fp", "Name", 40.73, -73.98, int64(1700000000))
	if a != b {
		t.Error("identical parts should hash identically")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}

	c := HashPayload("upvote", "fp", "Name", 40.73, -73.98, int64(1700000000))
	if a == c {
		t.Error("different action should change the hash")
	}
}

// TestHTTPClient_RecordAction tests the happy path and credential handling.
func TestHTTPClient_RecordAction(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["memo"] == "" {
			t.Error("expected memo in request body")
		}

		json.NewEncoder(w).Encode(map[string]string{"signature": "sig-123"})
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, writeKeypair(t), time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	txID, err := client.RecordAction(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("RecordAction failed: %v", err)
	}
	if txID != "sig-123" {
		t.Errorf("expected sig-123, got %s", txID)
	}
	if gotAuth != "Bearer test-credential" {
		t.Errorf("unexpected Authorization header: %q", gotAuth)
	}
	if gotPath != "/memo" {
		t.Errorf("expected POST /memo, got %s", gotPath)
	}
}

// TestHTTPClient_ResultFallback tests that "result" is accepted when the
// service omits "signature".
func TestHTTPClient_ResultFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": "res-456"})
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.URL, writeKeypair(t), time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	txID, err := client.RecordAction(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("RecordAction failed: %v", err)
	}
	if txID != "res-456" {
		t.Errorf("expected res-456, got %s", txID)
	}
}

// TestHTTPClient_Errors tests service error reporting paths.
func TestHTTPClient_Errors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "service error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"error": "insufficient funds"})
			},
		},
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "empty response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{})
			},
			wantErr: ErrNoSignature,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			client, err := NewHTTPClient(server.URL, writeKeypair(t), time.Second)
			if err != nil {
				t.Fatalf("NewHTTPClient failed: %v", err)
			}

			_, err = client.RecordAction(context.Background(), "deadbeef")
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

// TestNewHTTPClient_MissingConfig tests constructor validation.
func TestNewHTTPClient_MissingConfig(t *testing.T) {
	if _, err := NewHTTPClient("", writeKeypair(t), time.Second); err == nil {
		t.Error("empty endpoint should be rejected")
	}
	if _, err := NewHTTPClient("http://localhost:9", "", time.Second); err == nil {
		t.Error("empty keypair path should be rejected")
	}
	if _, err := NewHTTPClient("http://localhost:9", "/does/not/exist", time.Second); err == nil {
		t.Error("unreadable keypair should be rejected")
	}
}

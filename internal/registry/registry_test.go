package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/qwermap/qwermap/internal/gate"
	"github.com/qwermap/qwermap/internal/place"
)

// stubAttest is a scripted attestation client for tests.
type stubAttest struct {
	txID  string
	err   error
	memos []string
}

func (s *stubAttest) RecordAction(ctx context.Context, memo string) (string, error) {
	s.memos = append(s.memos, memo)
	if s.err != nil {
		return "", s.err
	}
	return s.txID, nil
}

// testConfig returns a permissive registry config for tests.
func testConfig() Config {
	return Config{
		SubmitPerHour:       5,
		UpvotePerHour:       10,
		Window:              time.Hour,
		AutoApprove:         false,
		AttestationRequired: true,
	}
}

// newTestRegistry builds a registry over in-memory collaborators.
func newTestRegistry(cfg Config, client *stubAttest) (*Registry, *place.InMemoryRepository) {
	repo := place.NewInMemoryRepository()
	return New(repo, gate.NewInMemory(), client, cfg, nil), repo
}

// validSubmit returns a minimal valid submission.
func validSubmit() *SubmitRequest {
	loc := place.NewPoint(-73.98, 40.73)
	return &SubmitRequest{
		Name:      "The Spot",
		Location:  &loc,
		PlaceType: place.TypeCurrent,
		Category:  "bar",
	}
}

// TestSubmit_Success tests the happy path: pending status, persisted record,
// attestation metadata.
func TestSubmit_Success(t *testing.T) {
	client := &stubAttest{txID: "tx-1"}
	reg, repo := newTestRegistry(testConfig(), client)

	result, err := reg.Submit(context.Background(), validSubmit(), "fp-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.TransactionID != "tx-1" {
		t.Errorf("expected transaction id tx-1, got %s", result.TransactionID)
	}
	if result.Status != place.StatusPending {
		t.Errorf("expected pending status, got %s", result.Status)
	}
	if len(client.memos) != 1 {
		t.Fatalf("expected 1 attestation call, got %d", len(client.memos))
	}

	stored, err := repo.GetByID(context.Background(), result.PlaceID)
	if err != nil {
		t.Fatalf("stored place not found: %v", err)
	}
	if stored.Name != "The Spot" {
		t.Errorf("unexpected name: %s", stored.Name)
	}
	if len(stored.Location.Coordinates) != 2 ||
		stored.Location.Coordinates[0] != -73.98 ||
		stored.Location.Coordinates[1] != 40.73 {
		t.Errorf("stored coordinates %v do not match submitted [-73.98 40.73]",
			stored.Location.Coordinates)
	}
	if stored.SafetyScore != 0 {
		t.Errorf("new place should have score 0, got %f", stored.SafetyScore)
	}
	if stored.Attestation == nil {
		t.Fatal("attestation metadata missing")
	}
	if stored.Attestation.RawData["signature"] != "tx-1" {
		t.Errorf("expected signature tx-1, got %v", stored.Attestation.RawData["signature"])
	}
	if stored.Attestation.RawData["memo"] != client.memos[0] {
		t.Error("stored memo does not match the attested memo")
	}
}

// TestSubmit_AutoApprove tests the auto-approve policy switch.
func TestSubmit_AutoApprove(t *testing.T) {
	cfg := testConfig()
	cfg.AutoApprove = true
	reg, _ := newTestRegistry(cfg, &stubAttest{txID: "tx-1"})

	result, err := reg.Submit(context.Background(), validSubmit(), "fp-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Status != place.StatusApproved {
		t.Errorf("expected approved status, got %s", result.Status)
	}
}

// TestSubmit_MissingFingerprint tests fingerprint enforcement.
func TestSubmit_MissingFingerprint(t *testing.T) {
	reg, _ := newTestRegistry(testConfig(), &stubAttest{txID: "tx-1"})

	_, err := reg.Submit(context.Background(), validSubmit(), "")
	if !errors.Is(err, ErrMissingFingerprint) {
		t.Errorf("expected ErrMissingFingerprint, got %v", err)
	}
}

// TestSubmit_RateLimited tests the submission limit per fingerprint.
func TestSubmit_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.SubmitPerHour = 2
	reg, _ := newTestRegistry(cfg, &stubAttest{txID: "tx-1"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := reg.Submit(ctx, validSubmit(), "fp-1"); err != nil {
			t.Fatalf("submit %d failed: %v", i+1, err)
		}
	}

	_, err := reg.Submit(ctx, validSubmit(), "fp-1")
	var rle *RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rle.Action != "submission" {
		t.Errorf("expected submission action, got %s", rle.Action)
	}

	// A different fingerprint is unaffected.
	if _, err := reg.Submit(ctx, validSubmit(), "fp-2"); err != nil {
		t.Errorf("different fingerprint should not be limited: %v", err)
	}
}

// TestSubmit_Validation tests required fields and enum rejection codes.
func TestSubmit_Validation(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*SubmitRequest)
		wantCode string
	}{
		{"missing name", func(r *SubmitRequest) { r.Name = "" }, "MISSING_FIELD"},
		{"missing location", func(r *SubmitRequest) { r.Location = nil }, "MISSING_FIELD"},
		{"missing place_type", func(r *SubmitRequest) { r.PlaceType = "" }, "MISSING_FIELD"},
		{"missing category", func(r *SubmitRequest) { r.Category = "" }, "MISSING_FIELD"},
		{"bad point", func(r *SubmitRequest) { r.Location = &place.GeoPoint{Type: "Point", Coordinates: []float64{-200, 40}} }, "INVALID_COORDS"},
		{"type all not storable", func(r *SubmitRequest) { r.PlaceType = "all" }, "INVALID_TYPE"},
		{"bad category", func(r *SubmitRequest) { r.Category = "casino" }, "INVALID_CATEGORY"},
		{"bad still_exists", func(r *SubmitRequest) { r.StillExists = "maybe" }, "INVALID_STILL_EXISTS"},
		{"bad significance", func(r *SubmitRequest) { r.Significance = "cosmic" }, "INVALID_SIGNIFICANCE"},
		{"too many photos", func(r *SubmitRequest) {
			r.Photos = []string{"a", "b", "c", "d", "e", "f"}
		}, "INVALID_PHOTOS"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, _ := newTestRegistry(testConfig(), &stubAttest{txID: "tx-1"})
			req := validSubmit()
			tc.mutate(req)

			_, err := reg.Submit(context.Background(), req, "fp-1")
			var ve *place.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Code != tc.wantCode {
				t.Errorf("expected code %s, got %s", tc.wantCode, ve.Code)
			}
		})
	}
}

// TestSubmit_AttestationFailure tests fail-closed and fail-open behavior.
func TestSubmit_AttestationFailure(t *testing.T) {
	attErr := errors.New("service down")

	// Required: the submission is rejected and nothing is stored.
	reg, repo := newTestRegistry(testConfig(), &stubAttest{err: attErr})
	_, err := reg.Submit(context.Background(), validSubmit(), "fp-1")
	if err == nil {
		t.Fatal("expected error when attestation is required")
	}
	pending, _ := repo.ListPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Error("nothing should be stored on attestation failure")
	}

	// Optional: the submission proceeds without a transaction id.
	cfg := testConfig()
	cfg.AttestationRequired = false
	reg, repo = newTestRegistry(cfg, &stubAttest{err: attErr})
	result, err := reg.Submit(context.Background(), validSubmit(), "fp-1")
	if err != nil {
		t.Fatalf("Submit should proceed when attestation is optional: %v", err)
	}
	if result.TransactionID != "" {
		t.Errorf("expected empty transaction id, got %s", result.TransactionID)
	}
	stored, _ := repo.GetByID(context.Background(), result.PlaceID)
	if _, ok := stored.Attestation.RawData["signature"]; ok {
		t.Error("no signature should be recorded on fail-open")
	}
	if stored.Attestation.RawData["memo"] == "" {
		t.Error("memo should still be recorded on fail-open")
	}
}

// TestSubmit_YearCoercion tests tolerant parsing of year fields.
func TestSubmit_YearCoercion(t *testing.T) {
	reg, repo := newTestRegistry(testConfig(), &stubAttest{txID: "tx-1"})

	req := validSubmit()
	req.YearOpened = float64(1969) // JSON numbers decode as float64
	req.YearClosed = "1987"

	result, err := reg.Submit(context.Background(), req, "fp-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), result.PlaceID)
	if stored.YearOpened == nil || *stored.YearOpened != 1969 {
		t.Error("numeric year not parsed")
	}
	if stored.YearClosed == nil || *stored.YearClosed != 1987 {
		t.Error("string year not parsed")
	}

	// Garbage years are dropped, not rejected.
	req = validSubmit()
	req.YearOpened = "unknown"
	result, err = reg.Submit(context.Background(), req, "fp-2")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	stored, _ = repo.GetByID(context.Background(), result.PlaceID)
	if stored.YearOpened != nil {
		t.Error("unparseable year should be dropped")
	}
}

// TestUpvote_Success tests the upvote flow and the recomputed score.
func TestUpvote_Success(t *testing.T) {
	client := &stubAttest{txID: "tx-up"}
	reg, repo := newTestRegistry(testConfig(), client)
	ctx := context.Background()

	p := &place.Place{
		ID:       "p1",
		Name:     "The Spot",
		Location: place.NewPoint(-73.98, 40.73),
		Status:   place.StatusApproved,
	}
	if err := repo.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	result, err := reg.Upvote(ctx, "p1", "fp-1")
	if err != nil {
		t.Fatalf("Upvote failed: %v", err)
	}
	if result.TransactionID != "tx-up" {
		t.Errorf("expected tx-up, got %s", result.TransactionID)
	}
	if result.NewUpvoteCount != 1 {
		t.Errorf("expected count 1, got %d", result.NewUpvoteCount)
	}
	if result.NewSafetyScore != 2 {
		t.Errorf("expected score 2, got %f", result.NewSafetyScore)
	}

	stored, _ := repo.GetByID(ctx, "p1")
	if stored.SafetyScore != 2 {
		t.Errorf("score not persisted: %f", stored.SafetyScore)
	}
}

// TestUpvote_Dedupe tests that a fingerprint cannot upvote the same place twice.
func TestUpvote_Dedupe(t *testing.T) {
	reg, repo := newTestRegistry(testConfig(), &stubAttest{txID: "tx-up"})
	ctx := context.Background()

	p := &place.Place{ID: "p1", Location: place.NewPoint(-73.98, 40.73), Status: place.StatusApproved}
	if err := repo.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if _, err := reg.Upvote(ctx, "p1", "fp-1"); err != nil {
		t.Fatalf("first upvote failed: %v", err)
	}
	if _, err := reg.Upvote(ctx, "p1", "fp-1"); !errors.Is(err, ErrAlreadyUpvoted) {
		t.Errorf("expected ErrAlreadyUpvoted, got %v", err)
	}

	// A different fingerprint can still upvote.
	result, err := reg.Upvote(ctx, "p1", "fp-2")
	if err != nil {
		t.Fatalf("second fingerprint upvote failed: %v", err)
	}
	if result.NewUpvoteCount != 2 {
		t.Errorf("expected count 2, got %d", result.NewUpvoteCount)
	}
}

// TestUpvote_RateLimited tests the upvote limit per fingerprint.
func TestUpvote_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.UpvotePerHour = 1
	reg, repo := newTestRegistry(cfg, &stubAttest{txID: "tx-up"})
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		p := &place.Place{ID: id, Location: place.NewPoint(-73.98, 40.73), Status: place.StatusApproved}
		if err := repo.Insert(ctx, p); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if _, err := reg.Upvote(ctx, "p1", "fp-1"); err != nil {
		t.Fatalf("first upvote failed: %v", err)
	}
	_, err := reg.Upvote(ctx, "p2", "fp-1")
	var rle *RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rle.Action != "upvote" {
		t.Errorf("expected upvote action, got %s", rle.Action)
	}
}

// TestUpvote_NotFound tests the miss path.
func TestUpvote_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(testConfig(), &stubAttest{txID: "tx-up"})

	_, err := reg.Upvote(context.Background(), "does-not-exist", "fp-1")
	if !errors.Is(err, place.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestUpvote_MissingFingerprint tests fingerprint enforcement on upvotes.
func TestUpvote_MissingFingerprint(t *testing.T) {
	reg, _ := newTestRegistry(testConfig(), &stubAttest{txID: "tx-up"})

	_, err := reg.Upvote(context.Background(), "p1", "")
	if !errors.Is(err, ErrMissingFingerprint) {
		t.Errorf("expected ErrMissingFingerprint, got %v", err)
	}
}

// TestGet_ResolvesByTransactionID tests the id-or-transaction-id fallback.
func TestGet_ResolvesByTransactionID(t *testing.T) {
	reg, repo := newTestRegistry(testConfig(), &stubAttest{txID: "tx-1"})
	ctx := context.Background()

	p := &place.Place{
		ID:            "3f1f9b8a-0000-4000-8000-000000000001",
		TransactionID: "some-tx-signature",
		Location:      place.NewPoint(-73.98, 40.73),
		Status:        place.StatusApproved,
	}
	if err := repo.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	byID, err := reg.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get by id failed: %v", err)
	}
	if byID.TransactionID != "some-tx-signature" {
		t.Error("wrong place resolved by id")
	}

	byTx, err := reg.Get(ctx, "some-tx-signature")
	if err != nil {
		t.Fatalf("Get by transaction id failed: %v", err)
	}
	if byTx.ID != p.ID {
		t.Error("wrong place resolved by transaction id")
	}

	if _, err := reg.Get(ctx, "nope"); !errors.Is(err, place.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestQuery_Validation tests coordinate and enum validation on queries.
func TestQuery_Validation(t *testing.T) {
	reg, _ := newTestRegistry(testConfig(), &stubAttest{txID: "tx-1"})
	ctx := context.Background()

	cases := []struct {
		name     string
		req      QueryRequest
		wantCode string
	}{
		{"missing lat", QueryRequest{Lon: "-73.98", RadiusM: 1000}, "INVALID_COORDS"},
		{"bad lon", QueryRequest{Lat: "40.73", Lon: "east", RadiusM: 1000}, "INVALID_COORDS"},
		{"lat out of range", QueryRequest{Lat: "95", Lon: "-73.98", RadiusM: 1000}, "INVALID_COORDS"},
		{"bad type", QueryRequest{Lat: "40.73", Lon: "-73.98", RadiusM: 1000, PlaceType: "future"}, "INVALID_TYPE"},
		{"bad category", QueryRequest{Lat: "40.73", Lon: "-73.98", RadiusM: 1000, Category: "casino"}, "INVALID_CATEGORY"},
		{"bad status", QueryRequest{Lat: "40.73", Lon: "-73.98", RadiusM: 1000, Status: "deleted"}, "INVALID_STATUS"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := reg.Query(ctx, tc.req)
			var ve *place.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Code != tc.wantCode {
				t.Errorf("expected %s, got %s", tc.wantCode, ve.Code)
			}
		})
	}
}

// TestQuery_LimitClamped tests that an oversized limit is capped while the
// total still counts every match.
func TestQuery_LimitClamped(t *testing.T) {
	reg, repo := newTestRegistry(testConfig(), &stubAttest{txID: "tx-1"})
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		p := &place.Place{
			ID:       fmt.Sprintf("p%03d", i),
			Location: place.NewPoint(-73.98, 40.73),
			Status:   place.StatusApproved,
		}
		if err := repo.Insert(ctx, p); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	results, total, err := reg.Query(ctx, QueryRequest{
		Lat: "40.73", Lon: "-73.98", RadiusM: 1000, Limit: 500,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != MaxQueryLimit {
		t.Errorf("expected %d results for limit 500, got %d", MaxQueryLimit, len(results))
	}
	if total != 120 {
		t.Errorf("expected total 120 independent of the page, got %d", total)
	}

	// The next page picks up where the clamped page ended.
	rest, total, err := reg.Query(ctx, QueryRequest{
		Lat: "40.73", Lon: "-73.98", RadiusM: 1000, Limit: 500, Offset: MaxQueryLimit,
	})
	if err != nil {
		t.Fatalf("Query offset failed: %v", err)
	}
	if len(rest) != 20 {
		t.Errorf("expected 20 remaining results, got %d", len(rest))
	}
	if total != 120 {
		t.Errorf("expected total 120 on the second page, got %d", total)
	}
}

// TestQuery_TypeAllAccepted tests that the query-side "all" sentinel passes.
func TestQuery_TypeAllAccepted(t *testing.T) {
	reg, repo := newTestRegistry(testConfig(), &stubAttest{txID: "tx-1"})
	ctx := context.Background()

	p := &place.Place{ID: "p1", Location: place.NewPoint(-73.98, 40.73), Status: place.StatusApproved}
	if err := repo.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, total, err := reg.Query(ctx, QueryRequest{
		Lat: "40.73", Lon: "-73.98", RadiusM: 1000, PlaceType: "all",
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Errorf("expected 1 result, got %d (total %d)", len(results), total)
	}
}

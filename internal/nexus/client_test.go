package nexus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(srv *httptest.Server) *Client {
	return New(srv.URL, "test-key", "modswipe", "test")
}

func TestFetchIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/games/skyrim/mods/updated.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("period"); got != "1w" {
			t.Errorf("period = %q, want 1w", got)
		}
		if got := r.Header.Get("apikey"); got != "test-key" {
			t.Errorf("apikey header = %q, want test-key", got)
		}
		w.Header().Set("X-RL-Hourly-Limit", "100")
		w.Header().Set("X-RL-Hourly-Remaining", "96")
		w.Header().Set("X-RL-Daily-Limit", "2500")
		w.Header().Set("X-RL-Daily-Remaining", "2400")
		w.Write([]byte(`[{"mod_id":11},{"mod_id":22},{"mod_id":33}]`))
	}))
	defer srv.Close()

	res, err := testClient(srv).FetchIndex(context.Background(), "skyrim", WindowWeek)
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if len(res.IDs) != 3 || res.IDs[0] != 11 || res.IDs[2] != 33 {
		t.Errorf("IDs = %v, want [11 22 33]", res.IDs)
	}
	if res.RateLimit == nil {
		t.Fatal("RateLimit is nil")
	}
	if res.RateLimit.HourlyRemaining != 96 {
		t.Errorf("HourlyRemaining = %d, want 96", res.RateLimit.HourlyRemaining)
	}
	if res.RateLimit.DailyLimit != 2500 {
		t.Errorf("DailyLimit = %d, want 2500", res.RateLimit.DailyLimit)
	}
}

func TestFetchIndex_NoRateHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	res, err := testClient(srv).FetchIndex(context.Background(), "skyrim", WindowDay)
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if res.RateLimit != nil {
		t.Errorf("RateLimit = %+v, want nil when headers are absent", res.RateLimit)
	}
}

func TestFetchIndex_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv).FetchIndex(context.Background(), "skyrim", WindowDay)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

func TestFetchIndex_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "premium required", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(srv).FetchIndex(context.Background(), "skyrim", WindowDay)

	var forbiddenErr *ForbiddenError
	if !errors.As(err, &forbiddenErr) {
		t.Fatalf("error = %v, want *ForbiddenError", err)
	}
}

func TestFetchIndex_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		http.Error(w, "quota exhausted", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv).FetchIndex(context.Background(), "skyrim", WindowDay)

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rlErr.RetryAfterSeconds != 120 {
		t.Errorf("RetryAfterSeconds = %d, want 120", rlErr.RetryAfterSeconds)
	}
	if rlErr.Message != "quota exhausted" {
		t.Errorf("Message = %q, want the response body carried through", rlErr.Message)
	}
}

// TestFetchIndex_RateLimitedHTTPDate covers the header's HTTP-date form.
func TestFetchIndex_RateLimitedHTTPDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv).FetchIndex(context.Background(), "skyrim", WindowDay)

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("error = %v, want *RateLimitError", err)
	}
	if rlErr.RetryAfterSeconds < 85 || rlErr.RetryAfterSeconds > 91 {
		t.Errorf("RetryAfterSeconds = %d, want ~90 from the HTTP-date form", rlErr.RetryAfterSeconds)
	}
}

// A date in the past or garbage yields zero rather than an error.
func TestParseRetryAfter_Fallbacks(t *testing.T) {
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %d, want 0", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %d, want 0", got)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != 0 {
		t.Errorf("parseRetryAfter(past date) = %d, want 0", got)
	}
}

func TestFetchIndex_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv).FetchIndex(context.Background(), "skyrim", WindowDay)

	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if tErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", tErr.StatusCode)
	}
}

func TestFetchListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/games/skyrim/mods/42.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("X-RL-Hourly-Limit", "100")
		w.Header().Set("X-RL-Hourly-Remaining", "80")
		w.Write([]byte(`{
			"mod_id": 42,
			"name": "Frostfall",
			"summary": "Hypothermia and camping",
			"picture_url": "https://img.example/42.jpg",
			"author": "Chesko",
			"version": "3.4.1",
			"status": "published",
			"available": true,
			"created_timestamp": 1700000000,
			"endorsement_count": 15000
		}`))
	}))
	defer srv.Close()

	res, err := testClient(srv).FetchListing(context.Background(), "skyrim", 42)
	if err != nil {
		t.Fatalf("FetchListing: %v", err)
	}
	if res.Listing == nil {
		t.Fatal("Listing is nil")
	}
	if res.Listing.ModID != 42 || res.Listing.Name != "Frostfall" {
		t.Errorf("got %d/%q, want 42/Frostfall", res.Listing.ModID, res.Listing.Name)
	}
	if res.Listing.Catalog != "skyrim" {
		t.Errorf("Catalog = %q, want skyrim", res.Listing.Catalog)
	}
	if res.Listing.CreatedTime == nil {
		t.Error("CreatedTime not parsed from created_timestamp")
	}
	if res.Listing.EndorsementCount != 15000 {
		t.Errorf("EndorsementCount = %d, want 15000", res.Listing.EndorsementCount)
	}
	if res.RateLimit == nil || res.RateLimit.HourlyRemaining != 80 {
		t.Errorf("RateLimit = %+v, want hourly remaining 80", res.RateLimit)
	}
}

// TestFetchListing_NotFound verifies a missing record yields a nil listing,
// not an error: individual records vanishing upstream is routine.
func TestFetchListing_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RL-Hourly-Limit", "100")
		w.Header().Set("X-RL-Hourly-Remaining", "79")
		http.Error(w, "mod not found", http.StatusNotFound)
	}))
	defer srv.Close()

	res, err := testClient(srv).FetchListing(context.Background(), "skyrim", 999)
	if err != nil {
		t.Fatalf("FetchListing returned error for 404: %v", err)
	}
	if res.Listing != nil {
		t.Errorf("Listing = %+v, want nil", res.Listing)
	}
	if res.RateLimit == nil || res.RateLimit.HourlyRemaining != 79 {
		t.Errorf("rate-limit snapshot should survive a 404, got %+v", res.RateLimit)
	}
}

func TestFetchCuratedList_FiltersNonDisplayable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/games/skyrim/mods/trending.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"mod_id": 1, "name": "Good", "summary": "ok", "status": "published"},
			{"mod_id": 2, "name": "No content"},
			{"mod_id": 3, "name": "Hidden", "summary": "ok", "status": "hidden"}
		]`))
	}))
	defer srv.Close()

	res, err := testClient(srv).FetchCuratedList(context.Background(), "skyrim", ListTrending)
	if err != nil {
		t.Fatalf("FetchCuratedList: %v", err)
	}
	if len(res.Listings) != 1 {
		t.Fatalf("got %d listings, want 1 (non-displayable filtered)", len(res.Listings))
	}
	if res.Listings[0].ModID != 1 {
		t.Errorf("ModID = %d, want 1", res.Listings[0].ModID)
	}
}

func TestValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/validate.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"user_id": 1}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv).Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv).Validate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

// Package nexus is the read-only client for the remote mod catalog API.
package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/modswipe/modswipe/internal/listing"
)

// Window is a recency window accepted by the updated-mods index endpoint.
type Window string

const (
	WindowDay   Window = "1d"
	WindowWeek  Window = "1w"
	WindowMonth Window = "1m"
)

// Windows lists every index window the sampler fans out over.
var Windows = []Window{WindowDay, WindowWeek, WindowMonth}

// Curated list names served by the curated-list endpoint.
const (
	ListTrending    = "trending"
	ListLatestAdded = "latest_added"
)

// IndexResult is the outcome of an updated-mods index query.
type IndexResult struct {
	IDs       []int64
	RateLimit *RateLimit
}

// ListingResult is the outcome of a single-mod fetch. Listing is nil when
// the record is unavailable upstream; that is not an error.
type ListingResult struct {
	Listing   *listing.Listing
	RateLimit *RateLimit
}

// ListingsResult is the outcome of a curated-list fetch.
type ListingsResult struct {
	Listings  []listing.Listing
	RateLimit *RateLimit
}

// Client communicates with the remote catalog API. All calls surface the
// rate-limit snapshot parsed from response headers, and a client-side
// limiter spaces requests out before the server ever has to.
type Client struct {
	baseURL    string
	apiKey     string
	appName    string
	appVersion string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Client for the given API base URL and key.
func New(baseURL, apiKey, appName, appVersion string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		appName:    appName,
		appVersion: appVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// The remote allows a burst-averse ~2 req/s before throttling kicks in.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

// modRecord mirrors the remote's JSON for a full mod record.
type modRecord struct {
	ModID            int64  `json:"mod_id"`
	Name             string `json:"name"`
	Summary          string `json:"summary"`
	Description      string `json:"description"`
	PictureURL       string `json:"picture_url"`
	Author           string `json:"author"`
	Version          string `json:"version"`
	CategoryID       int    `json:"category_id"`
	CreatedTimestamp int64  `json:"created_timestamp"`
	UpdatedTimestamp int64  `json:"updated_timestamp"`
	EndorsementCount int    `json:"endorsement_count"`
	DownloadCount    int    `json:"mod_downloads"`
	Status           string `json:"status"`
	Available        *bool  `json:"available"`
	Adult            bool   `json:"contains_adult_content"`
}

func (m modRecord) toListing(catalog string) listing.Listing {
	l := listing.Listing{
		Catalog:          catalog,
		ModID:            m.ModID,
		Name:             m.Name,
		Summary:          m.Summary,
		Description:      m.Description,
		PictureURL:       m.PictureURL,
		Author:           m.Author,
		Version:          m.Version,
		CategoryID:       m.CategoryID,
		EndorsementCount: m.EndorsementCount,
		DownloadCount:    m.DownloadCount,
		Status:           m.Status,
		Available:        m.Available,
		Adult:            m.Adult,
	}
	if m.CreatedTimestamp > 0 {
		t := time.Unix(m.CreatedTimestamp, 0).UTC()
		l.CreatedTime = &t
	}
	if m.UpdatedTimestamp > 0 {
		t := time.Unix(m.UpdatedTimestamp, 0).UTC()
		l.UpdatedTime = &t
	}
	return l
}

// updatedEntry mirrors one element of the updated-mods index response.
type updatedEntry struct {
	ModID int64 `json:"mod_id"`
}

// FetchIndex queries the recently-updated index for a catalog and recency
// window and returns the raw candidate ids.
func (c *Client) FetchIndex(ctx context.Context, catalog string, window Window) (IndexResult, error) {
	path := fmt.Sprintf("/v1/games/%s/mods/updated.json?period=%s", catalog, window)
	resp, err := c.get(ctx, path)
	if err != nil {
		return IndexResult{}, err
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header)
	if err := statusError(resp); err != nil {
		return IndexResult{RateLimit: rl}, err
	}

	var entries []updatedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return IndexResult{RateLimit: rl}, fmt.Errorf("decoding index response: %w", err)
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ModID)
	}
	return IndexResult{IDs: ids, RateLimit: rl}, nil
}

// FetchListing fetches one full mod record. A non-2xx response is not fatal:
// upstream records disappear or hide routinely, so the caller gets a nil
// listing to skip, with the rate-limit snapshot still populated.
func (c *Client) FetchListing(ctx context.Context, catalog string, id int64) (ListingResult, error) {
	path := fmt.Sprintf("/v1/games/%s/mods/%d.json", catalog, id)
	resp, err := c.get(ctx, path)
	if err != nil {
		return ListingResult{}, err
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return ListingResult{RateLimit: rl}, nil
	}

	var rec modRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return ListingResult{RateLimit: rl}, nil
	}

	l := rec.toListing(catalog)
	return ListingResult{Listing: &l, RateLimit: rl}, nil
}

// FetchCuratedList fetches a named curated collection in one call,
// pre-filtered to displayable listings.
func (c *Client) FetchCuratedList(ctx context.Context, catalog, name string) (ListingsResult, error) {
	path := fmt.Sprintf("/v1/games/%s/mods/%s.json", catalog, name)
	resp, err := c.get(ctx, path)
	if err != nil {
		return ListingsResult{}, err
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header)
	if err := statusError(resp); err != nil {
		return ListingsResult{RateLimit: rl}, err
	}

	var recs []modRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return ListingsResult{RateLimit: rl}, fmt.Errorf("decoding curated list %q: %w", name, err)
	}

	var out []listing.Listing
	for _, rec := range recs {
		l := rec.toListing(catalog)
		if l.Displayable() {
			out = append(out, l)
		}
	}
	return ListingsResult{Listings: out, RateLimit: rl}, nil
}

// Validate checks the API key against the credentials endpoint.
func (c *Client) Validate(ctx context.Context) (*RateLimit, error) {
	resp, err := c.get(ctx, "/v1/users/validate.json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	rl := parseRateLimit(resp.Header)
	if err := statusError(resp); err != nil {
		return rl, err
	}
	io.Copy(io.Discard, resp.Body)
	return rl, nil
}

// parseRetryAfter accepts both forms the header allows: delay seconds and an
// HTTP-date.
func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Round(time.Second).Seconds())
		}
	}
	return 0
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Application-Name", c.appName)
	req.Header.Set("Application-Version", c.appVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	return resp, nil
}

// statusError maps a non-2xx response onto the typed error taxonomy.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &AuthError{Message: msg}
	case http.StatusForbidden:
		return &ForbiddenError{Message: msg}
	case http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfterSeconds: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:           msg,
		}
	default:
		return &TransportError{StatusCode: resp.StatusCode, Message: msg}
	}
}

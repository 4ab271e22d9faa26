// Package api exposes the supply core to the UI and CLI over a local HTTP
// surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modswipe/modswipe/internal/listing"
	"github.com/modswipe/modswipe/internal/nexus"
	"github.com/modswipe/modswipe/internal/supply"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps carries the handler dependencies.
type Deps struct {
	Supply      *supply.Service
	Replenisher *supply.Replenisher
	Token       string
}

// NewHandler builds the router. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/batch", handleBatch(deps))
		r.Post("/seen", handleSeen(deps))
		r.Post("/approved", handleApprove(deps))
		r.Get("/approved", handleListApproved(deps))
		r.Get("/catalogs/{catalog}/stats", handleStats(deps))
		r.Delete("/catalogs/{catalog}/cache", handleClear(deps))
		r.Post("/refresh", handleRefresh(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type batchRequest struct {
	Catalog string  `json:"catalog"`
	Count   int     `json:"count"`
	Exclude []int64 `json:"exclude"`
}

func handleBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Catalog == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "catalog is required")
			return
		}
		if req.Count <= 0 {
			req.Count = 15
		}

		batch, err := deps.Supply.RequestBatch(r.Context(), req.Catalog, req.Count, req.Exclude)
		if err != nil {
			writeRemoteError(w, err)
			return
		}

		if batch.Listings == nil {
			batch.Listings = []listing.Listing{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(batch)
	}
}

type seenRequest struct {
	Catalog string  `json:"catalog"`
	IDs     []int64 `json:"ids"`
}

func handleSeen(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req seenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Catalog == "" || len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "catalog and ids are required")
			return
		}

		if err := deps.Supply.ReportSeen(req.Catalog, req.IDs...); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record seen ids: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
	}
}

type approveRequest struct {
	Catalog string          `json:"catalog"`
	Listing listing.Listing `json:"listing"`
}

func handleApprove(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req approveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Catalog == "" || req.Listing.ModID == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "catalog and listing.mod_id are required")
			return
		}

		if err := deps.Supply.Approve(req.Catalog, req.Listing); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to approve listing: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "approved"})
	}
}

func handleListApproved(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := r.URL.Query().Get("catalog")
		if catalog == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "catalog query parameter is required")
			return
		}

		approved, err := deps.Supply.Approved(catalog)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list approved: %v", err)
			return
		}
		if approved == nil {
			approved = []listing.Listing{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(approved)
	}
}

type statsResponse struct {
	Count      int  `json:"count"`
	AgeMinutes *int `json:"age_minutes"`
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := chi.URLParam(r, "catalog")

		stats, err := deps.Supply.Stats(catalog)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read stats: %v", err)
			return
		}

		resp := statsResponse{Count: stats.Count}
		if stats.HasAge {
			age := stats.AgeMinutes
			resp.AgeMinutes = &age
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := chi.URLParam(r, "catalog")

		deps.Supply.ClearCatalog(catalog)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

type refreshRequest struct {
	Catalog string `json:"catalog"`
}

func handleRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Catalog == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "catalog is required")
			return
		}

		rep := deps.Replenisher.Refresh(r.Context(), req.Catalog)
		if rep.Err != nil {
			writeRemoteError(w, rep.Err)
			return
		}
		if rep.Listings == nil {
			rep.Listings = []listing.Listing{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"state":    rep.Took,
			"listings": rep.Listings,
		})
	}
}

// writeRemoteError maps the remote error taxonomy onto HTTP responses.
func writeRemoteError(w http.ResponseWriter, err error) {
	var authErr *nexus.AuthError
	var forbiddenErr *nexus.ForbiddenError
	var rateErr *nexus.RateLimitError
	var transportErr *nexus.TransportError

	switch {
	case errors.As(err, &authErr):
		httpError(w, http.StatusBadGateway, "authentication_error", "remote rejected credentials: %v", authErr)
	case errors.As(err, &forbiddenErr):
		httpError(w, http.StatusBadGateway, "permission_error", "remote denied access: %v", forbiddenErr)
	case errors.As(err, &rateErr):
		if rateErr.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", rateErr.RetryAfterSeconds))
		}
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "remote rate limit reached: %v", rateErr)
	case errors.As(err, &transportErr):
		httpError(w, http.StatusBadGateway, "api_error", "remote request failed: %v", transportErr)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

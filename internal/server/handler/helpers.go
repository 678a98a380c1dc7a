// Package handler contains the HTTP handlers for the API server.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"polyexit/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset, since and until query parameters.
// Timestamps accept RFC 3339.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	opts := domain.ListOpts{Limit: defaultListLimit}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, errBadParam{"limit"}
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errBadParam{"offset"}
		}
		opts.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errBadParam{"since"}
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errBadParam{"until"}
		}
		opts.Until = &t
	}
	return opts, nil
}

type errBadParam struct{ name string }

func (e errBadParam) Error() string { return "invalid query parameter: " + e.name }

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string, details string) {
	writeJSON(w, status, apiError{Error: msg, Details: details})
}

func getPageNumber(r *http.Request) int {
	return queryInt(r, "page", 1, 1, int(^uint(0)>>1))
}

func getPageSize(r *http.Request) int {
	return queryInt(r, "page_size", PageSize, 1, MaxPageSize)
}

func queryInt(r *http.Request, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < lo {
		return def
	}
	return min(v, hi)
}

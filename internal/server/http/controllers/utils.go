package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// parseNonNegative parses an optional non-negative integer.
func parseNonNegative(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseTimeout accepts Go durations ("30s") or plain seconds ("30").
// Returns def for empty or invalid values, and never more than max.
func parseTimeout(s string, def, max time.Duration) time.Duration {
	d := def
	if s != "" {
		if v, err := time.ParseDuration(s); err == nil {
			d = v
		} else if secs, err := strconv.Atoi(s); err == nil {
			d = time.Duration(secs) * time.Second
		}
	}
	if d <= 0 {
		d = def
	}
	if d > max {
		d = max
	}
	return d
}

// parseBool parses a boolean string and returns the boolean value.
//
// Returns true for "true" or "1", false otherwise.
func parseBool(s string) bool {
	return s == "true" || s == "1"
}

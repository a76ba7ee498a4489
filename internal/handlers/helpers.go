// Package handlers implements every HTTP endpoint of the gateway
// (spec.md §4.11/§6), wiring upload, pdftoolchain, quota, identity,
// backend, and payments together.
//
// Grounded on original_source/handlers.rs end to end, with the
// writeJSON/writeErr response-helper idiom kept from the teacher's
// cmd/server/main.go.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writePlainText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func decodeJSONBody[T any](r *http.Request) (T, error) {
	var out T
	err := json.NewDecoder(r.Body).Decode(&out)
	return out, err
}

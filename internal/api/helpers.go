package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// WriteJSONResponse encodes the value to a buffer first and only then writes
// it, so an encoding failure never produces a partial body after a 200
// status. Returns false when nothing useful was written.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("API: Failed to encode JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		log.Printf("API: Failed to write response: %v", err)
		return false
	}

	return true
}

// Package api provides HTTP response utilities for RobotFeed.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

// Pre-marshaled fallback response for when a payload cannot be encoded.
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeError maps err onto the error taxonomy: NotFound is 404, BadRequest is
// 400, anything else is logged and reported as a generic 500.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case models.IsNotFound(err):
		slog.Warn(op+": not found", "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case models.IsBadRequest(err):
		slog.Warn(op+": bad request", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error(op+": unexpected error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"demo-call-service/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Message    string      `json:"message,omitempty"`
	Details    string      `json:"details,omitempty"`
	RetryAfter int         `json:"retryAfter,omitempty"` // minutes
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(errMsg, message string) Response {
	return Response{
		Success: false,
		Error:   errMsg,
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

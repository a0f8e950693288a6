package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"demo-call-service/internal/backend"
	"demo-call-service/internal/model"
	"demo-call-service/internal/service"
	"demo-call-service/internal/util"
)

const maxBodyBytes = 64 << 10

// CallStarter is satisfied by *service.CallService.
type CallStarter interface {
	StartCall(ctx context.Context, req model.CallRequest, meta model.RequestMeta) (*backend.Result, error)
	RejectMalformed(meta model.RequestMeta) error
}

// StorePinger is satisfied by *ratelimit.Limiter.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// CallHandler handles HTTP requests for demo call initiation
type CallHandler struct {
	calls   CallStarter
	limiter StorePinger
	logger  *zap.Logger
}

func NewCallHandler(calls CallStarter, limiter StorePinger, logger *zap.Logger) *CallHandler {
	return &CallHandler{
		calls:   calls,
		limiter: limiter,
		logger:  logger,
	}
}

func (h *CallHandler) RegisterRoutes(router chi.Router) {
	router.Post("/start_call", h.StartCall)
	router.Get("/ratelimit/health", h.RateLimitHealth)
}

// StartCall accepts {phone_number, persona, customer_name?, custom_prompt?}
// and relays the selected backend's response.
func (h *CallHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	meta := model.RequestMeta{
		Origin:    r.Header.Get("Origin"),
		Referer:   r.Header.Get("Referer"),
		UserAgent: r.UserAgent(),
		ClientIP:  util.ClientIP(r),
	}

	var req model.CallRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, h.calls.RejectMalformed(meta))
		return
	}

	result, err := h.calls.StartCall(r.Context(), req, meta)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	if _, err := w.Write(result.Body); err != nil {
		h.logger.Warn("Failed to write backend response", util.ErrorField(err))
	}
}

// RateLimitHealth verifies the rate limit store round trip.
func (h *CallHandler) RateLimitHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.limiter.Ping(ctx); err != nil {
		h.logger.Warn("Rate limit store health check failed", util.ErrorField(err))
		respondWithJSON(w, h.logger, http.StatusServiceUnavailable, errorResponse(err.Error(), "Rate limit store unreachable"))
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Rate limit store is healthy"))
}

func (h *CallHandler) respondWithError(w http.ResponseWriter, err error) {
	statusCode := getStatusCode(err)

	var resp Response
	var limited *service.RateLimitedError
	var dispatchErr *backend.DispatchError

	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
		resp = errorResponse("Too many requests", "Only one demo call per hour is allowed. Please try again later.")
		resp.RetryAfter = limited.RetryAfterMinutes()
	case errors.Is(err, service.ErrMalformedBody):
		resp = errorResponse("Invalid request body", "Request body must be JSON")
	case errors.Is(err, service.ErrInvalidInput):
		resp = errorResponse(err.Error(), "Missing or invalid fields")
	case errors.Is(err, service.ErrForbiddenOrigin), errors.Is(err, service.ErrForbiddenClient):
		resp = errorResponse("Forbidden", "Request not allowed")
	case errors.As(err, &dispatchErr):
		resp = errorResponse(backendMessage(err), "Failed to start call")
		resp.Details = dispatchErr.Details
	default:
		resp = errorResponse("Internal server error", "Failed to process call request")
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", util.ErrorField(err), util.Int("status_code", statusCode))
	}
	respondWithJSON(w, h.logger, statusCode, resp)
}

func backendMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrBackendMisconfigured):
		return "Call service is misconfigured"
	case errors.Is(err, service.ErrBackendUnreachable):
		return "Failed to connect to the call backend"
	default:
		return "Failed to connect to call service"
	}
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	var limited *service.RateLimitedError
	switch {
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbiddenOrigin), errors.Is(err, service.ErrForbiddenClient):
		return http.StatusForbidden
	case errors.Is(err, service.ErrBackendUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrBackendUnavailable), errors.Is(err, service.ErrBackendMisconfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

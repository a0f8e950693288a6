package service

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"demo-call-service/internal/analytics"
	"demo-call-service/internal/backend"
	"demo-call-service/internal/metrics"
	"demo-call-service/internal/model"
	"demo-call-service/internal/ratelimit"
	"demo-call-service/internal/util"
)

const browserMarker = "Mozilla/"

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	CheckAndRecord(ctx context.Context, sourceID string, now time.Time) ratelimit.Decision
}

// Notifier is satisfied by *notify.Dispatcher. Dispatch must not block.
type Notifier interface {
	Dispatch(event model.CallNotification)
}

// PhoneHasher pseudonymizes numbers for analytics.
type PhoneHasher interface {
	HashPhone(phone string) string
}

type Options struct {
	AllowedOrigins      []string
	CountryCode         string
	DefaultCustomerName string
}

// CallService validates browser call requests and hands them to the configured backend.
type CallService struct {
	opts     Options
	origins  *originMatcher
	limiter  RateLimiter
	backend  backend.Backend
	notifier Notifier
	recorder *analytics.Recorder
	hasher   PhoneHasher
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewCallService(
	opts Options,
	limiter RateLimiter,
	b backend.Backend,
	notifier Notifier,
	recorder *analytics.Recorder,
	hasher PhoneHasher,
	logger *zap.Logger,
) *CallService {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &CallService{
		opts:     opts,
		origins:  newOriginMatcher(opts.AllowedOrigins),
		limiter:  limiter,
		backend:  b,
		notifier: notifier,
		recorder: recorder,
		hasher:   hasher,
		validate: validate,
		logger:   logger,
		metrics:  metrics.Default(),
		now:      time.Now,
	}
}

func (s *CallService) BackendKind() backend.Kind {
	return s.backend.Kind()
}

// StartCall runs the checks in order: origin, browser user agent, required
// fields, custom prompt, rate limit. Only a request that passes all of them
// reaches the backend and the notification sinks.
func (s *CallService) StartCall(ctx context.Context, req model.CallRequest, meta model.RequestMeta) (*backend.Result, error) {
	attempt := s.newAttempt(meta)
	if err := s.admit(&attempt, meta); err != nil {
		return nil, err
	}

	req = s.clean(req)
	attempt.Persona = req.Persona
	if err := s.validateRequest(req); err != nil {
		s.finish(attempt, model.OutcomeInvalid, http.StatusBadRequest)
		return nil, err
	}

	sourceID := meta.ClientIP
	if sourceID == "" {
		sourceID = "unknown"
	}
	decision := s.limiter.CheckAndRecord(ctx, sourceID, s.now())
	if !decision.Allowed {
		s.logger.Info("Call request rate limited",
			util.SourceIP(sourceID),
			util.Duration("retry_after", decision.RetryAfter),
		)
		s.finish(attempt, model.OutcomeRateLimited, http.StatusTooManyRequests)
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.CustomerName == "" {
		req.CustomerName = s.opts.DefaultCustomerName
	}
	if req.Persona != model.PersonaCustom {
		req.CustomPrompt = ""
	}
	phone := NormalizePhoneNumber(req.PhoneNumber, s.opts.CountryCode)

	attempt.RequestID = req.RequestID
	if s.hasher != nil {
		attempt.PhoneHash = s.hasher.HashPhone(phone)
	}

	call := backend.Call{
		RequestID:    req.RequestID,
		PhoneNumber:  phone,
		Persona:      req.Persona,
		CustomerName: req.CustomerName,
		CustomPrompt: req.CustomPrompt,
	}

	start := time.Now()
	result, err := s.backend.Dispatch(ctx, call)
	s.metrics.BackendDuration.WithLabelValues(string(s.backend.Kind())).Observe(time.Since(start).Seconds())

	s.notify(call, sourceID)

	if err != nil {
		s.logger.Error("Call backend dispatch failed",
			util.RequestID(call.RequestID),
			util.Backend(string(s.backend.Kind())),
			util.ErrorField(err),
		)
		s.finish(attempt, model.OutcomeBackendError, backendErrorStatus(err))
		return nil, err
	}

	outcome := model.OutcomeDispatched
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		outcome = model.OutcomeBackendRejected
	}
	s.logger.Info("Call request dispatched",
		util.RequestID(call.RequestID),
		util.Backend(string(s.backend.Kind())),
		util.String("persona", call.Persona),
		util.Int("status", result.StatusCode),
	)
	s.finish(attempt, outcome, result.StatusCode)
	return result, nil
}

// RejectMalformed answers a request whose body could not be decoded. The
// origin and browser checks still come first, so a disallowed caller sees 403.
func (s *CallService) RejectMalformed(meta model.RequestMeta) error {
	attempt := s.newAttempt(meta)
	if err := s.admit(&attempt, meta); err != nil {
		return err
	}
	s.finish(attempt, model.OutcomeInvalid, http.StatusBadRequest)
	return ErrMalformedBody
}

func (s *CallService) newAttempt(meta model.RequestMeta) model.CallAttempt {
	return model.CallAttempt{
		OccurredAt: s.now().UTC(),
		SourceIP:   meta.ClientIP,
		Origin:     meta.Origin,
		UserAgent:  meta.UserAgent,
		Backend:    string(s.backend.Kind()),
	}
}

// admit runs the origin check and then the browser check, recording a rejection.
func (s *CallService) admit(attempt *model.CallAttempt, meta model.RequestMeta) error {
	origin, ok := s.origins.allowed(meta.Origin, meta.Referer)
	if !ok {
		s.logger.Warn("Rejected call request from unknown origin",
			util.String("origin", origin),
			util.String("referer", meta.Referer),
			util.SourceIP(meta.ClientIP),
		)
		s.finish(*attempt, model.OutcomeRejectedOrigin, http.StatusForbidden)
		return ErrForbiddenOrigin
	}
	attempt.Origin = origin

	if !strings.Contains(meta.UserAgent, browserMarker) {
		s.logger.Warn("Rejected call request from non-browser client",
			util.String("user_agent", meta.UserAgent),
			util.SourceIP(meta.ClientIP),
		)
		s.finish(*attempt, model.OutcomeRejectedClient, http.StatusForbidden)
		return ErrForbiddenClient
	}
	return nil
}

func (s *CallService) clean(req model.CallRequest) model.CallRequest {
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.Persona = strings.TrimSpace(req.Persona)
	req.CustomerName = util.SanitizeInput(req.CustomerName)
	req.CustomPrompt = util.SanitizeInput(req.CustomPrompt)
	req.RequestID = strings.TrimSpace(req.RequestID)
	return req
}

func (s *CallService) validateRequest(req model.CallRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Problems: []string{err.Error()}}
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fe.Field()+" is required")
		case "required_if":
			problems = append(problems, fe.Field()+" is required when persona is "+model.PersonaCustom)
		default:
			problems = append(problems, fe.Field()+" is invalid")
		}
	}
	return &ValidationError{Problems: problems}
}

func (s *CallService) notify(call backend.Call, sourceID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(model.CallNotification{
		RequestID:    call.RequestID,
		PhoneNumber:  call.PhoneNumber,
		Persona:      call.Persona,
		CustomerName: call.CustomerName,
		CustomPrompt: call.CustomPrompt,
		Backend:      string(s.backend.Kind()),
		SourceIP:     sourceID,
		RequestedAt:  s.now().UTC(),
	})
}

func (s *CallService) finish(attempt model.CallAttempt, outcome model.CallOutcome, status int) {
	attempt.Outcome = outcome
	attempt.StatusCode = status
	s.metrics.CallRequestsTotal.WithLabelValues(string(outcome)).Inc()
	s.recorder.Record(attempt)
}

func backendErrorStatus(err error) int {
	if errors.Is(err, ErrBackendUnreachable) {
		return http.StatusBadGateway
	}
	return http.StatusServiceUnavailable
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/contractgate/contractgate/internal/config"
	"github.com/contractgate/contractgate/internal/jsight"
	"github.com/contractgate/contractgate/internal/logging"
	"github.com/contractgate/contractgate/internal/observability"
	"github.com/contractgate/contractgate/internal/ratelimit"
	"github.com/google/uuid"
)

const (
	phaseRequest  = "request"
	phaseResponse = "response"

	engineUnavailable = "contract validation unavailable"
)

// Validator checks traffic against an API contract. *jsight.Engine satisfies it.
type Validator interface {
	ValidateRequest(ctx context.Context, req jsight.Request) (*jsight.ValidationError, error)
	ValidateResponse(ctx context.Context, resp jsight.Response) (*jsight.ValidationError, error)
	SerializeError(ctx context.Context, format string, verr *jsight.ValidationError) (string, error)
}

type Gateway struct {
	router      *Router
	downstreams map[string]http.Handler
	validator   Validator

	errorFormat   string
	limits        config.Limits
	rejectUnknown bool

	limiter      *ratelimit.Limiter
	ratelimitKey ratelimit.KeyType
	limitStatus  int

	logger      *slog.Logger
	decisionLog *logging.DecisionLogger
	metrics     *observability.Metrics
}

func New(cfg *config.Config, validator Validator, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	router, err := NewRouter(cfg)
	if err != nil {
		return nil, err
	}
	downstreams, err := newDownstreams(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		router:        router,
		downstreams:   downstreams,
		validator:     validator,
		errorFormat:   cfg.Engine.ErrorFormat,
		limits:        cfg.Limits,
		rejectUnknown: cfg.Server.RejectUnknownMethods,
		logger:        logger,
	}
	if g.errorFormat == "" {
		g.errorFormat = config.DefaultErrorFormat
	}
	if cfg.RateLimit.Enabled {
		g.limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		g.ratelimitKey = ratelimit.KeyType(cfg.RateLimit.Key)
		g.limitStatus = rateLimitStatus(cfg.RateLimit.StatusCode)
	}
	return g, nil
}

func (g *Gateway) SetDecisionLogger(logger *logging.DecisionLogger) {
	g.decisionLog = logger
}

func (g *Gateway) SetMetrics(metrics *observability.Metrics) {
	g.metrics = metrics
}

// SetDownstream replaces the handler behind an upstream name. The empty name
// is the stub used by routes without an upstream.
func (g *Gateway) SetDownstream(upstream string, h http.Handler) {
	g.downstreams[upstream] = h
}

// Maintain prunes idle rate limit buckets until ctx ends.
func (g *Gateway) Maintain(ctx context.Context) {
	if g.limiter == nil {
		return
	}
	interval := g.limiter.RefillWindow()
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := g.limiter.Prune(now, interval); n > 0 {
				g.logger.Debug("pruned rate limit buckets", "count", n)
			}
		}
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, downstream, ok := g.resolveRoute(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	ctx := r.Context()
	method := NormalizeMethod(r.Method)
	uri := r.URL.RequestURI()
	decision := logging.Decision{
		Timestamp: start.UTC(),
		RequestID: uuid.NewString(),
		ClientIP:  clientIP(r),
		Host:      r.Host,
		Method:    method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
		RouteID:   route.ID,
		Spec:      route.Spec,
	}
	g.logger.Info("request", "method", r.Method, "uri", uri, "ts", decision.Timestamp, "request_id", decision.RequestID)

	if exceedsHeaderLimit(r.Header, g.limits.MaxHeaderBytes) {
		g.block(w, decision, start, http.StatusRequestHeaderFieldsTooLarge, "request headers too large")
		return
	}

	if g.limiter != nil {
		key := ratelimit.Key(g.ratelimitKey, decision.ClientIP, r.URL.Path)
		if !g.limiter.Allow(key, start) {
			decision.RateLimited = true
			g.block(w, decision, start, g.limitStatus, "rate limit exceeded")
			return
		}
	}

	if method == MethodUnknown && g.rejectUnknown {
		g.block(w, decision, start, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := readBody(w, r, g.limits.MaxBodyBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			g.block(w, decision, start, http.StatusRequestEntityTooLarge, "request body too large")
		case ctx.Err() != nil:
			g.abandon(decision, start, phaseRequest)
		default:
			g.logger.Debug("read request body", "request_id", decision.RequestID, "error", err)
			g.block(w, decision, start, http.StatusBadRequest, "malformed request body")
		}
		return
	}

	// RequestValidating
	verr, err := g.validate(ctx, &decision, phaseRequest, func() (*jsight.ValidationError, error) {
		return g.validator.ValidateRequest(ctx, jsight.Request{
			SpecPath: route.Spec,
			Method:   method,
			URI:      uri,
			Headers:  requestHeaders(r),
			Body:     body,
		})
	})
	if err != nil {
		var encErr *jsight.EncodingError
		if errors.As(err, &encErr) && ctx.Err() == nil {
			verr = encodingViolation(encErr)
		} else {
			g.fail(w, decision, start, phaseRequest, err)
			return
		}
	}
	if verr != nil {
		g.reject(ctx, w, decision, start, phaseRequest, http.StatusBadRequest, verr)
		return
	}

	// Forwarding
	rec := newBufferedResponse()
	fwdCtx := ctx
	if g.limits.Timeout > 0 {
		var cancel context.CancelFunc
		fwdCtx, cancel = context.WithTimeout(ctx, g.limits.Timeout)
		defer cancel()
	}
	fwd := r.WithContext(fwdCtx)
	fwd.Body = io.NopCloser(bytes.NewReader(body))
	fwd.ContentLength = int64(len(body))

	upstreamStart := time.Now()
	downstream.ServeHTTP(rec, fwd)
	decision.UpstreamMS = time.Since(upstreamStart).Milliseconds()
	if ctx.Err() != nil {
		g.abandon(decision, start, phaseResponse)
		return
	}

	// ResponseValidating
	verr, err = g.validate(ctx, &decision, phaseResponse, func() (*jsight.ValidationError, error) {
		return g.validator.ValidateResponse(ctx, jsight.Response{
			SpecPath:   route.Spec,
			Method:     method,
			URI:        uri,
			StatusCode: rec.status,
			Headers:    jsight.HeadersFromHTTP(rec.header),
			Body:       rec.body.Bytes(),
		})
	})
	if err != nil {
		g.fail(w, decision, start, phaseResponse, err)
		return
	}
	if verr != nil {
		g.reject(ctx, w, decision, start, phaseResponse, http.StatusInternalServerError, verr)
		return
	}

	// Completed
	rec.writeTo(w)
	decision.Outcome = logging.OutcomeCompleted
	decision.StatusCode = rec.status
	g.finish(decision, start)
}

// validate runs one engine pass and times it. A pass whose client went away
// while the engine was busy comes back as the context error.
func (g *Gateway) validate(ctx context.Context, decision *logging.Decision, phase string, pass func() (*jsight.ValidationError, error)) (*jsight.ValidationError, error) {
	passStart := time.Now()
	verr, err := pass()
	elapsed := time.Since(passStart)
	decision.ValidationMS += elapsed.Milliseconds()
	g.metrics.ObserveValidation(phase, elapsed)

	if err == nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return verr, err
}

func (g *Gateway) reject(ctx context.Context, w http.ResponseWriter, decision logging.Decision, start time.Time, phase string, status int, verr *jsight.ValidationError) {
	body, contentType := g.renderViolation(ctx, verr)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)

	decision.StatusCode = status
	decision.Violation = &logging.Violation{
		Phase:      phase,
		ReportedBy: verr.ReportedBy,
		Type:       verr.Type,
		Code:       verr.Code,
		Title:      verr.Title,
		Detail:     verr.Detail,
		Trace:      verr.Trace,
	}
	if phase == phaseRequest {
		decision.Outcome = logging.OutcomeRequestRejected
	} else {
		decision.Outcome = logging.OutcomeResponseRejected
	}
	g.finish(decision, start)
}

// renderViolation serializes verr with the engine, falling back to the native
// JSON form when the engine cannot.
func (g *Gateway) renderViolation(ctx context.Context, verr *jsight.ValidationError) ([]byte, string) {
	out, err := g.validator.SerializeError(ctx, g.errorFormat, verr)
	if err == nil {
		return []byte(out), contentTypeFor(g.errorFormat)
	}

	g.logger.Warn("serialize validation error", "format", g.errorFormat, "error", err)
	data, err := json.Marshal(verr)
	if err != nil {
		return []byte(engineUnavailable), "text/plain; charset=utf-8"
	}
	return data, "application/json"
}

func (g *Gateway) fail(w http.ResponseWriter, decision logging.Decision, start time.Time, phase string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		g.abandon(decision, start, phase)
		return
	}

	g.logger.Error("validation engine failure", "phase", phase, "request_id", decision.RequestID, "error", err)
	http.Error(w, engineUnavailable, http.StatusInternalServerError)
	decision.Outcome = logging.OutcomeEngineError
	decision.StatusCode = http.StatusInternalServerError
	g.finish(decision, start)
}

func (g *Gateway) abandon(decision logging.Decision, start time.Time, phase string) {
	g.logger.Debug("client gone, request abandoned", "phase", phase, "request_id", decision.RequestID)
	decision.Outcome = logging.OutcomeAbandoned
	g.finish(decision, start)
}

func (g *Gateway) block(w http.ResponseWriter, decision logging.Decision, start time.Time, status int, msg string) {
	http.Error(w, msg, status)
	decision.Outcome = logging.OutcomeBlocked
	decision.StatusCode = status
	g.finish(decision, start)
}

func (g *Gateway) finish(decision logging.Decision, start time.Time) {
	decision.DurationMS = time.Since(start).Milliseconds()
	if g.decisionLog != nil {
		if err := g.decisionLog.Write(decision); err != nil {
			g.logger.Warn("write decision", "error", err)
		}
	}
	g.metrics.Observe(decision, string(g.ratelimitKey))
}

func (g *Gateway) resolveRoute(r *http.Request) (Route, http.Handler, bool) {
	route, ok := g.router.Match(r)
	if !ok {
		return Route{}, nil, false
	}
	downstream, ok := g.downstreams[route.Upstream]
	if !ok {
		return Route{}, nil, false
	}
	return route, downstream, true
}

// encodingViolation describes request data the engine cannot be handed.
func encodingViolation(err *jsight.EncodingError) *jsight.ValidationError {
	return &jsight.ValidationError{
		ReportedBy: "Gateway",
		Type:       "encoding_error",
		Title:      "Request cannot be validated",
		Detail:     err.Field + " " + err.Reason,
		Trace:      []string{},
	}
}

func requestHeaders(r *http.Request) []jsight.Header {
	h := r.Header
	if r.Host != "" && h.Get("Host") == "" {
		h = h.Clone()
		h.Set("Host", r.Host)
	}
	return jsight.HeadersFromHTTP(h)
}

func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if maxBytes > 0 {
		if r.ContentLength > maxBytes {
			return nil, &http.MaxBytesError{Limit: maxBytes}
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	return io.ReadAll(r.Body)
}

func contentTypeFor(format string) string {
	if format == "json" {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

func rateLimitStatus(code int) int {
	if code <= 0 {
		return http.StatusTooManyRequests
	}
	return code
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func exceedsHeaderLimit(headers http.Header, maxBytes int64) bool {
	if maxBytes <= 0 {
		return false
	}

	var total int64
	for name, values := range headers {
		for _, value := range values {
			total += int64(len(name) + len(value) + 2)
			if total > maxBytes {
				return true
			}
		}
	}

	return total > maxBytes
}

// Package toss confirms payments against the Toss Payments API.
package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/coachpo/paygate/errs"
	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/observability"
	"github.com/coachpo/paygate/internal/telemetry"
)

const (
	component = "toss"

	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api.tosspayments.com"
	confirmPath    = "/v1/payments/confirm"

	defaultTimeout      = 30 * time.Second
	maxResponseBodySize = 1 << 20
)

var tracer = otel.Tracer("github.com/coachpo/paygate/internal/infra/psp/toss")

// RetryPolicy controls how retryable PSP errors are repeated.
type RetryPolicy struct {
	InitialInterval     time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxRetries          int
}

// DefaultRetryPolicy waits about 1s then 2s between three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.1,
		MaxRetries:          2,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	return b
}

// Config captures the executor settings.
type Config struct {
	BaseURL   string
	SecretKey string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Headers are added to every request, e.g. TossPayments-Test-Code in sandbox.
	Headers map[string]string
	Retry   RetryPolicy
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = DefaultRetryPolicy().InitialInterval
	}
	if cfg.Retry.Multiplier < 1 {
		cfg.Retry.Multiplier = DefaultRetryPolicy().Multiplier
	}
	if cfg.Retry.RandomizationFactor < 0 {
		cfg.Retry.RandomizationFactor = 0
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	return cfg
}

// Option customises an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default client. Its Timeout should bound one attempt.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records PSP attempts on m.
func WithMetrics(m *telemetry.PaymentMetrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor calls the PSP confirm endpoint with retries.
type Executor struct {
	cfg      Config
	endpoint string
	auth     string
	client   *http.Client
	logger   observability.Logger
	metrics  *telemetry.PaymentMetrics
}

// NewExecutor validates cfg and constructs an Executor.
func NewExecutor(cfg Config, opts ...Option) (*Executor, error) {
	cfg = withDefaults(cfg)
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("secret key required"))
	}
	base, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("invalid base url"), errs.WithCause(err))
	}
	e := &Executor{
		cfg:      cfg,
		endpoint: base.String() + confirmPath,
		auth:     "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.SecretKey+":")),
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = observability.Or(e.logger)
	return e, nil
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// Execute confirms cmd with the PSP. Retryable errors are repeated according
// to the retry policy; the last error is returned once attempts run out.
func (e *Executor) Execute(ctx context.Context, cmd payment.ConfirmCommand) (payment.ExecutionResult, error) {
	if err := cmd.Validate(); err != nil {
		return payment.ExecutionResult{}, errs.New(component, errs.CodeInvalid, errs.WithMessage(err.Error()))
	}
	body, err := json.Marshal(confirmRequest{PaymentKey: cmd.PaymentKey, OrderID: cmd.OrderID, Amount: cmd.Amount})
	if err != nil {
		return payment.ExecutionResult{}, fmt.Errorf("toss: encode confirm request: %w", err)
	}

	attempt := 0
	operation := func() (payment.ExecutionResult, error) {
		attempt++
		started := time.Now()
		attemptCtx, span := tracer.Start(ctx, "toss.confirm", trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("payment.order_id", cmd.OrderID), attribute.Int("attempt", attempt)))
		result, err := e.confirm(attemptCtx, cmd, body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "confirm failed")
		}
		span.End()
		switch {
		case err == nil:
			e.metrics.RecordPSPAttempt(ctx, telemetry.ResultSuccess, time.Since(started))
			return result, nil
		case payment.Retryable(err):
			e.metrics.RecordPSPAttempt(ctx, telemetry.ResultRetry, time.Since(started))
			e.logger.Warn("psp confirm attempt failed",
				observability.F("order_id", cmd.OrderID),
				observability.F("attempt", attempt),
				observability.Err(err))
			return payment.ExecutionResult{}, err
		default:
			e.metrics.RecordPSPAttempt(ctx, telemetry.ResultFailure, time.Since(started))
			return payment.ExecutionResult{}, backoff.Permanent(err)
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(e.cfg.Retry.backOff()),
		backoff.WithMaxTries(uint(e.cfg.Retry.MaxRetries+1)),
	)
}

func (e *Executor) confirm(ctx context.Context, cmd payment.ConfirmCommand, body []byte) (payment.ExecutionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return payment.ExecutionResult{}, fmt.Errorf("toss: create confirm request: %w", err)
	}
	req.Header.Set("Authorization", e.auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", cmd.OrderID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return payment.ExecutionResult{}, transportError("confirm request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return payment.ExecutionResult{}, transportError("read confirm response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return payment.ExecutionResult{}, parseFailure(resp.StatusCode, raw)
	}

	var decoded confirmationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return payment.ExecutionResult{}, errs.New(component, errs.CodeProvider,
			errs.WithMessage("decode confirm response"), errs.WithHTTP(resp.StatusCode), errs.WithCause(err))
	}
	details, err := decoded.extraDetails(raw)
	if err != nil {
		return payment.ExecutionResult{}, errs.New(component, errs.CodeProvider,
			errs.WithMessage("interpret confirm response"), errs.WithHTTP(resp.StatusCode), errs.WithCause(err))
	}
	return payment.ExecutionResult{
		PaymentKey:   cmd.PaymentKey,
		OrderID:      cmd.OrderID,
		Status:       payment.StatusSuccess,
		ExtraDetails: &details,
	}, nil
}

func transportError(op string, err error) error {
	if payment.IsTimeout(err) {
		return &payment.TimeoutError{Op: "toss " + op, Err: err}
	}
	return errs.New(component, errs.CodeNetwork, errs.WithMessage(op), errs.WithCause(err))
}

func parseFailure(status int, body []byte) error {
	var failure failureResponse
	if err := json.Unmarshal(body, &failure); err != nil || strings.TrimSpace(failure.Code) == "" {
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(status)
		}
		return payment.NewPSPError("UNKNOWN", message, payment.StatusUnknown, false, status, err)
	}
	mapped := lookupCode(failure.Code)
	envelope := errs.New(component, errs.CodeProvider,
		errs.WithHTTP(status),
		errs.WithRawCode(failure.Code),
		errs.WithRawMessage(failure.Message),
	)
	return payment.NewPSPError(failure.Code, failure.Message, mapped.status, mapped.retryable, status, envelope)
}

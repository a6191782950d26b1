// Package httpserver exposes the payment HTTP API.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/observability"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	checkoutPath      = "/"
	confirmPath       = "/v1/toss/confirm"
	paymentDetailPath = "/v1/payments/:orderId"
	healthPath        = "/healthz"

	defaultServiceName = "paygate"
)

// Confirmer confirms payments.
type Confirmer interface {
	Confirm(ctx context.Context, cmd payment.ConfirmCommand) payment.ConfirmationResult
}

// Checkouter creates payment events.
type Checkouter interface {
	Checkout(ctx context.Context, cmd payment.CheckoutCommand) (payment.CheckoutResult, error)
}

// PaymentReader loads stored payments for inspection.
type PaymentReader interface {
	FindEvent(ctx context.Context, orderID string) (payment.Event, error)
	ListHistory(ctx context.Context, orderID string) ([]payment.StatusHistory, error)
}

// RateLimit configures the per-client token bucket. A zero RPS disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Deps carries the services behind the handlers.
type Deps struct {
	Confirm   Confirmer
	Checkout  Checkouter
	Payments  PaymentReader
	Logger    observability.Logger
	RateLimit RateLimit
	// ServiceName labels server spans.
	ServiceName string
	// AllowedOrigins enables CORS for the listed origins; "*" allows any.
	AllowedOrigins []string
}

type httpServer struct {
	confirm  Confirmer
	checkout Checkouter
	payments PaymentReader
	logger   observability.Logger
}

// NewHandler builds the gin engine serving the payment API.
func NewHandler(deps Deps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	logger := observability.Or(deps.Logger)
	server := &httpServer{
		confirm:  deps.Confirm,
		checkout: deps.Checkout,
		payments: deps.Payments,
		logger:   logger,
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	r.Use(otelgin.Middleware(serviceName), requestID(), accessLog(logger), recovery(logger))
	if len(deps.AllowedOrigins) > 0 {
		r.Use(corsPolicy(deps.AllowedOrigins))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	if deps.RateLimit.RPS > 0 {
		r.Use(newRateLimiter(deps.RateLimit.RPS, deps.RateLimit.Burst).handler())
	}
	r.NoRoute(func(c *gin.Context) { writeError(c, http.StatusNotFound, "not found") })
	r.NoMethod(func(c *gin.Context) { writeError(c, http.StatusMethodNotAllowed, "method not allowed") })

	r.GET(healthPath, func(c *gin.Context) { writeJSON(c, http.StatusOK, map[string]string{"status": "ok"}) })
	r.GET(checkoutPath, server.handleCheckout)
	r.POST(confirmPath, server.handleConfirm)
	r.GET(paymentDetailPath, server.handlePaymentDetail)
	return r
}

// envelope is the response body of every API route.
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (s *httpServer) handleConfirm(c *gin.Context) {
	if s.confirm == nil {
		writeError(c, http.StatusServiceUnavailable, "confirmation unavailable")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBodyBytes)
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeDecodeError(c, err)
		return
	}
	var cmd payment.ConfirmCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		writeJSON(c, http.StatusOK, envelope{Status: http.StatusOK, Data: payment.ConfirmationResult{
			Status:  payment.StatusFailure,
			Failure: &payment.Failure{Code: payment.FailureValidation, Message: "invalid request body: " + err.Error()},
		}})
		return
	}
	result := s.confirm.Confirm(c.Request.Context(), cmd)
	writeJSON(c, http.StatusOK, envelope{Status: http.StatusOK, Data: result})
}

func (s *httpServer) handleCheckout(c *gin.Context) {
	if s.checkout == nil {
		writeError(c, http.StatusServiceUnavailable, "checkout unavailable")
		return
	}
	cmd, err := checkoutCommand(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.checkout.Checkout(c.Request.Context(), cmd)
	switch {
	case errors.Is(err, payment.ErrDuplicateOrder):
		writeError(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("checkout failed", observability.Err(err))
		writeError(c, http.StatusInternalServerError, "checkout failed")
		return
	}
	writeJSON(c, http.StatusOK, envelope{Status: http.StatusOK, Data: result})
}

func checkoutCommand(c *gin.Context) (payment.CheckoutCommand, error) {
	cartID, err := int64Param(c, "cartId", 1)
	if err != nil {
		return payment.CheckoutCommand{}, err
	}
	buyerID, err := int64Param(c, "buyerId", 1)
	if err != nil {
		return payment.CheckoutCommand{}, err
	}
	var productIDs []int64
	for _, raw := range c.QueryArray("productIds") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return payment.CheckoutCommand{}, errors.New("productIds must be integers")
			}
			productIDs = append(productIDs, id)
		}
	}
	if len(productIDs) == 0 {
		return payment.CheckoutCommand{}, errors.New("productIds required")
	}
	return payment.CheckoutCommand{
		CartID:     cartID,
		BuyerID:    buyerID,
		ProductIDs: productIDs,
		Seed:       c.Query("seed"),
	}, nil
}

func int64Param(c *gin.Context, name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

type orderView struct {
	ID          int64          `json:"id"`
	SellerID    int64          `json:"sellerId"`
	ProductID   int64          `json:"productId"`
	Amount      string         `json:"amount"`
	Status      payment.Status `json:"status"`
	FailedCount int            `json:"failedCount"`
	Threshold   int            `json:"threshold"`
}

type historyView struct {
	PaymentOrderID int64          `json:"paymentOrderId"`
	PreviousStatus payment.Status `json:"previousStatus"`
	NewStatus      payment.Status `json:"newStatus"`
	Reason         string         `json:"reason"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type paymentView struct {
	OrderID       string         `json:"orderId"`
	OrderName     string         `json:"orderName"`
	BuyerID       int64          `json:"buyerId"`
	PaymentKey    string         `json:"paymentKey,omitempty"`
	Type          payment.Type   `json:"type,omitempty"`
	Method        payment.Method `json:"method,omitempty"`
	ApprovedAt    *time.Time     `json:"approvedAt,omitempty"`
	IsPaymentDone bool           `json:"isPaymentDone"`
	TotalAmount   int64          `json:"totalAmount"`
	Orders        []orderView    `json:"orders"`
	History       []historyView  `json:"history"`
}

func (s *httpServer) handlePaymentDetail(c *gin.Context) {
	if s.payments == nil {
		writeError(c, http.StatusServiceUnavailable, "payments unavailable")
		return
	}
	orderID := strings.TrimSpace(c.Param("orderId"))
	event, err := s.payments.FindEvent(c.Request.Context(), orderID)
	if errors.Is(err, payment.ErrEventNotFound) {
		writeError(c, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		s.logger.Error("load payment failed", observability.F("order_id", orderID), observability.Err(err))
		writeError(c, http.StatusInternalServerError, "load payment failed")
		return
	}
	history, err := s.payments.ListHistory(c.Request.Context(), orderID)
	if err != nil {
		s.logger.Error("load payment history failed", observability.F("order_id", orderID), observability.Err(err))
		writeError(c, http.StatusInternalServerError, "load payment failed")
		return
	}
	writeJSON(c, http.StatusOK, envelope{Status: http.StatusOK, Data: buildPaymentView(event, history)})
}

func buildPaymentView(event payment.Event, history []payment.StatusHistory) paymentView {
	view := paymentView{
		OrderID:       event.OrderID,
		OrderName:     event.OrderName,
		BuyerID:       event.BuyerID,
		PaymentKey:    event.PaymentKey,
		Type:          event.Type,
		Method:        event.Method,
		ApprovedAt:    event.ApprovedAt,
		IsPaymentDone: event.IsPaymentDone,
		TotalAmount:   event.TotalAmount(),
		Orders:        make([]orderView, 0, len(event.Orders)),
		History:       make([]historyView, 0, len(history)),
	}
	for _, o := range event.Orders {
		view.Orders = append(view.Orders, orderView{
			ID:          o.ID,
			SellerID:    o.SellerID,
			ProductID:   o.ProductID,
			Amount:      o.Amount.String(),
			Status:      o.Status,
			FailedCount: o.FailedCount,
			Threshold:   o.Threshold,
		})
	}
	for _, h := range history {
		view.History = append(view.History, historyView{
			PaymentOrderID: h.PaymentOrderID,
			PreviousStatus: h.PreviousStatus,
			NewStatus:      h.NewStatus,
			Reason:         h.Reason,
			CreatedAt:      h.CreatedAt,
		})
	}
	return view
}

func writeDecodeError(c *gin.Context, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(c, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
}

func writeJSON(c *gin.Context, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/json", []byte(`{"status":500,"message":"encode response","data":null}`))
		return
	}
	c.Data(status, "application/json", body)
}

func writeError(c *gin.Context, status int, message string) {
	writeJSON(c, status, envelope{Status: status, Message: message})
}

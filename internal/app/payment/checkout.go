package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/coachpo/paygate/internal/domain/payment"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
	"github.com/coachpo/paygate/internal/observability"
)

// ProductLoader resolves the products of a cart.
type ProductLoader interface {
	Products(ctx context.Context, cartID int64, productIDs []int64) ([]payment.Product, error)
}

// CheckoutService creates payment events from carts.
type CheckoutService struct {
	store    paymentstore.Store
	products ProductLoader
	logger   observability.Logger
}

// NewCheckoutService constructs a CheckoutService.
func NewCheckoutService(store paymentstore.Store, products ProductLoader, logger observability.Logger) *CheckoutService {
	return &CheckoutService{store: store, products: products, logger: observability.Or(logger)}
}

// Checkout stores one event with an order per product. The order id is
// derived from cmd.Seed, so repeating a seed fails with
// payment.ErrDuplicateOrder.
func (s *CheckoutService) Checkout(ctx context.Context, cmd payment.CheckoutCommand) (payment.CheckoutResult, error) {
	if len(cmd.ProductIDs) == 0 {
		return payment.CheckoutResult{}, fmt.Errorf("checkout: at least one product required")
	}
	products, err := s.products.Products(ctx, cmd.CartID, cmd.ProductIDs)
	if err != nil {
		return payment.CheckoutResult{}, fmt.Errorf("checkout: load products: %w", err)
	}
	if len(products) == 0 {
		return payment.CheckoutResult{}, fmt.Errorf("checkout: cart %d has no products", cmd.CartID)
	}

	orderID := payment.IdempotencyKey(cmd.Seed)
	names := make([]string, 0, len(products))
	event := payment.Event{
		BuyerID: cmd.BuyerID,
		OrderID: orderID,
		Orders:  make([]payment.Order, 0, len(products)),
	}
	for _, p := range products {
		names = append(names, p.Name)
		event.Orders = append(event.Orders, payment.Order{
			SellerID:  p.SellerID,
			ProductID: p.ID,
			OrderID:   orderID,
			Amount:    p.Amount,
			Status:    payment.StatusNotStarted,
		})
	}
	event.OrderName = strings.Join(names, ", ")

	if err := s.store.Save(ctx, event); err != nil {
		return payment.CheckoutResult{}, fmt.Errorf("checkout %s: %w", orderID, err)
	}
	s.logger.Info("payment event created",
		observability.F("order_id", orderID),
		observability.F("orders", len(event.Orders)))
	return payment.CheckoutResult{
		OrderID:   orderID,
		OrderName: event.OrderName,
		Amount:    event.TotalAmount(),
	}, nil
}

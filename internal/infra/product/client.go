// Package product loads catalog data for checkout.
package product

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coachpo/paygate/internal/domain/payment"
)

const (
	mockUnitPrice = 10000
	mockQuantity  = 2
	mockSellerID  = 1
)

// MockClient fabricates products from their ids. It stands in for the
// catalog service until one exists.
type MockClient struct{}

// NewMockClient constructs a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Products returns one product per id in request order.
func (c *MockClient) Products(ctx context.Context, cartID int64, productIDs []int64) ([]payment.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	products := make([]payment.Product, 0, len(productIDs))
	for _, id := range productIDs {
		if id <= 0 {
			return nil, fmt.Errorf("product: invalid product id %d in cart %d", id, cartID)
		}
		products = append(products, payment.Product{
			ID:       id,
			Amount:   decimal.NewFromInt(id * mockUnitPrice),
			Quantity: mockQuantity,
			Name:     fmt.Sprintf("test_product_%d", id),
			SellerID: mockSellerID,
		})
	}
	return products, nil
}
